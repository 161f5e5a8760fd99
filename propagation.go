package langsmith

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/baggage"
)

// Cross-service propagation headers. A service that receives them can
// continue the caller's trace; see RunTreeFromHeaders.
const (
	// TraceHeader carries the calling run's dotted order.
	TraceHeader = "langsmith-trace"

	// BaggageHeader carries trace annotations as W3C baggage.
	BaggageHeader = "baggage"
)

// Baggage member keys used within the baggage header.
const (
	baggageMetadataKey = "langsmith-metadata"
	baggageTagsKey     = "langsmith-tags"
	baggageProjectKey  = "langsmith-project"
)

// ToHeaders renders the run's identity as propagation headers for an
// outgoing request. The dotted order travels in langsmith-trace; metadata,
// tags and project travel as W3C baggage members.
func (rt *RunTree) ToHeaders() map[string]string {
	rt.mu.Lock()
	dottedOrder := rt.dottedOrder
	project := rt.project
	tags := append([]string(nil), rt.tags...)
	var metadata map[string]interface{}
	if rt.extra != nil {
		metadata, _ = rt.extra["metadata"].(map[string]interface{})
	}
	rt.mu.Unlock()

	headers := map[string]string{
		TraceHeader: dottedOrder,
	}
	if project == "" && rt.client != nil {
		project = rt.client.config.Project
	}

	var members []baggage.Member
	if len(metadata) > 0 {
		members = appendMember(members, baggageMetadataKey, string(safeMarshal(metadata)))
	}
	if len(tags) > 0 {
		members = appendMember(members, baggageTagsKey, strings.Join(tags, ","))
	}
	if project != "" {
		members = appendMember(members, baggageProjectKey, project)
	}
	if len(members) > 0 {
		if bag, err := baggage.New(members...); err == nil && bag.Len() > 0 {
			headers[BaggageHeader] = bag.String()
		}
	}
	return headers
}

// appendMember adds a raw-valued baggage member, skipping values the W3C
// grammar cannot carry.
func appendMember(members []baggage.Member, key, value string) []baggage.Member {
	member, err := baggage.NewMemberRaw(key, value)
	if err != nil {
		return members
	}
	return append(members, member)
}

// InjectHeaders writes the run's propagation headers onto an outgoing
// request's header set.
func (rt *RunTree) InjectHeaders(h http.Header) {
	for k, v := range rt.ToHeaders() {
		h.Set(k, v)
	}
}

// RunTreeFromHeaders reconstructs the calling service's run from incoming
// request headers so this service's runs join the same trace. The returned
// tree is headless: it represents the remote parent, is never posted from
// here, and exists to parent children.
//
// Returns ok=false when the headers carry no trace.
func RunTreeFromHeaders(client *Client, h http.Header) (*RunTree, bool, error) {
	raw := h.Get(TraceHeader)
	if raw == "" {
		return nil, false, nil
	}

	info, err := ParseDottedOrder(raw)
	if err != nil {
		return nil, false, fmt.Errorf("bad %s header: %w", TraceHeader, err)
	}

	rt := &RunTree{
		client:      client,
		name:        "remote-parent",
		runType:     RunTypeChain,
		id:          info.RunID,
		traceID:     info.TraceID,
		parentRunID: info.ParentRunID,
		dottedOrder: raw,
		startTime:   info.StartTime,
		posted:      true,
	}

	if bagHeader := h.Get(BaggageHeader); bagHeader != "" {
		bag, err := baggage.Parse(bagHeader)
		if err == nil {
			if v := bag.Member(baggageMetadataKey).Value(); v != "" {
				var metadata map[string]interface{}
				if err := json.Unmarshal([]byte(v), &metadata); err == nil && len(metadata) > 0 {
					rt.extra = map[string]interface{}{"metadata": metadata}
				}
			}
			if v := bag.Member(baggageTagsKey).Value(); v != "" {
				rt.tags = strings.Split(v, ",")
			}
			if v := bag.Member(baggageProjectKey).Value(); v != "" {
				rt.project = v
			}
		}
	}

	return rt, true, nil
}
