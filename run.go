package langsmith

import (
	"time"
)

// RunType classifies what a run measured.
type RunType string

const (
	RunTypeTool      RunType = "tool"
	RunTypeChain     RunType = "chain"
	RunTypeLLM       RunType = "llm"
	RunTypeRetriever RunType = "retriever"
	RunTypeEmbedding RunType = "embedding"
	RunTypePrompt    RunType = "prompt"
	RunTypeParser    RunType = "parser"
)

// ValidRunType reports whether s is one of the accepted run types.
func ValidRunType(s string) bool {
	switch RunType(s) {
	case RunTypeTool, RunTypeChain, RunTypeLLM, RunTypeRetriever,
		RunTypeEmbedding, RunTypePrompt, RunTypeParser:
		return true
	}
	return false
}

// RunEvent is a timestamped marker attached to a run, such as a streamed
// token or a retry notice.
type RunEvent struct {
	Name   string                 `json:"name"`
	Time   time.Time              `json:"time"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Attachment is a binary payload shipped alongside a run. Attachments only
// travel over the multipart endpoint; the JSON endpoint has no place for
// them and drops them with a debug log.
type Attachment struct {
	MimeType string
	Data     []byte
}

// RunCreate is the payload for creating a run. ID, TraceID and DottedOrder
// are assigned by the client when left empty (see Client.CreateRun);
// RunTree fills them for you.
type RunCreate struct {
	ID          string  `json:"id,omitempty"`
	TraceID     string  `json:"trace_id,omitempty"`
	DottedOrder string  `json:"dotted_order,omitempty"`
	ParentRunID string  `json:"parent_run_id,omitempty"`
	Name        string  `json:"name"`
	RunType     RunType `json:"run_type"`

	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`

	Inputs  map[string]interface{} `json:"inputs,omitempty"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
	Error   string                 `json:"error,omitempty"`

	Extra  map[string]interface{} `json:"extra,omitempty"`
	Tags   []string               `json:"tags,omitempty"`
	Events []RunEvent             `json:"events,omitempty"`

	// SessionName overrides the client's project for this run.
	SessionName string `json:"session_name,omitempty"`

	Attachments map[string]Attachment `json:"-"`
}

// RunUpdate is the payload for patching a run, typically at completion.
// Zero-valued fields are left untouched server-side. Set TraceID when
// patching roots: it is how the client recognizes a root finalization
// for BlockOnRootRunFinalization.
type RunUpdate struct {
	TraceID     string `json:"trace_id,omitempty"`
	DottedOrder string `json:"dotted_order,omitempty"`
	ParentRunID string `json:"parent_run_id,omitempty"`

	EndTime time.Time `json:"end_time,omitempty"`

	Inputs  map[string]interface{} `json:"inputs,omitempty"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
	Error   string                 `json:"error,omitempty"`

	Extra  map[string]interface{} `json:"extra,omitempty"`
	Tags   []string               `json:"tags,omitempty"`
	Events []RunEvent             `json:"events,omitempty"`

	Attachments map[string]Attachment `json:"-"`
}

// Wire times are integer milliseconds since the Unix epoch.

func timeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// toPayload flattens a RunCreate into the wire object for batch requests.
// Payload fields coming from user code (inputs, outputs, extra, events) are
// sanitized here so cycles and non-JSON values never reach the encoder.
func (r *RunCreate) toPayload(project string) map[string]interface{} {
	payload := map[string]interface{}{
		"id":         r.ID,
		"trace_id":   r.TraceID,
		"name":       r.Name,
		"run_type":   string(r.RunType),
		"start_time": timeToMillis(r.StartTime),
	}
	if r.DottedOrder != "" {
		payload["dotted_order"] = r.DottedOrder
	}
	if r.ParentRunID != "" {
		payload["parent_run_id"] = r.ParentRunID
	}
	if !r.EndTime.IsZero() {
		payload["end_time"] = timeToMillis(r.EndTime)
	}
	if r.Inputs != nil {
		payload["inputs"] = sanitizeAny(r.Inputs)
	}
	if r.Outputs != nil {
		payload["outputs"] = sanitizeAny(r.Outputs)
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	if r.Extra != nil {
		payload["extra"] = sanitizeAny(r.Extra)
	}
	if len(r.Tags) > 0 {
		payload["tags"] = r.Tags
	}
	if len(r.Events) > 0 {
		payload["events"] = eventPayloads(r.Events)
	}
	session := r.SessionName
	if session == "" {
		session = project
	}
	if session != "" {
		payload["session_name"] = session
	}
	return payload
}

// toPayload flattens a RunUpdate into the wire object for batch requests.
// The run ID is injected by the queue, which knows it from the enqueue call.
func (r *RunUpdate) toPayload() map[string]interface{} {
	payload := map[string]interface{}{}
	if r.TraceID != "" {
		payload["trace_id"] = r.TraceID
	}
	if r.DottedOrder != "" {
		payload["dotted_order"] = r.DottedOrder
	}
	if r.ParentRunID != "" {
		payload["parent_run_id"] = r.ParentRunID
	}
	if !r.EndTime.IsZero() {
		payload["end_time"] = timeToMillis(r.EndTime)
	}
	if r.Inputs != nil {
		payload["inputs"] = sanitizeAny(r.Inputs)
	}
	if r.Outputs != nil {
		payload["outputs"] = sanitizeAny(r.Outputs)
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	if r.Extra != nil {
		payload["extra"] = sanitizeAny(r.Extra)
	}
	if len(r.Tags) > 0 {
		payload["tags"] = r.Tags
	}
	if len(r.Events) > 0 {
		payload["events"] = eventPayloads(r.Events)
	}
	return payload
}

func eventPayloads(events []RunEvent) []interface{} {
	out := make([]interface{}, len(events))
	for i, ev := range events {
		entry := map[string]interface{}{
			"name": ev.Name,
			"time": timeToMillis(ev.Time),
		}
		for k, v := range ev.Fields {
			if k != "name" && k != "time" {
				entry[k] = sanitizeAny(v)
			}
		}
		out[i] = entry
	}
	return out
}
