package langsmith

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// A dotted order encodes a run's position in its trace as a "."-joined path
// of segments, one per ancestor, root first. Each segment is a fixed-width
// UTC timestamp followed by the run's UUID:
//
//	20231215T103000123456Zf47ac10b-58cc-4372-a567-0e02b2c3d479
//
// The timestamp carries millisecond and microsecond components; the
// microsecond component absorbs a per-parent execution order so that
// siblings created in the same microsecond still sort deterministically.
// Lexicographic ordering of dotted orders is exactly depth-first trace
// order, which is what the ingest API indexes by.

const (
	// dottedTimeLen is the fixed segment timestamp width:
	// 20060102T150405 + 3 millisecond digits + 3 microsecond digits + "Z".
	dottedTimeLen = 22

	dottedTimeLayout = "20060102T150405"

	uuidLen = 36
)

// DottedOrderInfo is the identity a dotted order encodes.
type DottedOrderInfo struct {
	// RunID is the run the dotted order belongs to (last segment).
	RunID string

	// TraceID is the root run's ID (first segment).
	TraceID string

	// ParentRunID is the immediate parent's ID, empty for roots.
	ParentRunID string

	// StartTime is the run's start time as encoded in its segment.
	StartTime time.Time

	// Depth is the number of segments (1 for roots).
	Depth int
}

// EncodeDottedOrder renders one dotted-order segment for a run started at t.
// executionOrder is the run's index among its siblings and is folded into
// the microsecond digits so equal-timestamp siblings remain ordered.
func EncodeDottedOrder(t time.Time, runID string, executionOrder int) string {
	t = t.UTC()
	nanos := t.Nanosecond()
	millis := nanos / int(time.Millisecond)
	micros := (nanos / int(time.Microsecond)) % 1000
	if executionOrder > 0 {
		micros = (micros + executionOrder) % 1000
	}
	return t.Format(dottedTimeLayout) + fmt.Sprintf("%03d%03dZ", millis, micros) + runID
}

// AppendDottedOrder extends a parent's dotted order with a child segment.
// An empty parent order yields a root segment.
func AppendDottedOrder(parentOrder string, t time.Time, runID string, executionOrder int) string {
	segment := EncodeDottedOrder(t, runID, executionOrder)
	if parentOrder == "" {
		return segment
	}
	return parentOrder + "." + segment
}

// ParseDottedOrder decodes a dotted order back into the identifiers it
// carries. The first segment names the trace, the last the run itself,
// and the second-to-last the parent.
func ParseDottedOrder(dottedOrder string) (*DottedOrderInfo, error) {
	if dottedOrder == "" {
		return nil, &ClientError{
			Op:   "ParseDottedOrder",
			Kind: "run",
			Err:  ErrInvalidDottedOrder,
		}
	}

	segments := strings.Split(dottedOrder, ".")
	ids := make([]string, len(segments))
	var lastStart time.Time
	for i, seg := range segments {
		start, id, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}
		ids[i] = id
		lastStart = start
	}

	info := &DottedOrderInfo{
		RunID:     ids[len(ids)-1],
		TraceID:   ids[0],
		StartTime: lastStart,
		Depth:     len(ids),
	}
	if len(ids) > 1 {
		info.ParentRunID = ids[len(ids)-2]
	}
	return info, nil
}

// parseSegment splits one segment into its start time and run ID.
func parseSegment(segment string) (time.Time, string, error) {
	if len(segment) < dottedTimeLen+uuidLen {
		return time.Time{}, "", &ClientError{
			Op:      "ParseDottedOrder",
			Kind:    "run",
			Message: fmt.Sprintf("segment too short: %q", segment),
			Err:     ErrInvalidDottedOrder,
		}
	}
	ts := segment[:dottedTimeLen]
	id := segment[dottedTimeLen:]

	if ts[dottedTimeLen-1] != 'Z' {
		return time.Time{}, "", &ClientError{
			Op:      "ParseDottedOrder",
			Kind:    "run",
			Message: fmt.Sprintf("segment timestamp not UTC-terminated: %q", ts),
			Err:     ErrInvalidDottedOrder,
		}
	}

	base, err := time.Parse(dottedTimeLayout, ts[:len(dottedTimeLayout)])
	if err != nil {
		return time.Time{}, "", &ClientError{
			Op:      "ParseDottedOrder",
			Kind:    "run",
			Message: fmt.Sprintf("bad segment timestamp: %q", ts),
			Err:     ErrInvalidDottedOrder,
		}
	}

	var millis, micros int
	if _, err := fmt.Sscanf(ts[len(dottedTimeLayout):dottedTimeLen-1], "%3d%3d", &millis, &micros); err != nil {
		return time.Time{}, "", &ClientError{
			Op:      "ParseDottedOrder",
			Kind:    "run",
			Message: fmt.Sprintf("bad segment subsecond digits: %q", ts),
			Err:     ErrInvalidDottedOrder,
		}
	}

	if _, err := uuid.Parse(id); err != nil {
		return time.Time{}, "", &ClientError{
			Op:      "ParseDottedOrder",
			Kind:    "run",
			Message: fmt.Sprintf("segment run ID is not a UUID: %q", id),
			Err:     ErrInvalidDottedOrder,
		}
	}

	start := base.Add(time.Duration(millis)*time.Millisecond + time.Duration(micros)*time.Microsecond)
	return start, id, nil
}

// rewriteOp enumerates the dotted-order rewrite kinds.
type rewriteOp int

const (
	rewriteRename rewriteOp = iota
	rewriteReparent
	rewriteDelete
)

// RewriteAction is one edit to apply to the dotted orders of a trace,
// produced when an external tree (for example an OpenTelemetry span tree)
// is merged into a trace after the fact. Actions compose left to right
// through ApplyRewrites.
type RewriteAction struct {
	op rewriteOp

	// runID is the run the action targets.
	runID string

	// targetID replaces runID's occurrences for rename actions.
	targetID string

	// parentOrder is the new ancestor path for reparent actions.
	parentOrder string
}

// RenameAction replaces every occurrence of sourceID in a dotted order
// with targetID. Renaming a root also renames the trace.
func RenameAction(sourceID, targetID string) RewriteAction {
	return RewriteAction{op: rewriteRename, runID: sourceID, targetID: targetID}
}

// ReparentAction moves runID (and so its whole subtree) under the node
// whose dotted order is parentOrder. An empty parentOrder makes the run
// a root.
func ReparentAction(runID, parentOrder string) RewriteAction {
	return RewriteAction{op: rewriteReparent, runID: runID, parentOrder: parentOrder}
}

// DeleteAction removes runID from the tree. Descendants splice up to the
// deleted run's parent; the run's own dotted order resolves to gone.
func DeleteAction(runID string) RewriteAction {
	return RewriteAction{op: rewriteDelete, runID: runID}
}

// ApplyRewrites applies actions to one run's dotted order, left to right.
// Actions that do not touch any segment of this dotted order are no-ops,
// so one action list can be applied across a whole trace. The boolean is
// false when a delete removed this run itself.
func ApplyRewrites(dottedOrder string, actions []RewriteAction) (string, bool) {
	order := dottedOrder
	for _, action := range actions {
		if order == "" {
			return "", false
		}
		segments := strings.Split(order, ".")
		idx := segmentIndexOf(segments, action.runID)
		if idx < 0 {
			continue
		}
		switch action.op {
		case rewriteRename:
			seg := segments[idx]
			segments[idx] = seg[:dottedTimeLen] + action.targetID
			order = strings.Join(segments, ".")
		case rewriteReparent:
			subtree := strings.Join(segments[idx:], ".")
			if action.parentOrder == "" {
				order = subtree
			} else {
				order = action.parentOrder + "." + subtree
			}
		case rewriteDelete:
			if idx == len(segments)-1 {
				return "", false
			}
			order = strings.Join(append(segments[:idx:idx], segments[idx+1:]...), ".")
		}
	}
	return order, true
}

// segmentIndexOf finds the segment carrying the given run ID.
func segmentIndexOf(segments []string, runID string) int {
	for i, seg := range segments {
		if len(seg) >= dottedTimeLen+uuidLen && seg[dottedTimeLen:] == runID {
			return i
		}
	}
	return -1
}
