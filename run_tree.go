package langsmith

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunTree builds a trace incrementally: create a root, hang children off
// it, end runs as work completes, and Post/Patch to enqueue them. All
// methods are safe for concurrent use, so parallel steps of a pipeline can
// share one tree.
type RunTree struct {
	client *Client

	mu sync.Mutex

	id          string
	name        string
	runType     RunType
	traceID     string
	parentRunID string
	dottedOrder string
	project     string

	startTime time.Time
	endTime   time.Time

	inputs  map[string]interface{}
	outputs map[string]interface{}
	runErr  string

	extra       map[string]interface{}
	tags        []string
	events      []RunEvent
	attachments map[string]Attachment

	// childCount orders this run's children; each child's dotted-order
	// segment folds its index into the microsecond digits.
	childCount int

	posted bool
}

// RunTreeOption customizes a run at creation time.
type RunTreeOption func(*RunTree) error

// WithRunName sets the run's display name.
func WithRunName(name string) RunTreeOption {
	return func(rt *RunTree) error {
		rt.name = name
		return nil
	}
}

// WithRunType sets the run's type. Defaults to chain.
func WithRunType(runType RunType) RunTreeOption {
	return func(rt *RunTree) error {
		if !ValidRunType(string(runType)) {
			return &ClientError{
				Op:      "WithRunType",
				Kind:    "run",
				Message: fmt.Sprintf("unknown run type %q", runType),
				Err:     ErrInvalidRunType,
			}
		}
		rt.runType = runType
		return nil
	}
}

// WithRunID pins the run's ID instead of generating one.
func WithRunID(id string) RunTreeOption {
	return func(rt *RunTree) error {
		if _, err := uuid.Parse(id); err != nil {
			return &ClientError{
				Op:      "WithRunID",
				Kind:    "run",
				Message: fmt.Sprintf("run ID is not a UUID: %q", id),
				Err:     ErrInvalidConfiguration,
			}
		}
		rt.id = id
		return nil
	}
}

// WithRunInputs sets the run's inputs.
func WithRunInputs(inputs map[string]interface{}) RunTreeOption {
	return func(rt *RunTree) error {
		rt.inputs = inputs
		return nil
	}
}

// WithRunStartTime pins the run's start time instead of using now.
func WithRunStartTime(t time.Time) RunTreeOption {
	return func(rt *RunTree) error {
		rt.startTime = t
		return nil
	}
}

// WithRunTags appends tags to the run.
func WithRunTags(tags ...string) RunTreeOption {
	return func(rt *RunTree) error {
		rt.tags = append(rt.tags, tags...)
		return nil
	}
}

// WithRunExtra merges key-value pairs into the run's extra payload.
func WithRunExtra(extra map[string]interface{}) RunTreeOption {
	return func(rt *RunTree) error {
		if rt.extra == nil {
			rt.extra = make(map[string]interface{}, len(extra))
		}
		for k, v := range extra {
			rt.extra[k] = v
		}
		return nil
	}
}

// WithRunMetadata merges key-value pairs into extra.metadata, the slot the
// UI surfaces as run metadata.
func WithRunMetadata(metadata map[string]interface{}) RunTreeOption {
	return func(rt *RunTree) error {
		if rt.extra == nil {
			rt.extra = make(map[string]interface{})
		}
		meta, _ := rt.extra["metadata"].(map[string]interface{})
		if meta == nil {
			meta = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			meta[k] = v
		}
		rt.extra["metadata"] = meta
		return nil
	}
}

// WithRunProject files the run under a project other than the client's.
func WithRunProject(project string) RunTreeOption {
	return func(rt *RunTree) error {
		rt.project = project
		return nil
	}
}

// NewRunTree creates a root run. Its trace ID is its own ID and its dotted
// order is a single segment.
func NewRunTree(client *Client, opts ...RunTreeOption) (*RunTree, error) {
	rt := &RunTree{
		client:  client,
		name:    "run",
		runType: RunTypeChain,
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	if rt.id == "" {
		rt.id = uuid.NewString()
	}
	if rt.startTime.IsZero() {
		rt.startTime = time.Now().UTC()
	}
	rt.traceID = rt.id
	rt.dottedOrder = EncodeDottedOrder(rt.startTime, rt.id, 0)
	return rt, nil
}

// CreateChild creates a run nested under this one. The child inherits the
// trace ID and project and extends the dotted order by one segment.
func (rt *RunTree) CreateChild(opts ...RunTreeOption) (*RunTree, error) {
	child := &RunTree{
		client:  rt.client,
		name:    "run",
		runType: RunTypeChain,
		project: rt.project,
	}
	for _, opt := range opts {
		if err := opt(child); err != nil {
			return nil, err
		}
	}
	if child.id == "" {
		child.id = uuid.NewString()
	}
	if child.startTime.IsZero() {
		child.startTime = time.Now().UTC()
	}

	rt.mu.Lock()
	order := rt.childCount
	rt.childCount++
	parentOrder := rt.dottedOrder
	child.traceID = rt.traceID
	child.parentRunID = rt.id
	rt.mu.Unlock()

	child.dottedOrder = AppendDottedOrder(parentOrder, child.startTime, child.id, order)
	return child, nil
}

// End marks the run finished now with the given outputs and error.
func (rt *RunTree) End(outputs map[string]interface{}, runErr error) {
	rt.EndAt(time.Now().UTC(), outputs, runErr)
}

// EndAt marks the run finished at t with the given outputs and error.
// Calling it again overwrites the previous completion.
func (rt *RunTree) EndAt(t time.Time, outputs map[string]interface{}, runErr error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.endTime = t
	rt.outputs = outputs
	if runErr != nil {
		rt.runErr = runErr.Error()
	} else {
		rt.runErr = ""
	}
}

// AddEvent appends a timestamped event to the run.
func (rt *RunTree) AddEvent(event RunEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.events = append(rt.events, event)
}

// AddMetadata merges key-value pairs into extra.metadata.
func (rt *RunTree) AddMetadata(metadata map[string]interface{}) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.extra == nil {
		rt.extra = make(map[string]interface{})
	}
	meta, _ := rt.extra["metadata"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		meta[k] = v
	}
	rt.extra["metadata"] = meta
}

// AddTags appends tags to the run.
func (rt *RunTree) AddTags(tags ...string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.tags = append(rt.tags, tags...)
}

// AddAttachment attaches a named binary payload to the run. Attachments
// ship only when the server supports the multipart endpoint.
func (rt *RunTree) AddAttachment(name string, attachment Attachment) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.attachments == nil {
		rt.attachments = make(map[string]Attachment)
	}
	rt.attachments[name] = attachment
}

// Post enqueues the run's creation. A run posts at most once; posting
// again would queue a duplicate create, so it fails with ErrAlreadyPosted.
// Runs rebuilt from propagation headers count as posted by their origin
// service.
func (rt *RunTree) Post(ctx context.Context) error {
	rt.mu.Lock()
	if rt.posted {
		rt.mu.Unlock()
		return &ClientError{Op: "run_tree.post", Kind: "run", ID: rt.id, Err: ErrAlreadyPosted}
	}
	rt.posted = true
	rt.mu.Unlock()

	return rt.client.CreateRun(ctx, rt.buildCreate())
}

// buildCreate snapshots the run as a creation payload.
func (rt *RunTree) buildCreate() *RunCreate {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return &RunCreate{
		ID:          rt.id,
		TraceID:     rt.traceID,
		DottedOrder: rt.dottedOrder,
		ParentRunID: rt.parentRunID,
		Name:        rt.name,
		RunType:     rt.runType,
		StartTime:   rt.startTime,
		EndTime:     rt.endTime,
		Inputs:      rt.inputs,
		Outputs:     rt.outputs,
		Error:       rt.runErr,
		Extra:       rt.extra,
		Tags:        append([]string(nil), rt.tags...),
		Events:      append([]RunEvent(nil), rt.events...),
		SessionName: rt.project,
		Attachments: rt.attachments,
	}
}

// Patch enqueues the run's completion. Call after End (or EndAt).
func (rt *RunTree) Patch(ctx context.Context) error {
	return rt.client.UpdateRun(ctx, rt.id, rt.buildUpdate())
}

// buildUpdate snapshots the run as a patch payload.
func (rt *RunTree) buildUpdate() *RunUpdate {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return &RunUpdate{
		TraceID:     rt.traceID,
		DottedOrder: rt.dottedOrder,
		ParentRunID: rt.parentRunID,
		EndTime:     rt.endTime,
		Outputs:     rt.outputs,
		Error:       rt.runErr,
		Extra:       rt.extra,
		Tags:        append([]string(nil), rt.tags...),
		Events:      append([]RunEvent(nil), rt.events...),
		Attachments: rt.attachments,
	}
}

// ID returns the run's ID.
func (rt *RunTree) ID() string { return rt.id }

// TraceID returns the root run's ID.
func (rt *RunTree) TraceID() string { return rt.traceID }

// ParentRunID returns the parent run's ID, empty for roots.
func (rt *RunTree) ParentRunID() string { return rt.parentRunID }

// DottedOrder returns the run's position in the trace.
func (rt *RunTree) DottedOrder() string { return rt.dottedOrder }

// Name returns the run's display name.
func (rt *RunTree) Name() string { return rt.name }

// Project returns the run's project override, empty when the run follows
// the client's project.
func (rt *RunTree) Project() string { return rt.project }

// StartTime returns when the run started.
func (rt *RunTree) StartTime() time.Time { return rt.startTime }

// EndTime returns when the run ended, zero while it is still open.
func (rt *RunTree) EndTime() time.Time {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.endTime
}

// Tags returns a copy of the run's tags.
func (rt *RunTree) Tags() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.tags...)
}

// Extra returns a copy of the run's extra map.
func (rt *RunTree) Extra() map[string]interface{} {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	extra := make(map[string]interface{}, len(rt.extra))
	for k, v := range rt.extra {
		extra[k] = v
	}
	return extra
}

// IsRoot reports whether this run starts its trace.
func (rt *RunTree) IsRoot() bool { return rt.parentRunID == "" }
