package langsmith

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/langchain-ai/langsmith-go/promptcache"
)

// Client ships run traces to a LangSmith-compatible ingest API. Runs are
// queued, coalesced and sent in batches by background workers; CreateRun
// and UpdateRun return as soon as the operation is queued and never
// surface delivery errors. Use Flush to drain on demand and Close before
// exit. A Client is safe for concurrent use.
type Client struct {
	config    *Config
	logger    Logger
	caller    *caller
	transport *transport
	prober    *infoProber
	batcher   *batcher
	sampler   *sampler

	promptStore promptcache.Store

	closed atomic.Bool
}

// NewClient builds a Client from defaults, the optional config file named
// by LANGSMITH_CONFIG_PATH, environment variables, and options, in that
// order of precedence.
func NewClient(opts ...Option) (*Client, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = newStdLogger()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.OTEL.Enabled {
		httpClient = &http.Client{
			Transport:     otelhttp.NewTransport(httpClient.Transport),
			CheckRedirect: httpClient.CheckRedirect,
			Jar:           httpClient.Jar,
			Timeout:       httpClient.Timeout,
		}
	}

	c := &Client{
		config: cfg,
		logger: logger,
	}
	c.caller = newCaller(cfg, httpClient, logger)
	c.transport = newTransport(cfg, c.caller, logger)
	c.prober = newInfoProber(cfg.Endpoint, cfg.APIKey, cfg.HTTP.InfoTimeout, httpClient, logger)
	c.batcher = newBatcher(cfg, c.transport, c.prober, logger)
	c.sampler = newSampler(cfg.Batch.SamplingRate)

	switch {
	case cfg.PromptCacheDisabled:
		// no store: every prompt pull goes upstream
	case cfg.PromptStore != nil:
		c.promptStore = cfg.PromptStore
	default:
		c.promptStore = promptcache.Shared()
	}

	logger.Debug("LangSmith client initialized", map[string]interface{}{
		"operation": "client_init",
		"endpoint":  cfg.Endpoint,
		"project":   cfg.Project,
		"api_key":   maskKey(cfg.APIKey),
		"tracing":   cfg.TracingEnabled,
	})
	return c, nil
}

// CreateRun queues a run creation. Missing identity fields are assigned
// for root runs: a fresh ID, trace ID equal to the run ID, and the root
// dotted order. Child runs must arrive with their trace linkage already
// set, which RunTree does for you.
//
// Returns nil without queueing when tracing is disabled or the run's trace
// was sampled out. Delivery errors never surface here; see Flush.
func (c *Client) CreateRun(ctx context.Context, run *RunCreate) error {
	if !c.config.TracingEnabled {
		return nil
	}
	if c.closed.Load() {
		return &ClientError{Op: "client.create_run", Kind: "ingest", Err: ErrClosed}
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}
	if run.RunType == "" {
		run.RunType = RunTypeChain
	}
	if !ValidRunType(string(run.RunType)) {
		return &ClientError{
			Op:   "client.create_run",
			Kind: "validation",
			ID:   run.ID,
			Err:  ErrInvalidRunType,
		}
	}

	if run.ParentRunID == "" {
		if run.TraceID == "" {
			run.TraceID = run.ID
		}
		if run.DottedOrder == "" {
			run.DottedOrder = EncodeDottedOrder(run.StartTime, run.ID, 0)
		}
	} else if run.TraceID == "" || run.DottedOrder == "" {
		return &ClientError{
			Op:      "client.create_run",
			Kind:    "validation",
			ID:      run.ID,
			Message: "child run requires trace_id and dotted_order",
			Err:     ErrInvalidDottedOrder,
		}
	}

	if run.ParentRunID == "" && run.TraceID == run.ID {
		if !c.sampler.sampleRoot(run.TraceID) {
			c.logger.Debug("Trace sampled out", map[string]interface{}{
				"operation": "create_run",
				"trace_id":  run.TraceID,
			})
			return nil
		}
	} else if c.sampler.isDropped(run.TraceID) {
		c.sampler.markDropped(run.ID)
		return nil
	}

	if c.config.HideInputs != nil {
		run.Inputs = c.config.HideInputs(run.Inputs)
	}

	payload := run.toPayload(c.config.Project)
	o := newOp(opPost, run.ID, run.TraceID, payload, run.Attachments)
	return c.batcher.enqueue(ctx, o)
}

// UpdateRun queues a run patch, usually the completion carrying outputs
// and end time. A patch whose post is still queued folds into it. When the
// patch finalizes a root run and BlockOnRootRunFinalization is set, the
// call blocks until the drained batches settle; root detection needs
// update.TraceID set (RunTree.Patch always sets it).
func (c *Client) UpdateRun(ctx context.Context, runID string, update *RunUpdate) error {
	if !c.config.TracingEnabled {
		return nil
	}
	if c.closed.Load() {
		return &ClientError{Op: "client.update_run", Kind: "ingest", Err: ErrClosed}
	}
	if runID == "" {
		return &ClientError{
			Op:      "client.update_run",
			Kind:    "validation",
			Message: "update requires a run id",
			Err:     ErrRunNotFound,
		}
	}

	if c.sampler.isDropped(runID) || (update.TraceID != "" && c.sampler.isDropped(update.TraceID)) {
		return nil
	}

	if c.config.HideOutputs != nil {
		update.Outputs = c.config.HideOutputs(update.Outputs)
	}

	payload := update.toPayload()
	payload["id"] = runID

	o := newOp(opPatch, runID, update.TraceID, payload, update.Attachments)
	o.rootFinal = update.TraceID == runID && !update.EndTime.IsZero()
	return c.batcher.enqueue(ctx, o)
}

// Flush drains the queue and blocks until every dispatched batch settles.
// It returns the delivery failure observed during the wait, if any; this
// is the only place send errors reach callers.
func (c *Client) Flush(ctx context.Context) error {
	if c.closed.Load() {
		return &ClientError{Op: "client.flush", Kind: "ingest", Err: ErrClosed}
	}
	return c.batcher.flush(ctx)
}

// AwaitPendingTraceBatches blocks until the queue is empty and no batches
// are in flight. Unlike Flush it triggers no drain, so with work queued
// and no other trigger pending it waits for the aggregation timer.
func (c *Client) AwaitPendingTraceBatches(ctx context.Context) error {
	return c.batcher.awaitSettled(ctx)
}

// Close drains remaining work, waits up to ShutdownGracePeriod for it to
// settle and stops the background workers. Idempotent. The shared prompt
// cache is left running; stop it with promptcache.StopShared if the
// process owns it.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.batcher.close(ctx)
}

// Stats snapshots queue depth and delivery counters, for debugging and
// tests.
func (c *Client) Stats() map[string]interface{} {
	stats := c.batcher.stats()
	stats["sampled_out_traces"] = c.sampler.droppedCount()
	return stats
}
