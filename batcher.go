package langsmith

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// batcher is the auto-batching ingest queue. Operations accumulate in FIFO
// order and drain as batches when any trigger fires:
//
//   - the queue reaches the batch operation limit
//   - queued payload bytes reach the byte limit
//   - the aggregation delay elapses after the first enqueue
//   - a root run finalizes while BlockOnRootRunFinalization is on
//   - Flush is called
//
// In manual flush mode only Flush drains. A patch enqueued while its post
// is still queued folds into the post so the pair ships as one operation.
// Delivery failures never propagate to producers; they are logged, counted
// and surfaced only through Flush.
type batcher struct {
	cfg       BatchConfig
	logger    Logger
	transport *transport
	prober    *infoProber

	// Effective batch limits: config values until the capability probe
	// negotiates others. Pinned values never change.
	effSizeLimit    atomic.Int64
	effSizeBytes    atomic.Int64
	sizeLimitPinned bool
	sizeBytesPinned bool

	mu          sync.Mutex
	notFull     *sync.Cond
	queue       []*op
	pending     map[string]*op // run ID -> queued post op, for patch folding
	queuedBytes int64
	timerArmed  bool
	closed      bool

	// inflightChunks counts drained chunks between take and completion.
	// settleWaiters are closed when the queue is empty and nothing is in
	// flight, which is what Flush and AwaitPendingTraceBatches wait on.
	inflightChunks int
	settleWaiters  []chan struct{}

	dispatch   chan []*op
	dispatchWG sync.WaitGroup
	workers    sync.WaitGroup

	shipCtx    context.Context
	shipCancel context.CancelFunc

	// Delivery stats. failCount and lastError let Flush report failures
	// that happened during its window; failMu guards them because delivery
	// errors carry different concrete types.
	shippedOps     atomic.Int64
	droppedOps     atomic.Int64
	droppedBatches atomic.Int64

	failMu    sync.Mutex
	failCount int64
	lastError error
}

func newBatcher(cfg *Config, transport *transport, prober *infoProber, logger Logger) *batcher {
	b := &batcher{
		cfg:             cfg.Batch,
		logger:          logger,
		transport:       transport,
		prober:          prober,
		sizeLimitPinned: cfg.sizeLimitPinned,
		sizeBytesPinned: cfg.sizeLimitBytesPinned,
		pending:         make(map[string]*op),
		dispatch:        make(chan []*op, 16),
	}
	b.notFull = sync.NewCond(&b.mu)
	b.effSizeLimit.Store(int64(cfg.Batch.SizeLimit))
	b.effSizeBytes.Store(cfg.Batch.SizeLimitBytes)
	b.shipCtx, b.shipCancel = context.WithCancel(context.Background())

	workers := cfg.Batch.DispatchWorkers
	if workers < 1 {
		workers = 1
	}
	b.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go b.worker()
	}
	return b
}

// enqueue adds one operation to the queue, folding patches into queued
// posts, and fires whichever drain trigger applies. It blocks while the
// queue is at its high-water mark.
func (b *batcher) enqueue(ctx context.Context, o *op) error {
	b.mu.Lock()

	for !b.closed && len(b.queue) >= b.cfg.QueueHighWater {
		if b.cfg.ManualFlush {
			// Only an explicit Flush can make room; waiting here would
			// deadlock a producer that is also the flusher.
			b.mu.Unlock()
			return &ClientError{Op: "batcher.enqueue", Kind: "ingest", ID: o.id, Err: ErrQueueFull}
		}
		b.notFull.Wait()
	}
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	folded := false
	if o.kind == opPatch {
		if post, ok := b.pending[o.id]; ok {
			oldSize := post.size
			overlayPayload(post.payload, o.payload)
			for name, att := range o.attachments {
				if post.attachments == nil {
					post.attachments = make(map[string]Attachment, len(o.attachments))
				}
				post.attachments[name] = att
			}
			post.resize()
			b.queuedBytes += int64(post.size - oldSize)
			folded = true
		}
	}
	if !folded {
		b.queue = append(b.queue, o)
		b.queuedBytes += int64(o.size)
		if o.kind == opPost {
			b.pending[o.id] = o
		}
	}

	var chunk []*op
	if !b.cfg.ManualFlush {
		switch {
		case o.rootFinal && b.cfg.BlockOnRootRunFinalization,
			b.cfg.AggregationDelay <= 0:
			chunk = b.takeLocked()
		case int64(len(b.queue)) >= b.effSizeLimit.Load(),
			b.queuedBytes >= b.effSizeBytes.Load():
			// A threshold trigger ships only whole batches. The unfinished
			// tail keeps gathering until the timer or the next trigger, so
			// operations enqueued right after the threshold do not fragment
			// into undersized extra requests.
			chunk = b.takeCompleteLocked()
			if len(b.queue) > 0 {
				b.armTimerLocked()
			}
		default:
			b.armTimerLocked()
		}
	}
	b.mu.Unlock()

	if chunk != nil {
		b.dispatch <- chunk
		b.dispatchWG.Done()
	}

	if o.rootFinal && b.cfg.BlockOnRootRunFinalization && !b.cfg.ManualFlush {
		return b.awaitSettled(ctx)
	}
	return nil
}

// takeLocked moves the whole queue into a chunk bound for the dispatch
// channel. Callers send the chunk after releasing the mutex; the
// dispatchWG entry keeps close from tearing the channel down first.
func (b *batcher) takeLocked() []*op {
	if len(b.queue) == 0 {
		return nil
	}
	chunk := b.queue
	b.queue = nil
	b.queuedBytes = 0
	b.pending = make(map[string]*op)
	b.inflightChunks++
	b.dispatchWG.Add(1)
	b.notFull.Broadcast()
	return chunk
}

// takeCompleteLocked moves only whole batches off the queue: the longest
// prefix that slices into batches closed by the count or byte limit,
// using the same greedy rule ship applies. Ops past that prefix stay
// queued.
func (b *batcher) takeCompleteLocked() []*op {
	sizeLimit := int(b.effSizeLimit.Load())
	byteLimit := b.effSizeBytes.Load()

	complete := 0
	count := 0
	var batchBytes int64
	for _, o := range b.queue {
		opSize := int64(o.size)
		if count > 0 && (count >= sizeLimit || batchBytes+opSize > byteLimit) {
			complete += count
			count = 0
			batchBytes = 0
		}
		count++
		batchBytes += opSize
	}
	// The trailing batch counts only if a limit closed it.
	if count >= sizeLimit || batchBytes >= byteLimit {
		complete += count
	}

	if complete == 0 {
		return nil
	}
	if complete == len(b.queue) {
		return b.takeLocked()
	}

	chunk := append([]*op(nil), b.queue[:complete]...)
	b.queue = append(b.queue[:0:0], b.queue[complete:]...)
	for _, o := range chunk {
		b.queuedBytes -= int64(o.size)
		if o.kind == opPost && b.pending[o.id] == o {
			delete(b.pending, o.id)
		}
	}
	b.inflightChunks++
	b.dispatchWG.Add(1)
	b.notFull.Broadcast()
	return chunk
}

// armTimerLocked starts the aggregation-delay countdown if it is not
// already running. The timer fires once and drains whatever has gathered.
func (b *batcher) armTimerLocked() {
	if b.timerArmed || b.closed {
		return
	}
	b.timerArmed = true
	time.AfterFunc(b.cfg.AggregationDelay, b.timerFire)
}

func (b *batcher) timerFire() {
	b.mu.Lock()
	b.timerArmed = false
	if b.closed || b.cfg.ManualFlush {
		b.mu.Unlock()
		return
	}
	chunk := b.takeLocked()
	b.mu.Unlock()

	if chunk != nil {
		b.dispatch <- chunk
		b.dispatchWG.Done()
	}
}

// flush drains the queue and waits for every dispatched batch to settle.
// It returns the delivery error observed during the wait, if any, which is
// the one place send failures surface to callers.
func (b *batcher) flush(ctx context.Context) error {
	b.failMu.Lock()
	failsBefore := b.failCount
	b.failMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	chunk := b.takeLocked()
	b.mu.Unlock()

	if chunk != nil {
		b.dispatch <- chunk
		b.dispatchWG.Done()
	}

	if err := b.awaitSettled(ctx); err != nil {
		return err
	}

	b.failMu.Lock()
	fails, lastErr := b.failCount, b.lastError
	b.failMu.Unlock()
	if fails > failsBefore && lastErr != nil {
		return &ClientError{Op: "batcher.flush", Kind: "ingest", Err: lastErr}
	}
	return nil
}

// awaitSettled blocks until the queue is empty and no batches are in
// flight, or the context ends.
func (b *batcher) awaitSettled(ctx context.Context) error {
	b.mu.Lock()
	if len(b.queue) == 0 && b.inflightChunks == 0 {
		b.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	b.settleWaiters = append(b.settleWaiters, waiter)
	b.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains remaining work, waits up to the grace period for it to
// settle, then stops the workers. Idempotent.
func (b *batcher) close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.notFull.Broadcast()
	b.mu.Unlock()

	// Let in-flight dispatch sends finish, then push out whatever the
	// queue still holds. From here we are the only sender.
	b.dispatchWG.Wait()

	b.mu.Lock()
	chunk := b.takeLocked()
	b.mu.Unlock()
	if chunk != nil {
		b.dispatch <- chunk
		b.dispatchWG.Done()
	}

	graceCtx, cancel := context.WithTimeout(ctx, b.cfg.ShutdownGracePeriod)
	defer cancel()
	settleErr := b.awaitSettled(graceCtx)

	b.shipCancel()
	close(b.dispatch)
	b.workers.Wait()

	if settleErr != nil {
		b.mu.Lock()
		remaining := len(b.queue) + b.inflightChunks
		b.mu.Unlock()
		b.logger.Warn("Shutdown grace period expired with work pending", map[string]interface{}{
			"operation":        "batcher_close",
			"remaining_chunks": remaining,
		})
		return &ClientError{Op: "batcher.close", Kind: "ingest", Err: ErrShutdownIncomplete}
	}
	return nil
}

// worker ships drained chunks until the dispatch channel closes.
func (b *batcher) worker() {
	defer b.workers.Done()
	for chunk := range b.dispatch {
		b.ship(chunk)
	}
}

// ship slices a chunk into batches within the negotiated limits and sends
// each one. Failures drop the batch: the queue must never wedge behind a
// poison payload or a dead backend.
func (b *batcher) ship(chunk []*op) {
	defer b.chunkDone()

	info := b.prober.get(b.shipCtx)
	b.updateLimits(info)

	sizeLimit := int(b.effSizeLimit.Load())
	byteLimit := b.effSizeBytes.Load()

	for start := 0; start < len(chunk); {
		end := start
		var batchBytes int64
		for end < len(chunk) {
			opSize := int64(chunk[end].size)
			if end > start && batchBytes+opSize > byteLimit {
				break
			}
			batchBytes += opSize
			end++
			if end-start >= sizeLimit {
				break
			}
		}

		batch := chunk[start:end]
		if len(batch) == 1 && int64(batch[0].size) > byteLimit {
			b.logger.Warn("Operation exceeds batch byte limit, sending alone", map[string]interface{}{
				"operation": "batch_slice",
				"run_id":    batch[0].id,
				"size":      batch[0].size,
				"limit":     byteLimit,
			})
		}

		if err := b.transport.sendBatch(b.shipCtx, batch, info); err != nil {
			b.droppedBatches.Add(1)
			b.droppedOps.Add(int64(len(batch)))
			b.failMu.Lock()
			b.failCount++
			b.lastError = err
			b.failMu.Unlock()
			b.logger.Warn("Batch delivery failed, dropping operations", map[string]interface{}{
				"operation": "batch_ship",
				"ops":       len(batch),
				"error":     err.Error(),
			})
		} else {
			b.shippedOps.Add(int64(len(batch)))
			b.logger.Debug("Batch delivered", map[string]interface{}{
				"operation": "batch_ship",
				"ops":       len(batch),
				"bytes":     batchBytes,
			})
		}
		start = end
	}
}

func (b *batcher) chunkDone() {
	b.mu.Lock()
	b.inflightChunks--
	if len(b.queue) == 0 && b.inflightChunks == 0 {
		for _, waiter := range b.settleWaiters {
			close(waiter)
		}
		b.settleWaiters = nil
	}
	b.mu.Unlock()
}

// updateLimits adopts server-negotiated batch limits unless the user
// pinned explicit values.
func (b *batcher) updateLimits(info *ServerInfo) {
	if !b.sizeLimitPinned && info.BatchIngestConfig.SizeLimit > 0 {
		b.effSizeLimit.Store(int64(info.BatchIngestConfig.SizeLimit))
	}
	if !b.sizeBytesPinned && info.BatchIngestConfig.SizeLimitBytes > 0 {
		b.effSizeBytes.Store(info.BatchIngestConfig.SizeLimitBytes)
	}
}

// stats snapshots queue and delivery counters.
func (b *batcher) stats() map[string]interface{} {
	b.mu.Lock()
	queued := len(b.queue)
	queuedBytes := b.queuedBytes
	inflight := b.inflightChunks
	b.mu.Unlock()

	return map[string]interface{}{
		"queued_ops":      queued,
		"queued_bytes":    queuedBytes,
		"inflight_chunks": inflight,
		"shipped_ops":     b.shippedOps.Load(),
		"dropped_ops":     b.droppedOps.Load(),
		"dropped_batches": b.droppedBatches.Load(),
	}
}

// overlayPayload merges patch fields over a queued post payload.
// Patch values win; fields the patch does not set stay as posted.
func overlayPayload(base, patch map[string]interface{}) {
	for k, v := range patch {
		if k == "id" {
			continue
		}
		base[k] = v
	}
}
