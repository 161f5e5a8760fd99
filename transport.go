package langsmith

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
)

// opKind tags a queued operation as a run creation or a run patch.
type opKind int

const (
	opPost opKind = iota
	opPatch
)

func (k opKind) String() string {
	if k == opPatch {
		return "patch"
	}
	return "post"
}

// op is one queued ingest operation. The payload is a JSON-safe map built
// by RunCreate/RunUpdate.toPayload; size memoizes its serialized length so
// batch slicing never re-encodes.
type op struct {
	kind        opKind
	id          string
	traceID     string
	payload     map[string]interface{}
	attachments map[string]Attachment
	size        int

	// rootFinal marks a patch that finalizes a root run, the signal for
	// draining (and blocking) when BlockOnRootRunFinalization is on.
	rootFinal bool
}

// newOp computes the size memo for a payload.
func newOp(kind opKind, id, traceID string, payload map[string]interface{}, attachments map[string]Attachment) *op {
	o := &op{
		kind:        kind,
		id:          id,
		traceID:     traceID,
		payload:     payload,
		attachments: attachments,
	}
	o.resize()
	return o
}

// resize recomputes the size memo after the payload changes.
func (o *op) resize() {
	size := len(safeMarshal(o.payload))
	for _, att := range o.attachments {
		size += len(att.Data)
	}
	o.size = size
}

// transport encodes drained batches for whichever endpoint the server
// negotiated and hands them to the caller.
type transport struct {
	endpoint string
	apiKey   string
	project  string
	caller   *caller
	logger   Logger
}

func newTransport(cfg *Config, caller *caller, logger Logger) *transport {
	return &transport{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		project:  cfg.Project,
		caller:   caller,
		logger:   logger,
	}
}

// sendBatch ships one batch using the negotiated encoding:
// multipart form when the server supports it, otherwise the JSON batch
// envelope, or per-run requests when the server cannot batch at all.
func (t *transport) sendBatch(ctx context.Context, ops []*op, info *ServerInfo) error {
	if len(ops) == 0 {
		return nil
	}

	if info.BatchIngestConfig.SizeLimit <= 1 {
		return t.sendSingles(ctx, ops)
	}

	if info.BatchIngestConfig.UseMultipartEndpoint {
		return t.sendMultipart(ctx, ops, info)
	}
	return t.sendJSONBatch(ctx, ops, info)
}

// sendJSONBatch posts the {"post": [...], "patch": [...]} envelope.
// Attachments cannot travel this way and are dropped with a debug log.
func (t *transport) sendJSONBatch(ctx context.Context, ops []*op, info *ServerInfo) error {
	post := make([]interface{}, 0, len(ops))
	patch := make([]interface{}, 0)
	for _, o := range ops {
		if len(o.attachments) > 0 {
			t.logger.Debug("Dropping attachments, JSON batch endpoint cannot carry them", map[string]interface{}{
				"operation":   "batch_encode",
				"run_id":      o.id,
				"attachments": len(o.attachments),
			})
		}
		switch o.kind {
		case opPost:
			post = append(post, o.payload)
		case opPatch:
			patch = append(patch, o.payload)
		}
	}

	body := safeMarshal(map[string]interface{}{"post": post, "patch": patch})
	return t.post(ctx, http.MethodPost, t.endpoint+"/runs/batch", body, "application/json", info.InstanceFlags.GzipBodyEnabled)
}

// sendMultipart posts the batch as one multipart/form-data request, with
// large fields and attachments split into their own parts.
func (t *transport) sendMultipart(ctx context.Context, ops []*op, info *ServerInfo) error {
	body, contentType, err := encodeMultipartBatch(ops)
	if err != nil {
		return &ClientError{Op: "transport.sendMultipart", Kind: "ingest", Err: err}
	}
	return t.post(ctx, http.MethodPost, t.endpoint+"/runs/multipart", body, contentType, info.InstanceFlags.GzipBodyEnabled)
}

// sendSingles falls back to one request per operation for servers that
// advertise no batch support.
func (t *transport) sendSingles(ctx context.Context, ops []*op) error {
	for _, o := range ops {
		var err error
		switch o.kind {
		case opPost:
			err = t.post(ctx, http.MethodPost, t.endpoint+"/runs", safeMarshal(o.payload), "application/json", false)
		case opPatch:
			err = t.post(ctx, http.MethodPatch, t.endpoint+"/runs/"+o.id, safeMarshal(o.payload), "application/json", false)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// post performs one ingest request, gzip-compressing when negotiated.
func (t *transport) post(ctx context.Context, method, url string, body []byte, contentType string, gzipBody bool) error {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("User-Agent", UserAgent)
	if t.apiKey != "" {
		header.Set("x-api-key", t.apiKey)
	}
	if t.project != "" {
		header.Set("Langsmith-Project", t.project)
	}

	if gzipBody {
		compressed, err := compressGzip(body)
		if err != nil {
			return &ClientError{Op: "transport.post", Kind: "ingest", Err: err}
		}
		body = compressed
		header.Set("Content-Encoding", "gzip")
	}

	status, respBody, err := t.caller.do(ctx, &request{
		method: method,
		url:    url,
		header: header,
		body:   body,
	})
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{StatusCode: status, Body: truncateBody(respBody)}
	}
	return nil
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
