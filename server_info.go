package langsmith

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ServerInfo is the capability document served at GET /info. The client
// probes it once to learn the batch limits and encodings this deployment
// supports.
type ServerInfo struct {
	Version           string            `json:"version"`
	BatchIngestConfig BatchIngestConfig `json:"batch_ingest_config"`
	InstanceFlags     InstanceFlags     `json:"instance_flags"`
}

// BatchIngestConfig describes the server's batch ingest limits.
type BatchIngestConfig struct {
	UseMultipartEndpoint bool  `json:"use_multipart_endpoint"`
	SizeLimit            int   `json:"size_limit"`
	SizeLimitBytes       int64 `json:"size_limit_bytes"`
	ScaleUpQueueTrigger  int   `json:"scale_up_qsize_trigger,omitempty"`
	ScaleUpThreadLimit   int   `json:"scale_up_nthreads_limit,omitempty"`
}

// InstanceFlags carries per-deployment feature switches.
type InstanceFlags struct {
	GzipBodyEnabled bool `json:"gzip_body_enabled"`
}

// fallbackServerInfo is assumed when the probe cannot reach the server:
// plain JSON batches, no gzip, conservative limits.
func fallbackServerInfo() *ServerInfo {
	return &ServerInfo{
		BatchIngestConfig: BatchIngestConfig{
			UseMultipartEndpoint: false,
			SizeLimit:            100,
			SizeLimitBytes:       20 * 1024 * 1024,
		},
	}
}

const (
	// probeAttempts bounds the capability probe's own retries. The probe
	// must stay cheap; the full retry policy belongs to ingest requests.
	probeAttempts = 3

	// probeRetryInterval is how long a failed probe's fallback answer is
	// reused before the server is asked again.
	probeRetryInterval = 60 * time.Second
)

// infoProber lazily fetches and memoizes ServerInfo. A successful probe is
// cached for the client's lifetime; a failed probe yields the fallback and
// is retried at most once per probeRetryInterval, so an unreachable
// backend does not tax every batch with a probe attempt.
type infoProber struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     Logger

	mu          sync.Mutex
	info        *ServerInfo
	lastAttempt time.Time
}

func newInfoProber(endpoint, apiKey string, timeout time.Duration, httpClient *http.Client, logger Logger) *infoProber {
	return &infoProber{
		endpoint:   endpoint,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

// get returns the negotiated capabilities, probing if needed. It never
// fails; when the server cannot be reached the fallback document is
// returned and the probe is re-armed for later.
func (p *infoProber) get(ctx context.Context) *ServerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.info != nil {
		return p.info
	}
	if !p.lastAttempt.IsZero() && time.Since(p.lastAttempt) < probeRetryInterval {
		return fallbackServerInfo()
	}
	p.lastAttempt = time.Now()

	info, err := p.probe(ctx)
	if err != nil {
		p.logger.Warn("Server capability probe failed, assuming JSON batch ingest", map[string]interface{}{
			"operation": "server_info_probe",
			"endpoint":  p.endpoint,
			"error":     err.Error(),
			"retry_in":  probeRetryInterval.String(),
		})
		return fallbackServerInfo()
	}

	p.info = info
	p.logger.Debug("Server capabilities negotiated", map[string]interface{}{
		"operation":         "server_info_probe",
		"version":           info.Version,
		"multipart":         info.BatchIngestConfig.UseMultipartEndpoint,
		"size_limit":        info.BatchIngestConfig.SizeLimit,
		"size_limit_bytes":  info.BatchIngestConfig.SizeLimitBytes,
		"gzip_body_enabled": info.InstanceFlags.GzipBodyEnabled,
	})
	return p.info
}

// probe performs the GET /info request with its own small retry budget.
func (p *infoProber) probe(ctx context.Context) (*ServerInfo, error) {
	var lastErr error
	for attempt := 0; attempt < probeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		info, err := p.probeOnce(ctx)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("probe failed after %d attempts: %w", probeAttempts, lastErr)
}

func (p *infoProber) probeOnce(ctx context.Context) (*ServerInfo, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, p.endpoint+"/info", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("info endpoint returned status %d", resp.StatusCode)
	}

	var info ServerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding info response: %w", err)
	}
	return &info, nil
}
