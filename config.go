package langsmith

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/langchain-ai/langsmith-go/promptcache"
)

// DefaultEndpoint is the hosted ingest API used when no endpoint is configured.
const DefaultEndpoint = "https://api.smith.langchain.com"

// Config holds all configuration options for the LangSmith client.
// It supports four-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Config file (LANGSMITH_CONFIG_PATH, optional)
//  3. Environment variables
//  4. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithAPIKey("lsv2_..."),
//	    WithProject("my-project"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Connection settings
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"LANGSMITH_ENDPOINT,LANGCHAIN_ENDPOINT" default:"https://api.smith.langchain.com"`
	APIKey   string `json:"api_key" yaml:"api_key" env:"LANGSMITH_API_KEY,LANGCHAIN_API_KEY"`
	Project  string `json:"project" yaml:"project" env:"LANGSMITH_PROJECT,LANGCHAIN_PROJECT" default:"default"`

	// TracingEnabled is the master switch. When false every trace operation
	// becomes a no-op; nothing is queued and nothing is sent.
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled" env:"LANGSMITH_TRACING,LANGCHAIN_TRACING_V2" default:"true"`

	// Batch configuration
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// OTEL configuration (optional egress instrumentation)
	OTEL OTELConfig `json:"otel" yaml:"otel"`

	// HideInputs rewrites run inputs before they are queued. Return nil to
	// strip inputs entirely. Applied before serialization, so secrets never
	// reach the wire.
	HideInputs func(map[string]interface{}) map[string]interface{} `json:"-" yaml:"-"`

	// HideOutputs rewrites run outputs before they are queued.
	HideOutputs func(map[string]interface{}) map[string]interface{} `json:"-" yaml:"-"`

	// Logger receives client logs. Defaults to the built-in logger.
	Logger Logger `json:"-" yaml:"-"`

	// HTTPClient overrides the transport used for all requests.
	HTTPClient *http.Client `json:"-" yaml:"-"`

	// PromptStore overrides the prompt cache backing store.
	// Defaults to the process-wide shared in-memory cache.
	PromptStore promptcache.Store `json:"-" yaml:"-"`

	// PromptCacheDisabled severs this client from the prompt cache.
	PromptCacheDisabled bool `json:"prompt_cache_disabled" yaml:"prompt_cache_disabled"`

	// Set when the user pins batch limits through options, which then win
	// over server-negotiated values.
	sizeLimitPinned      bool
	sizeLimitBytesPinned bool
}

// BatchConfig controls the auto-batching ingest queue.
type BatchConfig struct {
	// SizeLimit is the maximum number of operations per batch request.
	SizeLimit int `json:"size_limit" yaml:"size_limit" default:"100"`

	// SizeLimitBytes is the maximum serialized payload per batch request.
	// The server-negotiated value replaces it unless pinned via option.
	SizeLimitBytes int64 `json:"size_limit_bytes" yaml:"size_limit_bytes" default:"20971520"`

	// AggregationDelay is how long the queue waits for more operations
	// before shipping an undersized batch.
	AggregationDelay time.Duration `json:"aggregation_delay" yaml:"aggregation_delay" default:"250ms"`

	// ManualFlush disables all automatic drain triggers; only Flush ships.
	ManualFlush bool `json:"manual_flush" yaml:"manual_flush"`

	// BlockOnRootRunFinalization makes the enqueue of a root run's final
	// patch synchronous: the call returns after the drained batches settle.
	BlockOnRootRunFinalization bool `json:"block_on_root_run_finalization" yaml:"block_on_root_run_finalization" env:"LANGSMITH_TRACING_BACKGROUND"`

	// SamplingRate keeps the given fraction of traces. Nil emits everything.
	// Decided once per trace at root creation; children and patches follow
	// the root's fate.
	SamplingRate *float64 `json:"sampling_rate" yaml:"sampling_rate" env:"LANGSMITH_TRACING_SAMPLING_RATE"`

	// QueueHighWater is the queued-operation count beyond which enqueues
	// block until the queue drains.
	QueueHighWater int `json:"queue_high_water" yaml:"queue_high_water" default:"10000"`

	// DispatchWorkers is the number of goroutines shipping drained batches.
	DispatchWorkers int `json:"dispatch_workers" yaml:"dispatch_workers" default:"4"`

	// ShutdownGracePeriod bounds how long Close waits for queued work.
	ShutdownGracePeriod time.Duration `json:"shutdown_grace_period" yaml:"shutdown_grace_period" default:"10s"`
}

// HTTPConfig controls the retrying HTTP caller.
type HTTPConfig struct {
	// MaxAttempts is the total number of tries per request (first + retries).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" default:"6"`

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" default:"30s"`

	// InfoTimeout bounds the server capability probe.
	InfoTimeout time.Duration `json:"info_timeout" yaml:"info_timeout" default:"5s"`

	// BackoffBase and BackoffCap bound the decorrelated jitter backoff.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base" default:"500ms"`
	BackoffCap  time.Duration `json:"backoff_cap" yaml:"backoff_cap" default:"8s"`

	// MaxConcurrentRequests bounds in-flight requests across the client.
	MaxConcurrentRequests int64 `json:"max_concurrent_requests" yaml:"max_concurrent_requests" default:"10"`
}

// OTELConfig wires optional OpenTelemetry instrumentation of the client's
// outgoing HTTP requests. This instruments the client's own egress; it does
// not export runs over OTLP.
type OTELConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"OTEL_ENABLED"`
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers  string `json:"headers" yaml:"headers" env:"OTEL_EXPORTER_OTLP_HEADERS"`
}

// durationValue accepts "250ms"-style strings or integer nanoseconds when
// durations come from config files.
type durationValue time.Duration

func (d *durationValue) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, ErrInvalidConfiguration)
		}
		*d = durationValue(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = durationValue(n)
	return nil
}

func (d *durationValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, ErrInvalidConfiguration)
		}
		*d = durationValue(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = durationValue(n)
	return nil
}

// batchConfigFile mirrors BatchConfig for file decoding, with durations as
// durationValue. Fields absent from the file keep their current values.
type batchConfigFile struct {
	SizeLimit                  int           `json:"size_limit" yaml:"size_limit"`
	SizeLimitBytes             int64         `json:"size_limit_bytes" yaml:"size_limit_bytes"`
	AggregationDelay           durationValue `json:"aggregation_delay" yaml:"aggregation_delay"`
	ManualFlush                bool          `json:"manual_flush" yaml:"manual_flush"`
	BlockOnRootRunFinalization bool          `json:"block_on_root_run_finalization" yaml:"block_on_root_run_finalization"`
	SamplingRate               *float64      `json:"sampling_rate" yaml:"sampling_rate"`
	QueueHighWater             int           `json:"queue_high_water" yaml:"queue_high_water"`
	DispatchWorkers            int           `json:"dispatch_workers" yaml:"dispatch_workers"`
	ShutdownGracePeriod        durationValue `json:"shutdown_grace_period" yaml:"shutdown_grace_period"`
}

func (b *BatchConfig) fileShadow() batchConfigFile {
	return batchConfigFile{
		SizeLimit:                  b.SizeLimit,
		SizeLimitBytes:             b.SizeLimitBytes,
		AggregationDelay:           durationValue(b.AggregationDelay),
		ManualFlush:                b.ManualFlush,
		BlockOnRootRunFinalization: b.BlockOnRootRunFinalization,
		SamplingRate:               b.SamplingRate,
		QueueHighWater:             b.QueueHighWater,
		DispatchWorkers:            b.DispatchWorkers,
		ShutdownGracePeriod:        durationValue(b.ShutdownGracePeriod),
	}
}

func (b *BatchConfig) applyShadow(s batchConfigFile) {
	b.SizeLimit = s.SizeLimit
	b.SizeLimitBytes = s.SizeLimitBytes
	b.AggregationDelay = time.Duration(s.AggregationDelay)
	b.ManualFlush = s.ManualFlush
	b.BlockOnRootRunFinalization = s.BlockOnRootRunFinalization
	b.SamplingRate = s.SamplingRate
	b.QueueHighWater = s.QueueHighWater
	b.DispatchWorkers = s.DispatchWorkers
	b.ShutdownGracePeriod = time.Duration(s.ShutdownGracePeriod)
}

func (b *BatchConfig) UnmarshalYAML(value *yaml.Node) error {
	shadow := b.fileShadow()
	if err := value.Decode(&shadow); err != nil {
		return err
	}
	b.applyShadow(shadow)
	return nil
}

func (b *BatchConfig) UnmarshalJSON(data []byte) error {
	shadow := b.fileShadow()
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	b.applyShadow(shadow)
	return nil
}

// httpConfigFile mirrors HTTPConfig for file decoding.
type httpConfigFile struct {
	MaxAttempts           int           `json:"max_attempts" yaml:"max_attempts"`
	RequestTimeout        durationValue `json:"request_timeout" yaml:"request_timeout"`
	InfoTimeout           durationValue `json:"info_timeout" yaml:"info_timeout"`
	BackoffBase           durationValue `json:"backoff_base" yaml:"backoff_base"`
	BackoffCap            durationValue `json:"backoff_cap" yaml:"backoff_cap"`
	MaxConcurrentRequests int64         `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
}

func (h *HTTPConfig) fileShadow() httpConfigFile {
	return httpConfigFile{
		MaxAttempts:           h.MaxAttempts,
		RequestTimeout:        durationValue(h.RequestTimeout),
		InfoTimeout:           durationValue(h.InfoTimeout),
		BackoffBase:           durationValue(h.BackoffBase),
		BackoffCap:            durationValue(h.BackoffCap),
		MaxConcurrentRequests: h.MaxConcurrentRequests,
	}
}

func (h *HTTPConfig) applyShadow(s httpConfigFile) {
	h.MaxAttempts = s.MaxAttempts
	h.RequestTimeout = time.Duration(s.RequestTimeout)
	h.InfoTimeout = time.Duration(s.InfoTimeout)
	h.BackoffBase = time.Duration(s.BackoffBase)
	h.BackoffCap = time.Duration(s.BackoffCap)
	h.MaxConcurrentRequests = s.MaxConcurrentRequests
}

func (h *HTTPConfig) UnmarshalYAML(value *yaml.Node) error {
	shadow := h.fileShadow()
	if err := value.Decode(&shadow); err != nil {
		return err
	}
	h.applyShadow(shadow)
	return nil
}

func (h *HTTPConfig) UnmarshalJSON(data []byte) error {
	shadow := h.fileShadow()
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	h.applyShadow(shadow)
	return nil
}

// Option is a functional option for configuring the client.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with documented defaults.
// These can be overridden by a config file, environment variables,
// or functional options.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       DefaultEndpoint,
		Project:        "default",
		TracingEnabled: true,
		Batch: BatchConfig{
			SizeLimit:           100,
			SizeLimitBytes:      20 * 1024 * 1024,
			AggregationDelay:    250 * time.Millisecond,
			QueueHighWater:      10000,
			DispatchWorkers:     4,
			ShutdownGracePeriod: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			MaxAttempts:           6,
			RequestTimeout:        30 * time.Second,
			InfoTimeout:           5 * time.Second,
			BackoffBase:           500 * time.Millisecond,
			BackoffCap:            8 * time.Second,
			MaxConcurrentRequests: 10,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults and the config file
// but are overridden by functional options.
//
// Variable naming convention:
//   - Client-specific: LANGSMITH_<SETTING>
//   - Legacy aliases: LANGCHAIN_<SETTING> (checked second)
//
// Returns an error if environment variables contain invalid values.
func (c *Config) LoadFromEnv() error {
	// Connection settings
	if v := firstEnv("LANGSMITH_ENDPOINT", "LANGCHAIN_ENDPOINT"); v != "" {
		c.Endpoint = strings.TrimRight(v, "/")
	}
	if v := firstEnv("LANGSMITH_API_KEY", "LANGCHAIN_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := firstEnv("LANGSMITH_PROJECT", "LANGCHAIN_PROJECT"); v != "" {
		c.Project = v
	}

	// Master switch
	if v := firstEnv("LANGSMITH_TRACING", "LANGCHAIN_TRACING_V2"); v != "" {
		c.TracingEnabled = parseBool(v)
	}

	// Batch settings
	if v := os.Getenv("LANGSMITH_TRACING_BACKGROUND"); v != "" {
		// Background tracing is the default; turning it off makes root run
		// finalization block until the trace is shipped.
		c.Batch.BlockOnRootRunFinalization = !parseBool(v)
	}
	if v := os.Getenv("LANGSMITH_TRACING_SAMPLING_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 1 {
			return &ClientError{
				Op:      "Config.LoadFromEnv",
				Kind:    "config",
				Message: fmt.Sprintf("invalid LANGSMITH_TRACING_SAMPLING_RATE: %q", v),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Batch.SamplingRate = &rate
	}

	// OTEL settings
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.OTEL.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.OTEL.Endpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		c.OTEL.Headers = v
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
// File settings override defaults but are overridden by environment
// variables and functional options.
//
// Example YAML:
//
//	endpoint: https://langsmith.internal.example.com
//	project: checkout-service
//	batch:
//	  size_limit: 50
//	  aggregation_delay: 100ms
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath))
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig() but can also be called
// manually after modifying configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return &ClientError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "endpoint is required",
			Err:     ErrMissingConfiguration,
		}
	}
	if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return &ClientError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid endpoint: %q", c.Endpoint),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.Batch.SizeLimit < 1 {
		return &ClientError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("batch size limit must be positive: %d", c.Batch.SizeLimit),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.Batch.SizeLimitBytes < 1 {
		return &ClientError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("batch byte limit must be positive: %d", c.Batch.SizeLimitBytes),
			Err:     ErrInvalidConfiguration,
		}
	}
	if r := c.Batch.SamplingRate; r != nil && (*r < 0 || *r > 1) {
		return &ClientError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("sampling rate must be within [0, 1]: %v", *r),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.HTTP.MaxAttempts < 1 {
		return &ClientError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("max attempts must be positive: %d", c.HTTP.MaxAttempts),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.HTTP.MaxConcurrentRequests < 1 {
		return &ClientError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("max concurrent requests must be positive: %d", c.HTTP.MaxConcurrentRequests),
			Err:     ErrInvalidConfiguration,
		}
	}
	return nil
}

// NewConfig creates a configuration by layering defaults, the optional
// config file, environment variables, and functional options, then
// validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("LANGSMITH_CONFIG_PATH"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	// Apply functional options (these override env vars)
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Helper functions

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// Everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// maskKey renders an API key safe for logs, keeping only the tail.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}

// Functional Options

// WithAPIKey sets the API key sent in the x-api-key header.
func WithAPIKey(key string) Option {
	return func(c *Config) error {
		c.APIKey = key
		return nil
	}
}

// WithEndpoint sets the ingest API base URL.
// Trailing slashes are stripped.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) error {
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ClientError{
				Op:      "WithEndpoint",
				Kind:    "config",
				Message: fmt.Sprintf("invalid endpoint: %q", endpoint),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Endpoint = strings.TrimRight(endpoint, "/")
		return nil
	}
}

// WithProject sets the project (session) new traces are filed under.
func WithProject(project string) Option {
	return func(c *Config) error {
		c.Project = project
		return nil
	}
}

// WithTracingEnabled sets the master tracing switch.
// When disabled, CreateRun/UpdateRun return immediately without queueing.
func WithTracingEnabled(enabled bool) Option {
	return func(c *Config) error {
		c.TracingEnabled = enabled
		return nil
	}
}

// WithBatchSizeLimit pins the per-batch operation count.
// A pinned value wins over the server-negotiated limit.
func WithBatchSizeLimit(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &ClientError{
				Op:      "WithBatchSizeLimit",
				Kind:    "config",
				Message: fmt.Sprintf("batch size limit must be positive: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Batch.SizeLimit = n
		c.sizeLimitPinned = true
		return nil
	}
}

// WithBatchSizeBytesLimit pins the per-batch payload byte budget.
// A pinned value wins over the server-negotiated limit.
func WithBatchSizeBytesLimit(n int64) Option {
	return func(c *Config) error {
		if n < 1 {
			return &ClientError{
				Op:      "WithBatchSizeBytesLimit",
				Kind:    "config",
				Message: fmt.Sprintf("batch byte limit must be positive: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Batch.SizeLimitBytes = n
		c.sizeLimitBytesPinned = true
		return nil
	}
}

// WithAggregationDelay sets how long the queue waits for more operations
// before shipping an undersized batch. Zero ships on every enqueue.
func WithAggregationDelay(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return &ClientError{
				Op:      "WithAggregationDelay",
				Kind:    "config",
				Message: "aggregation delay must not be negative",
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Batch.AggregationDelay = d
		return nil
	}
}

// WithManualFlushMode disables automatic draining. Operations accumulate
// until Flush is called, which is useful in tests and short-lived jobs
// that want exactly one request.
func WithManualFlushMode() Option {
	return func(c *Config) error {
		c.Batch.ManualFlush = true
		return nil
	}
}

// WithBlockOnRootRunFinalization makes the final patch of a root run
// synchronous: UpdateRun returns after the drained batches settle.
// Suited to serverless environments that freeze after the handler returns.
func WithBlockOnRootRunFinalization(enabled bool) Option {
	return func(c *Config) error {
		c.Batch.BlockOnRootRunFinalization = enabled
		return nil
	}
}

// WithSamplingRate keeps the given fraction of traces, decided per trace
// at root creation. Children and updates of a dropped trace are dropped.
func WithSamplingRate(rate float64) Option {
	return func(c *Config) error {
		if rate < 0 || rate > 1 {
			return &ClientError{
				Op:      "WithSamplingRate",
				Kind:    "config",
				Message: fmt.Sprintf("sampling rate must be within [0, 1]: %v", rate),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Batch.SamplingRate = &rate
		return nil
	}
}

// WithMaxAttempts sets the total number of tries per request.
func WithMaxAttempts(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &ClientError{
				Op:      "WithMaxAttempts",
				Kind:    "config",
				Message: fmt.Sprintf("max attempts must be positive: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.HTTP.MaxAttempts = n
		return nil
	}
}

// WithRequestTimeout bounds each request attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return &ClientError{
				Op:      "WithRequestTimeout",
				Kind:    "config",
				Message: "request timeout must be positive",
				Err:     ErrInvalidConfiguration,
			}
		}
		c.HTTP.RequestTimeout = d
		return nil
	}
}

// WithMaxConcurrentRequests bounds in-flight HTTP requests across the client.
func WithMaxConcurrentRequests(n int64) Option {
	return func(c *Config) error {
		if n < 1 {
			return &ClientError{
				Op:      "WithMaxConcurrentRequests",
				Kind:    "config",
				Message: fmt.Sprintf("max concurrent requests must be positive: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.HTTP.MaxConcurrentRequests = n
		return nil
	}
}

// WithHideInputs installs a transform applied to run inputs before queueing.
// Returning nil strips inputs entirely.
func WithHideInputs(f func(map[string]interface{}) map[string]interface{}) Option {
	return func(c *Config) error {
		c.HideInputs = f
		return nil
	}
}

// WithHideOutputs installs a transform applied to run outputs before queueing.
func WithHideOutputs(f func(map[string]interface{}) map[string]interface{}) Option {
	return func(c *Config) error {
		c.HideOutputs = f
		return nil
	}
}

// WithLogger routes client logs into the given logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithHTTPClient overrides the HTTP client used for all requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) error {
		c.HTTPClient = client
		return nil
	}
}

// WithPromptStore overrides the prompt cache backing store, for example
// with a Redis-backed store shared across replicas.
func WithPromptStore(store promptcache.Store) Option {
	return func(c *Config) error {
		c.PromptStore = store
		return nil
	}
}

// WithPromptCacheDisabled severs this client from the prompt cache.
// Prompt pulls always hit the API. The shared cache itself is untouched.
func WithPromptCacheDisabled() Option {
	return func(c *Config) error {
		c.PromptCacheDisabled = true
		return nil
	}
}

// WithOTELEnabled instruments the client's outgoing HTTP requests with
// OpenTelemetry. Runs are still delivered to the ingest API; this only
// adds spans around the client's own egress.
func WithOTELEnabled(enabled bool) Option {
	return func(c *Config) error {
		c.OTEL.Enabled = enabled
		return nil
	}
}
