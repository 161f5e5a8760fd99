package langsmith

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Lifecycle errors
	ErrClosed = errors.New("client is closed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Ingest errors
	ErrUnauthorized       = errors.New("api key rejected")
	ErrValidationRejected = errors.New("payload rejected by server")
	ErrRateLimited        = errors.New("rate limited")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrShutdownIncomplete = errors.New("shutdown deadline reached with operations pending")
	ErrQueueFull          = errors.New("ingest queue is full")

	// Run errors
	ErrInvalidRunType     = errors.New("invalid run type")
	ErrInvalidDottedOrder = errors.New("malformed dotted order")
	ErrRunNotFound        = errors.New("run not found")
	ErrAlreadyPosted      = errors.New("run already posted")

	// Prompt errors
	ErrPromptNotFound          = errors.New("prompt not found")
	ErrInvalidPromptIdentifier = errors.New("invalid prompt identifier")
)

// ClientError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type ClientError struct {
	Op      string // Operation that failed (e.g., "batcher.drain")
	Kind    string // Error kind (e.g., "ingest", "config", "prompt")
	ID      string // Optional ID of the entity involved (run ID, trace ID)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *ClientError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *ClientError) Unwrap() error {
	return e.Err
}

// NewClientError creates a new ClientError
func NewClientError(op, kind string, err error) *ClientError {
	return &ClientError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// APIError captures an HTTP response the ingest API rejected.
// StatusCode is the HTTP status, Body the (truncated) response body,
// and RetryAfter the server-requested wait, when one was sent.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

// Error returns the string representation of the error
func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api error (status %d)", e.StatusCode)
}

// Unwrap maps terminal HTTP statuses onto their sentinel errors so that
// errors.Is works on wrapped APIErrors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 401, 403:
		return ErrUnauthorized
	case 422:
		return ErrValidationRejected
	case 429:
		return ErrRateLimited
	}
	return nil
}

// retryableStatus reports whether an HTTP status is worth retrying.
// 429 is retryable but carries its own wait via Retry-After.
func retryableStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsRetryable checks if an error is retryable.
// Retryable errors are transient network or availability issues.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	// Anything that is not an API rejection is treated as a network-level
	// failure, which is always retryable.
	return err != nil &&
		!errors.Is(err, ErrUnauthorized) &&
		!errors.Is(err, ErrValidationRejected) &&
		!errors.Is(err, ErrClosed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// IsTerminal checks if an error can never succeed on retry
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrValidationRejected) ||
		errors.Is(err, ErrMaxRetriesExceeded)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
