package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrAuth is returned when a credential is invalid or expired.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimit is returned when the provider throttles the account.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrNetwork is returned for transport-level failures.
	ErrNetwork = errors.New("network error")

	// ErrPermission is returned when the credential lacks access.
	ErrPermission = errors.New("permission denied")

	// ErrProviderInternal is returned for provider-side 5xx failures.
	ErrProviderInternal = errors.New("provider internal error")

	// ErrInvalidArgument is returned for unsupported call shapes, such as an
	// Azure DevOps listing without a project.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidQuery is returned for malformed query patterns.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrConfig is returned for unusable configuration (bad base URL,
	// missing fields, unsafe file permissions).
	ErrConfig = errors.New("configuration error")
)

// APIError wraps a provider API failure with enough context to classify it.
type APIError struct {
	Provider   Kind
	Operation  string
	StatusCode int
	// ResetAt is the rate-limit reset instant, when the provider sent one.
	ResetAt time.Time
	Err     error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s failed (status %d): %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// WrapStatus classifies an HTTP failure into the port error taxonomy.
func WrapStatus(kind Kind, operation string, statusCode int, err error) error {
	if err == nil && statusCode < 400 {
		return nil
	}

	apiErr := &APIError{
		Provider:   kind,
		Operation:  operation,
		StatusCode: statusCode,
		Err:        err,
	}

	if kindErr := classifyStatus(statusCode); kindErr != nil {
		apiErr.Err = fmt.Errorf("%w: %v", kindErr, err)
	} else if err == nil {
		apiErr.Err = fmt.Errorf("unexpected status %d", statusCode)
	}

	return apiErr
}

// WrapTransport classifies a transport-level failure (no HTTP response).
func WrapTransport(kind Kind, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &APIError{
		Provider:  kind,
		Operation: operation,
		Err:       fmt.Errorf("%w: %v", ErrNetwork, err),
	}
}

func classifyStatus(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusForbidden:
		return ErrPermission
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ErrProviderInternal
	default:
		return nil
	}
}

// RateLimitReset extracts the reset instant from err, when known.
func RateLimitReset(err error) (time.Time, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.ResetAt.IsZero() {
		return apiErr.ResetAt, true
	}
	return time.Time{}, false
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsNotFound reports whether err is a missing-resource failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimit reports whether err is a throttling failure.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// IsRetryable reports whether err is worth retrying: network failures,
// provider 5xx, and rate limiting. 4xx other than 429 never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrProviderInternal) ||
		errors.Is(err, ErrRateLimit)
}
