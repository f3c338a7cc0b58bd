package content

import "errors"

var (
	// ErrFileNotFound is returned when the requested path does not exist on the branch.
	ErrFileNotFound = errors.New("file not found")

	// ErrRateLimitExceeded is returned when the remote API refuses calls until its window resets.
	ErrRateLimitExceeded = errors.New("content API rate limit exceeded")

	// ErrProviderUnavailable is returned while the circuit breaker rejects calls.
	ErrProviderUnavailable = errors.New("content provider unavailable")

	// ErrUnknownProvider is returned by Build for an unregistered kind.
	ErrUnknownProvider = errors.New("unknown content provider")

	// ErrInvalidPath is returned for paths that escape the repository root.
	ErrInvalidPath = errors.New("invalid content path")

	// ErrConflict is returned when the branch moved while a commit was being prepared.
	ErrConflict = errors.New("branch updated concurrently")
)

// APIError represents an error from the remote content API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// WrapRemoteError builds an APIError for a failed remote call. status is 0
// when the request never produced a response.
func WrapRemoteError(status int, reason string, err error) *APIError {
	return &APIError{
		StatusCode: status,
		Message:    reason,
		Err:        err,
	}
}
