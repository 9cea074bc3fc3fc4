package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// BackendError wraps a failure from a remote AI backend. Transient failures
// (rate limits, 5xx, network errors) are worth retrying with backoff;
// everything else (auth, bad request) is treated as fatal configuration.
type BackendError struct {
	Backend   string
	Status    int
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s backend status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err (anywhere in its chain) is a retryable
// backend failure.
func IsTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient
	}
	return false
}

func statusError(backend string, status int, body []byte) error {
	transient := status == http.StatusTooManyRequests || status >= 500
	return &BackendError{
		Backend:   backend,
		Status:    status,
		Transient: transient,
		Err:       fmt.Errorf("%s", truncate(body, 512)),
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
