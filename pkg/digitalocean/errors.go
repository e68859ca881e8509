package digitalocean

import (
	"fmt"
	"net/http"

	"github.com/nightshift/droplet-scheduler/pkg/errors"
)

// APIError is returned when the API answers with a non-success status.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("digitalocean: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// TransportError is returned when no response was received at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("digitalocean: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
