// Package apperr defines the error taxonomy shared by the tool functions and
// the CLI/HTTP boundary that renders them.
package apperr

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ValidationError reports input that fails a schema or an explicit
// precondition.
type ValidationError struct {
	Msg    string
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Msg
	}
	return e.Msg + ": " + strings.Join(e.Issues, "; ")
}

// NotFoundError reports a referenced id that does not resolve.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// FetchError reports a failed external page retrieval.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether re-invoking the fetch could plausibly succeed.
// Nothing retries automatically; callers surface this to the operator.
func (e *FetchError) Transient() bool {
	return IsTransientHTTPStatus(e.StatusCode) || IsTransient(e.Err)
}

// StorageError reports a failed store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Validation returns a ValidationError.
func Validation(msg string, issues ...string) error {
	return &ValidationError{Msg: msg, Issues: issues}
}

// Validationf returns a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a NotFoundError for resource/id.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// Fetch wraps err as a FetchError for url.
func Fetch(url string, statusCode int, err error) error {
	if err == nil {
		err = eris.New("unexpected response")
	}
	return &FetchError{URL: url, StatusCode: statusCode, Err: err}
}

// Storage wraps err as a StorageError. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	return &StorageError{Op: op, Err: eris.Wrap(err, op)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsFetch reports whether err carries a FetchError.
func IsFetch(err error) bool {
	var target *FetchError
	return errors.As(err, &target)
}

// IsStorage reports whether err carries a StorageError.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// Kind names the taxonomy class of err, or "internal".
func Kind(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	case IsFetch(err):
		return "fetch"
	case IsStorage(err):
		return "storage"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to the response status used by the API.
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsFetch(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether err matches a network-level failure that a
// later attempt might not hit (timeouts, resets, DNS).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"context deadline exceeded",
		"navigation timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether statusCode indicates a server-side
// condition that may clear on its own.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
