package dicomweb

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/otcheredev/dicomweb-server/internal/storage"
)

// ErrorKind is the closed taxonomy of failures a handler may signal
// (spec.md §7). Nothing is retried by the core; retries belong to clients.
type ErrorKind int

const (
	KindBadRequest ErrorKind = iota
	KindNotFound
	KindUnsupportedMediaType
	KindPayloadTooLarge
	KindServiceUnavailable
	KindInternal
)

// Status maps an ErrorKind to its HTTP status code.
func (k ErrorKind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandlerError is the error type every dispatcher entry point returns; Kind
// selects the HTTP status, Message is safe to expose to the client.
type HandlerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *HandlerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HandlerError) Unwrap() error { return e.Err }

func badRequest(msg string) *HandlerError {
	return &HandlerError{Kind: KindBadRequest, Message: msg}
}

func notFound(msg string) *HandlerError {
	return &HandlerError{Kind: KindNotFound, Message: msg}
}

func unsupportedMediaType(msg string) *HandlerError {
	return &HandlerError{Kind: KindUnsupportedMediaType, Message: msg}
}

func payloadTooLarge(msg string) *HandlerError {
	return &HandlerError{Kind: KindPayloadTooLarge, Message: msg}
}

// fromStorageError classifies a storage.Failure per spec.md §7: an explicit
// timeout maps to ServiceUnavailable, anything else to Internal.
func fromStorageError(op string, err error) *HandlerError {
	var failure *storage.Failure
	if errors.As(err, &failure) && failure.Timeout {
		return &HandlerError{Kind: KindServiceUnavailable, Message: op + ": storage timeout", Err: err}
	}
	return &HandlerError{Kind: KindInternal, Message: op + ": storage failure", Err: err}
}
