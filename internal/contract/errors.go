package contract

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifies every failure the router can report.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindBackendProcessing  Kind = "BackendProcessingError"
	KindBackendTimeout     Kind = "BackendTimeout"
	KindTransport          Kind = "TransportError"
)

// HTTPStatus returns the status code a failure of this kind is reported with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindBackendTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a routing failure. StatusCode is the backend's HTTP status and is
// only set for KindBackendProcessing.
type Error struct {
	Kind            Kind
	Backend         string
	Message         string
	StatusCode      int
	Elapsed         time.Duration
	SuggestedAction string
	Err             error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Response renders the error as the JSON body sent to clients.
func (e *Error) Response() ErrorResponse {
	return ErrorResponse{
		Error:           e.Error(),
		Kind:            e.Kind,
		Backend:         e.Backend,
		ProcessingTime:  seconds(e.Elapsed),
		StatusCode:      e.StatusCode,
		SuggestedAction: e.SuggestedAction,
	}
}

// ErrorResponse is the body of every non-2xx OCR response.
type ErrorResponse struct {
	Error           string  `json:"error"`
	Kind            Kind    `json:"kind"`
	Backend         string  `json:"backend"`
	ProcessingTime  float64 `json:"processing_time"`
	StatusCode      int     `json:"status_code,omitempty"`
	SuggestedAction string  `json:"suggested_action,omitempty"`
}

// KindOf returns the kind carried by err, or KindTransport for anything that
// is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// AsError converts any error into an *Error, treating unknown errors as
// transport failures.
func AsError(err error, backend string, elapsed time.Duration) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:    KindTransport,
		Backend: backend,
		Message: "error routing to backend " + backend,
		Elapsed: elapsed,
		Err:     err,
	}
}
