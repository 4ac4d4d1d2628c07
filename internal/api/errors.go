package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrRejected marks an action the server refused with {success: false}.
var ErrRejected = errors.New("rejected by server")

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewStatusError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewTransportError(err error) *ApiError {
	return &ApiError{
		Message: "request failed",
		Err:     err,
	}
}

func NewDecodeError(statusCode int, err error) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    "decode response",
		Err:        err,
	}
}

// NewRejectedError carries the server's own explanation when it has one.
func NewRejectedError(statusCode int, reason string) *ApiError {
	if reason == "" {
		reason = "request was not successful"
	}
	return &ApiError{
		StatusCode: statusCode,
		Message:    reason,
		Err:        ErrRejected,
	}
}
