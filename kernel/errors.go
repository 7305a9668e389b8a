package kernel

import (
	"errors"
	"fmt"
)

// ErrorType classifies kernel client failures.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeRequest
	ErrorTypeResponse
	ErrorTypeAPI
	ErrorTypeTemplate
)

// Error is the typed error returned by the kernel client. The evaluation
// worker distinguishes response-shape errors (bad JSON from the scoring
// template) from transport errors by Type.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.TypeString(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.TypeString(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) TypeString() string {
	switch e.Type {
	case ErrorTypeRequest:
		return "RequestError"
	case ErrorTypeResponse:
		return "ResponseError"
	case ErrorTypeAPI:
		return "APIError"
	case ErrorTypeTemplate:
		return "TemplateError"
	default:
		return "UnknownError"
	}
}

// NewError creates a typed kernel error.
func NewError(errType ErrorType, message string, err error) *Error {
	return &Error{Type: errType, Message: message, Err: err}
}

// IsResponseError reports whether err is a kernel response-parsing failure.
func IsResponseError(err error) bool {
	var kerr *Error
	return errors.As(err, &kerr) && kerr.Type == ErrorTypeResponse
}
