package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeStockShort       Code = "STOCK_INSUFFICIENT"
	CodeSignatureInvalid Code = "SIGNATURE_INVALID"
	CodeRateLimit        Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeDependency       Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// metadataByCode maps each code onto its HTTP status, retryability, public
// message and whether error details may reach the client.
var metadataByCode = map[Code]Metadata{
	CodeValidation:       {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:     {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:        {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:         {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:         {http.StatusConflict, false, "conflict detected", true},
	CodeStockShort:       {http.StatusBadRequest, false, "insufficient stock", true},
	CodeSignatureInvalid: {http.StatusBadRequest, false, "signature verification failed", false},
	CodeRateLimit:        {http.StatusTooManyRequests, false, "rate limit exceeded", false},
	CodeInternal:         {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:       {http.StatusServiceUnavailable, true, "dependency unavailable", true},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
