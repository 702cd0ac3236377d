// Package odataerr classifies codec failures into defects, client request
// errors and provider contract violations.
package odataerr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zmcp/odata-codec/internal/models"
)

// Kind is the broad class of a failure
type Kind int

const (
	// KindDefect is a broken structural contract below the codec
	KindDefect Kind = iota
	KindBadRequest
	KindPayloadTooLarge
	KindNotFound
	KindPreconditionFailed
	// KindProvider is a contract violation by a data or metadata provider
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindDefect:
		return "defect"
	case KindBadRequest:
		return "bad-request"
	case KindPayloadTooLarge:
		return "payload-too-large"
	case KindNotFound:
		return "not-found"
	case KindPreconditionFailed:
		return "precondition-failed"
	case KindProvider:
		return "provider"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// StatusCode maps a kind to the HTTP status a host would answer with
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Code identifies one failure mode
type Code string

const (
	// Structural defects
	CodeNestingMismatch  Code = "structural-nesting-mismatch"
	CodeUnexpectedState  Code = "structural-unexpected-state"
	CodeUnexpectedFormat Code = "structural-unexpected-format"

	// Client payload errors
	CodeTypeNotFound          Code = "type-not-found"
	CodeTypeMismatch          Code = "type-mismatch"
	CodeTypeKindMismatch      Code = "type-kind-mismatch"
	CodeTypeNameRequired      Code = "type-name-required"
	CodeInvalidCollectionType Code = "invalid-collection-type"
	CodePropertyNotFound      Code = "property-not-found"
	CodeInvalidValue          Code = "invalid-value"
	CodeKeyMissing            Code = "key-missing"
	CodeNullKey               Code = "null-key"
	CodeInvalidLink           Code = "invalid-link"
	CodeDeepInsertOnUpdate    Code = "deep-insert-on-update"
	CodeDeepFeedOnUpdate      Code = "deep-feed-on-update"
	CodeRecursionLimit        Code = "recursion-limit-exceeded"
	CodeObjectCountLimit      Code = "object-count-limit-exceeded"
	CodeUnknownMetadataLevel  Code = "unknown-metadata-level"
	CodeUnsupportedTarget     Code = "unsupported-target"
	CodeResourceNotFound      Code = "resource-not-found"
	CodeETagMismatch          Code = "etag-mismatch"

	// Provider contract violations and serialization failures
	CodeInvalidActionDescriptor Code = "invalid-action-descriptor"
	CodeInconsistentType        Code = "inconsistent-type"
	CodeUnsupportedValueType    Code = "unsupported-value-type"
	CodeProviderFailure         Code = "provider-failure"
)

// Error is a classified codec failure
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Target names the offending property, type or link when known
	Target string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target %s)", msg, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]", msg, e.Code)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status for the error kind
func (e *Error) StatusCode() int {
	return e.Kind.StatusCode()
}

// ToModel renders the error as an OData error body
func (e *Error) ToModel() *models.ODataError {
	body := &models.ODataError{
		Code:    string(e.Code),
		Message: e.Message,
		Target:  e.Target,
	}
	if e.Err != nil {
		body.InnerError = map[string]interface{}{"message": e.Err.Error()}
	}
	return body
}

// WithCause attaches an underlying error
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// New creates an error of the given kind
func New(kind Kind, code Code, target, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Target:  target,
	}
}

// Defect reports a structural contract violation
func Defect(code Code, format string, args ...any) *Error {
	return New(KindDefect, code, "", format, args...)
}

// BadRequest reports a client payload error
func BadRequest(code Code, target, format string, args ...any) *Error {
	return New(KindBadRequest, code, target, format, args...)
}

// Provider reports a provider contract violation
func Provider(code Code, target, format string, args ...any) *Error {
	return New(KindProvider, code, target, format, args...)
}

// As returns the classified error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err; unclassified errors count as provider failures
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindProvider
}

// CodeOf returns the code of err, or the empty code when unclassified
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsClientError reports whether err rejects the request rather than
// signalling a server-side failure
func IsClientError(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	status := e.StatusCode()
	return status >= 400 && status < 500
}
