// Package apperror defines the closed set of failure kinds the POS engine can
// return. Every error that crosses the service boundary carries one of these
// kinds structurally; callers never derive the category from message text.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindNegativeStock       Kind = "NEGATIVE_STOCK"
	KindOutOfStock          Kind = "OUT_OF_STOCK"
	KindInsufficientPayment Kind = "INSUFFICIENT_PAYMENT"
	KindForbidden           Kind = "FORBIDDEN"
	KindUnauthenticated     Kind = "NOT_AUTHENTICATED"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Refined wire codes. Each belongs to exactly one Kind.
const (
	CodeDuplicateBarcode   = "DUPLICATE_BARCODE"
	CodeDuplicateUsername  = "DUPLICATE_USERNAME"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
)

// Error is the structured failure returned by the engine.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to the error details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

func Validation(message string) *Error {
	return newError(KindValidation, message)
}

func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound builds a "<entity> not found" error.
func NotFound(entity string, id any) *Error {
	return newError(KindNotFound, fmt.Sprintf("%s not found", entity)).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// NotFoundMessage is NotFound with a caller-provided message.
func NotFoundMessage(message string) *Error {
	return newError(KindNotFound, message)
}

func Conflict(message string) *Error {
	return newError(KindConflict, message)
}

// Duplicate is a Conflict with a refined code such as DUPLICATE_BARCODE.
func Duplicate(code string, message string) *Error {
	e := newError(KindConflict, message)
	e.Code = code
	return e
}

func NegativeStock(productID int64, current int64, delta int64) *Error {
	return newError(KindNegativeStock, "Stock cannot go below 0").
		WithDetail("product_id", productID).
		WithDetail("stock", current).
		WithDetail("qty_change", delta)
}

func OutOfStock(productID int64, name string, have int64, need int64) *Error {
	return newError(KindOutOfStock, fmt.Sprintf("Out of stock: %s (have %d, need %d)", name, have, need)).
		WithDetail("product_id", productID).
		WithDetail("have", have).
		WithDetail("need", need)
}

func InsufficientPayment(total int64, paid int64) *Error {
	return newError(KindInsufficientPayment, "Insufficient payment").
		WithDetail("total", total).
		WithDetail("paid", paid)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, message)
}

// Unauthenticated carries a refined code (INVALID_CREDENTIALS, ACCOUNT_LOCKED)
// or the kind's own code when code is empty.
func Unauthenticated(code string, message string) *Error {
	e := newError(KindUnauthenticated, message)
	if code != "" {
		e.Code = code
	}
	return e
}

// Internal hides the cause from clients; Message stays generic.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: string(KindInternal), Message: "Internal server error", Err: err}
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTPStatus maps an error to the status the request/response boundary uses.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNegativeStock, KindOutOfStock:
		return http.StatusConflict
	case KindInsufficientPayment:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
