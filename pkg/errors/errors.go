// Package errors is the typed error used across the service. Every error
// carries a Code; the code decides the HTTP status, what the client sees and
// whether a retry can help.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeTooLarge      Code = "PAYLOAD_TOO_LARGE"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Settlement rule violations. Clients branch on these codes.
const (
	CodeAlreadyOffered       Code = "ALREADY_OFFERED"
	CodeSelfOfferForbidden   Code = "SELF_OFFER_FORBIDDEN"
	CodeRequestNotOpen       Code = "REQUEST_NOT_OPEN"
	CodeOfferAlreadySelected Code = "OFFER_ALREADY_SELECTED"
	CodeOfferNotOpen         Code = "OFFER_NOT_OPEN"
	CodeAlreadyPaid          Code = "ALREADY_PAID"
	CodeJobWrongStatus       Code = "JOB_WRONG_STATUS"
	CodeNoSelectedOffer      Code = "NO_SELECTED_OFFER"
	CodeOfferNotSelected     Code = "OFFER_NOT_SELECTED"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
	CodeAlreadyConfirmed     Code = "ALREADY_CONFIRMED"
	CodeInDispute            Code = "IN_DISPUTE"
	CodeNotReportedYet       Code = "NOT_REPORTED_YET"
	CodeNotPaid              Code = "NOT_PAID"
	CodeAlreadyReleased      Code = "ALREADY_RELEASED"
	CodeAlreadyRefunded      Code = "ALREADY_REFUNDED"
	CodeSettlementInProgress Code = "SETTLEMENT_IN_PROGRESS"
	CodeSupplierNotOnboarded Code = "SUPPLIER_NOT_ONBOARDED"
	CodeNotBillable          Code = "NOT_BILLABLE"
	CodeInvalidSignature     Code = "INVALID_SIGNATURE"
)

// Metadata is how a code is presented. PublicMessage replaces the internal
// message in responses; Details only leave the service when DetailsAllowed.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool

	conflict bool
}

func public(status int, msg string) Metadata { return Metadata{HTTPStatus: status, PublicMessage: msg} }

func (m Metadata) withDetails() Metadata { m.DetailsAllowed = true; return m }
func (m Metadata) retryable() Metadata   { m.Retryable = true; return m }
func (m Metadata) asConflict() Metadata  { m.conflict = true; return m }

// ruleViolation is shared by the settlement conflicts.
var ruleViolation = public(http.StatusConflict, "state transition disallowed").withDetails().asConflict()

var metadataByCode = map[Code]Metadata{
	CodeValidation:    public(http.StatusBadRequest, "validation failed").withDetails(),
	CodeUnauthorized:  public(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:     public(http.StatusForbidden, "access denied"),
	CodeNotFound:      public(http.StatusNotFound, "resource not found"),
	CodeConflict:      public(http.StatusConflict, "conflict detected").asConflict(),
	CodeStateConflict: public(http.StatusUnprocessableEntity, "state transition disallowed").withDetails().asConflict(),
	CodeIdempotency:   public(http.StatusConflict, "idempotency key reused").withDetails(),
	CodeRateLimit:     public(http.StatusTooManyRequests, "rate limit exceeded"),
	CodeTooLarge:      public(http.StatusRequestEntityTooLarge, "request body too large"),
	CodeInternal:      public(http.StatusInternalServerError, "internal server error").retryable(),
	CodeDependency:    public(http.StatusServiceUnavailable, "dependency unavailable").withDetails().retryable(),

	CodeAlreadyOffered:       ruleViolation,
	CodeRequestNotOpen:       ruleViolation,
	CodeOfferAlreadySelected: ruleViolation,
	CodeOfferNotOpen:         ruleViolation,
	CodeAlreadyPaid:          ruleViolation,
	CodeJobWrongStatus:       ruleViolation,
	CodeNoSelectedOffer:      ruleViolation,
	CodeOfferNotSelected:     ruleViolation,
	CodeAlreadyConfirmed:     ruleViolation,
	CodeInDispute:            ruleViolation,
	CodeNotReportedYet:       ruleViolation,
	CodeNotPaid:              ruleViolation,
	CodeAlreadyReleased:      ruleViolation,
	CodeAlreadyRefunded:      ruleViolation,
	CodeSettlementInProgress: ruleViolation,
	CodeSupplierNotOnboarded: ruleViolation,
	CodeNotBillable:          ruleViolation,

	CodeSelfOfferForbidden: public(http.StatusForbidden, "suppliers cannot offer on their own requests"),
	CodeInvalidAmount:      public(http.StatusUnprocessableEntity, "amount outside allowed range").withDetails(),
	CodeInvalidSignature:   public(http.StatusBadRequest, "signature verification failed"),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// IsConflict reports whether code means the resource was not in a state that
// allows the operation, as opposed to bad input or a failure.
func IsConflict(code Code) bool {
	meta, ok := metadataByCode[code]
	return ok && meta.conflict
}

// HasCode reports whether err, or anything it wraps, is an *Error with code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
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

// Wrap attaches a code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Code is CodeInternal on a nil receiver so callers can chain As(err).Code().
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
	if e != nil {
		e.details = details
	}
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

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
