package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrForbidden              = errors.New("forbidden")
	ErrBookingExpired         = errors.New("booking expired")
	ErrConflict               = errors.New("conflict")
	ErrPriceMismatch          = errors.New("price mismatch")
	ErrVerificationFailed     = errors.New("payment verification failed")
	ErrDuplicateKey           = errors.New("duplicate idempotency key")
)

// Machine-readable validation reasons returned to clients.
const (
	ReasonInvalidComponent     = "invalid_component"
	ReasonInvalidTravelerCount = "invalid_traveler_count"
	ReasonInvalidInput         = "invalid_input"
	ReasonInvalidReference     = "invalid_reference"
	ReasonMissingIdempotency   = "missing_idempotency_key"
	ReasonNotDraft             = "not_draft"
)

type ValidationError struct {
	Field  string
	Reason string
	Msg    string
	Err    error
}

func (e ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Field != "":
		return fmt.Sprintf("invalid %s", e.Field)
	default:
		return "validation error"
	}
}

func (e ValidationError) Unwrap() error { return e.Err }

// Code is the reason reported to API clients.
func (e ValidationError) Code() string {
	if e.Reason == "" {
		return ReasonInvalidInput
	}
	return e.Reason
}

// InvalidComponent reports a selection that is not part of the package catalog.
func InvalidComponent(field string, id int64) error {
	return ValidationError{
		Field:  field,
		Reason: ReasonInvalidComponent,
		Msg:    fmt.Sprintf("%d does not belong to the package", id),
	}
}

func InvalidTravelerCount(declared, given int) error {
	return ValidationError{
		Field:  "traveler_details",
		Reason: ReasonInvalidTravelerCount,
		Msg:    fmt.Sprintf("%d travelers listed but num_travelers is %d", given, declared),
	}
}

type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

// TransitionError is returned for a status change outside the allowed-successor table.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot move booking from %s to %s", e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

type PriceMismatchError struct {
	BookingID int64
	Stored    decimal.Decimal
	Computed  decimal.Decimal
}

func (e PriceMismatchError) Error() string {
	return fmt.Sprintf("booking %d: stored price %s differs from computed %s",
		e.BookingID, e.Stored.StringFixed(2), e.Computed.StringFixed(2))
}

func (e PriceMismatchError) Unwrap() error { return ErrPriceMismatch }

// VerificationCheck names a step of payment verification.
type VerificationCheck string

const (
	CheckRequiredFields VerificationCheck = "required_fields"
	CheckOwner          VerificationCheck = "owner"
	CheckStatus         VerificationCheck = "booking_status"
	CheckExpiry         VerificationCheck = "booking_expiry"
	CheckPaymentRecord  VerificationCheck = "payment_record"
	CheckSignature      VerificationCheck = "signature"
	CheckCaptured       VerificationCheck = "captured"
	CheckAmount         VerificationCheck = "amount"
	CheckRefund         VerificationCheck = "refund"
	CheckOrderID        VerificationCheck = "order_id"
)

// VerificationError carries the failed check for the audit log. Clients only
// ever see a generic message.
type VerificationError struct {
	Check  VerificationCheck
	Reason string
	Err    error
}

func (e VerificationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("payment verification failed at %s", e.Check)
	}
	return fmt.Sprintf("payment verification failed at %s: %s", e.Check, e.Reason)
}

func (e VerificationError) Unwrap() error { return e.Err }

func (e VerificationError) Is(target error) bool { return target == ErrVerificationFailed }

func Verification(check VerificationCheck, reason string, err error) error {
	return VerificationError{Check: check, Reason: reason, Err: err}
}

// ExternalServiceError marks an unreachable or misbehaving collaborator. It is retryable by the caller.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e ExternalServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s unavailable", e.Service)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e ExternalServiceError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsPriceMismatch(err error) bool {
	return errors.Is(err, ErrPriceMismatch)
}

func IsVerificationFailure(err error) bool {
	var target VerificationError
	return errors.As(err, &target)
}

func IsExternalService(err error) bool {
	var target ExternalServiceError
	return errors.As(err, &target)
}
