package models

import "fmt"

// BookingStatus is a state of the booking lifecycle.
type BookingStatus string

const (
	StatusDraft          BookingStatus = "DRAFT"
	StatusPendingPayment BookingStatus = "PENDING_PAYMENT"
	StatusConfirmed      BookingStatus = "CONFIRMED"
	StatusCancelled      BookingStatus = "CANCELLED"
	StatusExpired        BookingStatus = "EXPIRED"
)

// bookingTransitions is the allowed-successor table.
// PENDING_PAYMENT -> DRAFT is the revert taken when the gateway reports a failed payment.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	StatusDraft:          {StatusPendingPayment, StatusCancelled, StatusExpired},
	StatusPendingPayment: {StatusConfirmed, StatusCancelled, StatusDraft},
	StatusConfirmed:      {StatusCancelled},
	StatusCancelled:      {},
	StatusExpired:        {},
}

// AllBookingStatuses lists every known status in lifecycle order.
func AllBookingStatuses() []BookingStatus {
	return []BookingStatus{StatusDraft, StatusPendingPayment, StatusConfirmed, StatusCancelled, StatusExpired}
}

func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo reports whether target is in the allowed-successor set of s.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal is true for CANCELLED and EXPIRED.
func (s BookingStatus) IsTerminal() bool {
	allowed, ok := bookingTransitions[s]
	return !ok || len(allowed) == 0
}

// IsFrozen reports whether identifying and pricing fields are immutable.
func (s BookingStatus) IsFrozen() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// IsPayable reports whether a payment order may be created or confirmed.
func (s BookingStatus) IsPayable() bool {
	return s == StatusDraft || s == StatusPendingPayment
}

func (s BookingStatus) String() string {
	return string(s)
}

func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}

// PaymentStatus is the state of a payment record.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case PaymentPending, PaymentSuccess, PaymentFailed:
		return PaymentStatus(s), nil
	default:
		return "", fmt.Errorf("invalid payment status: %s", s)
	}
}
