package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("outer: %w", err) }

	assert.True(t, IsValidation(wrap(InvalidComponent("tier_id", 4))))
	assert.True(t, IsValidation(wrap(InvalidTravelerCount(3, 2))))
	assert.True(t, IsNotFound(wrap(NotFoundError{Resource: "booking"})))
	assert.True(t, IsInvalidTransition(wrap(TransitionError{From: "CANCELLED", To: "DRAFT"})))
	assert.True(t, IsPriceMismatch(wrap(PriceMismatchError{BookingID: 1})))
	assert.True(t, IsExternalService(wrap(ExternalServiceError{Service: "gateway"})))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestVerificationError(t *testing.T) {
	gw := ExternalServiceError{Service: "gateway", Err: errors.New("timeout")}
	err := fmt.Errorf("confirm: %w", Verification(CheckCaptured, "fetch failed", gw))

	assert.True(t, IsVerificationFailure(err))
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.True(t, IsExternalService(err))

	var ve VerificationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, CheckCaptured, ve.Check)

	owner := Verification(CheckOwner, "", ErrForbidden)
	assert.ErrorIs(t, owner, ErrForbidden)
	assert.Equal(t, "payment verification failed at owner", owner.Error())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "tier_id: 4 does not belong to the package", InvalidComponent("tier_id", 4).Error())
	assert.Equal(t, ReasonInvalidComponent, InvalidComponent("x", 1).(ValidationError).Code())
	assert.Equal(t, ReasonInvalidInput, ValidationError{Field: "a"}.Code())
	assert.Equal(t, "invalid a", ValidationError{Field: "a"}.Error())
	assert.Equal(t, "booking not found", NotFoundError{Resource: "booking"}.Error())
	assert.Equal(t, "cannot move booking from CANCELLED to DRAFT", TransitionError{From: "CANCELLED", To: "DRAFT"}.Error())
	assert.Equal(t,
		"booking 7: stored price 100.00 differs from computed 100.50",
		PriceMismatchError{BookingID: 7, Stored: decimal.NewFromInt(100), Computed: decimal.RequireFromString("100.5")}.Error())
}
