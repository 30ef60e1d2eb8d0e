package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"safarbook/internal/domain"
	"safarbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking_PricesTravelers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt, replayed, err := f.bookings.CreateBooking(ctx, user(7), "key-1", f.fullSelection(t, 30, 28, 7, 3))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, models.StatusDraft, receipt.Status)
	assert.Equal(t, "1800.00", receipt.TotalPrice)
	assert.Equal(t, "5400.00", receipt.TotalAmountPaid)
	assert.Equal(t, 4, receipt.NumTravelers)
	require.NotNil(t, receipt.ExpiresAt)
	assert.WithinDuration(t, f.clock.Now().Add(30*time.Minute), *receipt.ExpiresAt, time.Second)

	stored, err := f.db.GetBooking(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmountPaid.Equal(dec("5400")))
	assert.Equal(t, 3, stored.Travelers.ChargeableCount(5))
	assert.Equal(t, receipt.Reference, stored.Reference())

	f.notifier.mu.Lock()
	assert.Equal(t, []int64{receipt.ID}, f.notifier.created)
	f.notifier.mu.Unlock()
}

func TestCreateBooking_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sel := f.fullSelection(t)

	first, replayed, err := f.bookings.CreateBooking(ctx, user(7), "same-key", sel)
	require.NoError(t, err)
	require.False(t, replayed)

	second, replayed, err := f.bookings.CreateBooking(ctx, user(7), "same-key", sel)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)

	list, err := f.bookings.ListBookings(ctx, user(7), "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// The key is scoped to the owner.
	other, replayed, err := f.bookings.CreateBooking(ctx, user(8), "same-key", sel)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateBooking_ReplayWithoutCache(t *testing.T) {
	f := newFixtureWithCache(t, brokenCache{})
	ctx := context.Background()
	sel := f.fullSelection(t)

	first, replayed, err := f.bookings.CreateBooking(ctx, guest("g-1"), "k", sel)
	require.NoError(t, err)
	require.False(t, replayed)

	second, replayed, err := f.bookings.CreateBooking(ctx, guest("g-1"), "k", sel)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TotalAmountPaid, second.TotalAmountPaid)
}

func TestCreateBooking_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.bookings.CreateBooking(ctx, user(1), "", f.fullSelection(t))
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.ReasonMissingIdempotency, ve.Reason)

	_, _, err = f.bookings.CreateBooking(ctx, models.Caller{}, "k", f.fullSelection(t))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	sel := f.fullSelection(t)
	sel.TierID = 9999
	_, _, err = f.bookings.CreateBooking(ctx, user(1), "k2", sel)
	assert.True(t, domain.IsValidation(err), "got %v", err)

	sel = f.fullSelection(t)
	sel.AddOnIDs = []int64{f.other.AddOns[0].ID}
	_, _, err = f.bookings.CreateBooking(ctx, user(1), "k3", sel)
	assert.True(t, domain.IsValidation(err), "got %v", err)

	sel = f.fullSelection(t)
	sel.PackageID = 0
	_, _, err = f.bookings.CreateBooking(ctx, user(1), "k4", sel)
	assert.True(t, domain.IsValidation(err), "got %v", err)

	list, err := f.bookings.ListBookings(ctx, user(1), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetBooking_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createDraft(t, guest("tok"), "k")

	got, err := f.bookings.GetBooking(ctx, guest("tok"), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.bookings.GetBooking(ctx, guest("other"), b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.bookings.GetBooking(ctx, user(1), b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.bookings.GetBooking(ctx, guest("tok"), 9999)
	assert.True(t, domain.IsNotFound(err))
}

func TestGetByReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createDraft(t, user(3), "k")

	got, err := f.bookings.GetByReference(ctx, user(3), b.Reference())
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.bookings.GetByReference(ctx, user(3), "SB-20X5-000001")
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.ReasonInvalidReference, ve.Reason)

	wrongYear := models.FormatReference(b.ID, b.CreatedAt.Year()-1)
	_, err = f.bookings.GetByReference(ctx, user(3), wrongYear)
	assert.True(t, domain.IsNotFound(err))
}

func TestTransitions_IllegalLeaveStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createDraft(t, user(1), "k")

	err := f.machine.TransitionTo(ctx, b, models.StatusConfirmed, "test")
	require.True(t, domain.IsInvalidTransition(err))
	assert.Equal(t, models.StatusDraft, b.Status)

	cancelled, err := f.bookings.CancelBooking(ctx, user(1), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ExpiresAt)

	for _, target := range []models.BookingStatus{models.StatusDraft, models.StatusPendingPayment, models.StatusConfirmed, models.StatusCancelled} {
		err := f.machine.TransitionTo(ctx, cancelled, target, "test")
		assert.True(t, domain.IsInvalidTransition(err), "CANCELLED -> %s", target)
	}

	stored, err := f.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	f.notifier.mu.Lock()
	assert.Equal(t, []int64{b.ID}, f.notifier.cancelled)
	f.notifier.mu.Unlock()
}

func TestUpdateDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createDraft(t, user(1), "k")

	addOns := []int64{f.pkg.AddOns[0].ID, f.pkg.AddOns[1].ID, f.pkg.AddOns[1].ID}
	var noTier int64
	travelers := 3
	updated, err := f.bookings.UpdateDraft(ctx, user(1), b.ID, &DraftPatch{AddOnIDs: &addOns, TierID: &noTier, NumTravelers: &travelers})
	require.NoError(t, err)

	// (1000 + 250.50) + 500 at no tier multiplier
	assert.True(t, updated.TotalPrice.Equal(dec("1750.50")), updated.TotalPrice.String())
	assert.True(t, updated.TotalAmountPaid.Equal(dec("5251.50")), updated.TotalAmountPaid.String())
	assert.Len(t, updated.AddOnIDs, 2)
	assert.Equal(t, b.Version+1, updated.Version)

	preview, err := f.bookings.Preview(ctx, user(1), b.ID, nil)
	require.NoError(t, err)
	assert.True(t, preview.TotalAmount.Equal(updated.TotalAmountPaid))

	_, err = f.bookings.UpdateDraft(ctx, user(2), b.ID, &DraftPatch{NumTravelers: &travelers})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.clock.Advance(31 * time.Minute)
	_, err = f.bookings.UpdateDraft(ctx, user(1), b.ID, &DraftPatch{NumTravelers: &travelers})
	assert.ErrorIs(t, err, domain.ErrBookingExpired)
}

func TestUpdateDraft_NotDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, _ := f.pendingBooking(t, user(1))
	require.Equal(t, models.StatusPendingPayment, b.Status)

	n := 1
	_, err := f.bookings.UpdateDraft(ctx, user(1), b.ID, &DraftPatch{NumTravelers: &n})
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.ReasonNotDraft, ve.Reason)
}

func TestExpireBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createDraft(t, user(1), "k")

	_, err := f.bookings.ExpireBooking(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	f.clock.Advance(31 * time.Minute)
	expired, err := f.bookings.ExpireBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)

	_, err = f.payments.CreateOrder(ctx, user(1), b.ID)
	assert.True(t, domain.IsInvalidTransition(err), "got %v", err)
}

func TestDeleteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createDraft(t, guest("g"), "k")

	assert.ErrorIs(t, f.bookings.DeleteDraft(ctx, guest("x"), b.ID), domain.ErrForbidden)
	require.NoError(t, f.bookings.DeleteDraft(ctx, guest("g"), b.ID))

	_, err := f.db.GetBooking(ctx, b.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestClaimGuestDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userDraft := f.createDraft(t, user(42), "u-1")
	f.clock.Advance(time.Minute)

	// newer guest draft for the same package wins and is merged
	n := 5
	guestSel := f.fullSelection(t)
	guestSel.NumTravelers = n
	receipt, _, err := f.bookings.CreateBooking(ctx, guest("g-42"), "g-1", guestSel)
	require.NoError(t, err)

	// a guest draft for another package is reassigned
	f.clock.Advance(time.Minute)
	otherSel := models.Selection{PackageID: f.other.ID, AddOnIDs: []int64{f.other.AddOns[0].ID}, NumTravelers: 1}
	otherReceipt, _, err := f.bookings.CreateBooking(ctx, guest("g-42"), "g-2", otherSel)
	require.NoError(t, err)

	result, err := f.bookings.ClaimGuestDrafts(ctx, 42, "g-42")
	require.NoError(t, err)
	assert.Equal(t, []int64{otherReceipt.ID}, result.Reassigned)
	assert.Equal(t, []int64{userDraft.ID}, result.Merged)
	assert.Equal(t, []int64{receipt.ID}, result.Discarded)
	assert.Empty(t, result.Cancelled)

	merged, err := f.db.GetBooking(ctx, userDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, n, merged.NumTravelers)
	assert.True(t, merged.TotalAmountPaid.Equal(dec("9000")), merged.TotalAmountPaid.String())

	_, err = f.db.GetBooking(ctx, receipt.ID)
	assert.True(t, domain.IsNotFound(err))

	owned, err := f.bookings.ListBookings(ctx, user(42), models.StatusDraft)
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	left, err := f.bookings.ListBookings(ctx, guest("g-42"), "")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestClaimGuestDrafts_OlderGuestDraftWithPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guestDraft, _ := f.pendingBooking(t, guest("g"))
	require.NoError(t, f.payments.FailFromWebhook(ctx, paymentOrderID(t, f, guestDraft.ID), "pay_x", "declined"))

	f.clock.Advance(time.Minute)
	userDraft := f.createDraft(t, user(9), "u")

	result, err := f.bookings.ClaimGuestDrafts(ctx, 9, "g")
	require.NoError(t, err)
	assert.Empty(t, result.Merged)
	assert.Equal(t, []int64{guestDraft.ID}, result.Cancelled)

	kept, err := f.db.GetBooking(ctx, userDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, userDraft.Version, kept.Version)

	cancelled, err := f.db.GetBooking(ctx, guestDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestClaimGuestDrafts_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.bookings.ClaimGuestDrafts(context.Background(), 0, "g")
	assert.True(t, domain.IsValidation(err))
	_, err = f.bookings.ClaimGuestDrafts(context.Background(), 1, "")
	assert.True(t, domain.IsValidation(err))
}

func paymentOrderID(t *testing.T, f *fixture, bookingID int64) string {
	t.Helper()
	p, err := f.db.GetPaymentByBookingID(context.Background(), bookingID)
	require.NoError(t, err, fmt.Sprintf("payment for booking %d", bookingID))
	return p.OrderID
}
