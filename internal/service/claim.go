package service

import (
	"context"
	"fmt"

	"safarbook/internal/domain"
	"safarbook/internal/events"
	"safarbook/internal/models"
)

// ClaimResult reports what happened to each guest draft during a claim.
type ClaimResult struct {
	Reassigned []int64 `json:"reassigned"`
	Merged     []int64 `json:"merged"`
	Discarded  []int64 `json:"discarded"`
	Cancelled  []int64 `json:"cancelled"`
}

type claimEffect struct {
	booking *models.Booking
	from    models.BookingStatus
	event   string
}

// ClaimGuestDrafts moves a guest's live drafts to userID. Per package the most
// recently updated draft wins; the losing guest draft is deleted, or cancelled
// when a payment record ties it down.
func (s *BookingService) ClaimGuestDrafts(ctx context.Context, userID int64, guestToken string) (*ClaimResult, error) {
	if userID == 0 || guestToken == "" {
		return nil, domain.ValidationError{Field: "guest_token", Msg: "user and guest token are required"}
	}

	guestDrafts, err := s.repo.ListBookingsByOwner(ctx, models.GuestOwnerKey(guestToken), models.StatusDraft)
	if err != nil {
		return nil, err
	}
	userDrafts, err := s.repo.ListBookingsByOwner(ctx, models.UserOwnerKey(userID), models.StatusDraft)
	if err != nil {
		return nil, err
	}

	now := s.now()
	// Lists are newest first, so the first draft seen per package is the one to keep.
	byPackage := make(map[int64]*models.Booking)
	for _, u := range userDrafts {
		if u.IsExpired(now) {
			continue
		}
		if _, ok := byPackage[u.PackageID]; !ok {
			byPackage[u.PackageID] = u
		}
	}

	result := &ClaimResult{}
	var effects []claimEffect

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.BookingTx) error {
		for _, g := range guestDrafts {
			if g.IsExpired(now) {
				continue
			}

			u, ok := byPackage[g.PackageID]
			if !ok {
				uid := userID
				g.UserID = &uid
				g.GuestToken = ""
				if err := tx.UpdateBooking(ctx, g); err != nil {
					return fmt.Errorf("reassign draft %d: %w", g.ID, err)
				}
				byPackage[g.PackageID] = g
				result.Reassigned = append(result.Reassigned, g.ID)
				effects = append(effects, claimEffect{booking: g, from: g.Status, event: events.EventBookingClaimed})
				continue
			}

			if g.UpdatedAt.After(u.UpdatedAt) {
				copySelection(u, g)
				if err := tx.UpdateBooking(ctx, u); err != nil {
					return fmt.Errorf("merge draft %d into %d: %w", g.ID, u.ID, err)
				}
				result.Merged = append(result.Merged, u.ID)
				effects = append(effects, claimEffect{booking: u, from: u.Status, event: events.EventBookingUpdated})
			}

			cancelled, err := s.discardDraft(ctx, tx, g)
			if err != nil {
				return err
			}
			if cancelled {
				result.Cancelled = append(result.Cancelled, g.ID)
				effects = append(effects, claimEffect{booking: g, from: models.StatusDraft})
			} else {
				result.Discarded = append(result.Discarded, g.ID)
				effects = append(effects, claimEffect{booking: g, from: g.Status, event: events.EventBookingDeleted})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	actor := models.UserOwnerKey(userID)
	for _, e := range effects {
		if e.event == "" {
			s.machine.Committed(ctx, e.booking, e.from, actor)
			continue
		}
		s.publish(e.event, e.booking, actor)
	}

	s.logger.Info().
		Int64("user_id", userID).
		Int("reassigned", len(result.Reassigned)).
		Int("merged", len(result.Merged)).
		Int("discarded", len(result.Discarded)).
		Int("cancelled", len(result.Cancelled)).
		Msg("guest drafts claimed")
	return result, nil
}

func (s *BookingService) discardDraft(ctx context.Context, tx domain.BookingTx, b *models.Booking) (bool, error) {
	_, err := tx.GetPaymentByBookingID(ctx, b.ID)
	switch {
	case err == nil:
		if err := s.machine.Apply(ctx, tx, b, models.StatusCancelled); err != nil {
			return false, fmt.Errorf("cancel draft %d: %w", b.ID, err)
		}
		return true, nil
	case domain.IsNotFound(err):
		if err := tx.DeleteBooking(ctx, b); err != nil {
			return false, fmt.Errorf("delete draft %d: %w", b.ID, err)
		}
		return false, nil
	default:
		return false, err
	}
}

// copySelection overwrites dst's selection and prices with src's. Identity,
// owner and version of dst are kept.
func copySelection(dst, src *models.Booking) {
	dst.AddOnIDs = append([]int64(nil), src.AddOnIDs...)
	dst.TierID = src.TierID
	dst.TransportID = src.TransportID
	dst.NumTravelers = src.NumTravelers
	dst.Travelers = src.Travelers
	dst.TravelStart = src.TravelStart
	dst.TravelEnd = src.TravelEnd
	dst.RoomCount = src.RoomCount
	dst.TotalPrice = src.TotalPrice
	dst.TotalAmountPaid = src.TotalAmountPaid
	dst.ExpiresAt = src.ExpiresAt
}
