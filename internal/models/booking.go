package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Booking is a travel package reservation.
// TotalPrice is per person; TotalAmountPaid is the total payable. Both are
// always computed server side by the pricing engine.
type Booking struct {
	ID              int64             `json:"id"`
	UserID          *int64            `json:"user_id,omitempty"`
	GuestToken      string            `json:"-"`
	PackageID       int64             `json:"package_id"`
	AddOnIDs        []int64           `json:"add_on_ids"`
	TierID          int64             `json:"tier_id"`
	TransportID     int64             `json:"transport_id"`
	Status          BookingStatus     `json:"status"`
	TotalPrice      decimal.Decimal   `json:"total_price"`
	TotalAmountPaid decimal.Decimal   `json:"total_amount_paid"`
	NumTravelers    int               `json:"num_travelers"`
	Travelers       *TravelerManifest `json:"traveler_details,omitempty"`
	TravelStart     *time.Time        `json:"travel_start,omitempty"`
	TravelEnd       *time.Time        `json:"travel_end,omitempty"`
	RoomCount       int               `json:"room_count"`
	IdempotencyKey  string            `json:"-"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Reference is derived from id and creation year; it is never stored.
func (b *Booking) Reference() string {
	return FormatReference(b.ID, b.CreatedAt.Year())
}

// OwnerKey identifies the owner for uniqueness and merge purposes.
func (b *Booking) OwnerKey() string {
	if b.UserID != nil {
		return UserOwnerKey(*b.UserID)
	}
	return GuestOwnerKey(b.GuestToken)
}

// IsExpired reports whether a DRAFT has outlived its expiry. ExpiresAt
// means nothing in any other status.
func (b *Booking) IsExpired(now time.Time) bool {
	if b.Status != StatusDraft || b.ExpiresAt == nil {
		return false
	}
	return !now.Before(*b.ExpiresAt)
}

// IsOwnedBy checks the caller against the booking owner. System callers own everything.
func (b *Booking) IsOwnedBy(c Caller) bool {
	if c.System {
		return true
	}
	if b.UserID != nil {
		return c.UserID != 0 && c.UserID == *b.UserID
	}
	return b.GuestToken != "" && c.GuestToken == b.GuestToken
}

// Selection returns the priced components currently held by the booking.
func (b *Booking) Selection() Selection {
	return Selection{
		PackageID:    b.PackageID,
		AddOnIDs:     append([]int64(nil), b.AddOnIDs...),
		TierID:       b.TierID,
		TransportID:  b.TransportID,
		NumTravelers: b.NumTravelers,
		Travelers:    b.Travelers,
		TravelStart:  b.TravelStart,
		TravelEnd:    b.TravelEnd,
		RoomCount:    b.RoomCount,
	}
}

// Selection is the set of inputs a price is computed from.
type Selection struct {
	PackageID    int64
	AddOnIDs     []int64
	TierID       int64
	TransportID  int64
	NumTravelers int
	Travelers    *TravelerManifest
	TravelStart  *time.Time
	TravelEnd    *time.Time
	RoomCount    int
}

// Caller is the identity on whose behalf an operation runs.
type Caller struct {
	UserID     int64
	GuestToken string
	System     bool
}

func (c Caller) OwnerKey() string {
	if c.UserID != 0 {
		return UserOwnerKey(c.UserID)
	}
	return GuestOwnerKey(c.GuestToken)
}

func (c Caller) IsAnonymous() bool {
	return !c.System && c.UserID == 0 && c.GuestToken == ""
}

func UserOwnerKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func GuestOwnerKey(token string) string {
	return fmt.Sprintf("guest:%s", token)
}
