package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"safarbook/internal/domain"
	"safarbook/internal/models"
)

const bookingColumns = `id, user_id, guest_token, package_id, add_on_ids, tier_id, transport_id,
	status, total_price, total_amount_paid, num_travelers, traveler_details,
	travel_start, travel_end, room_count, idempotency_key, expires_at, version,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		userID      sql.NullInt64
		guestToken  sql.NullString
		addOns      string
		status      string
		travelers   string
		travelStart sql.NullTime
		travelEnd   sql.NullTime
		idemKey     sql.NullString
		expiresAt   sql.NullTime
	)
	err := row.Scan(
		&b.ID, &userID, &guestToken, &b.PackageID, &addOns, &b.TierID, &b.TransportID,
		&status, &b.TotalPrice, &b.TotalAmountPaid, &b.NumTravelers, &travelers,
		&travelStart, &travelEnd, &b.RoomCount, &idemKey, &expiresAt, &b.Version,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		id := userID.Int64
		b.UserID = &id
	}
	b.GuestToken = guestToken.String
	b.IdempotencyKey = idemKey.String
	b.TravelStart = timePtr(travelStart)
	b.TravelEnd = timePtr(travelEnd)
	b.ExpiresAt = timePtr(expiresAt)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()

	if b.Status, err = models.ParseBookingStatus(status); err != nil {
		return nil, fmt.Errorf("booking %d: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(addOns), &b.AddOnIDs); err != nil {
		return nil, fmt.Errorf("booking %d: failed to decode add-ons: %w", b.ID, err)
	}
	if b.Travelers, err = models.DecodeTravelerManifest(travelers); err != nil {
		return nil, fmt.Errorf("booking %d: %w", b.ID, err)
	}
	return &b, nil
}

func encodeAddOns(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode add-ons: %w", err)
	}
	return string(raw), nil
}

func nullUserID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// CreateBooking inserts b and fills its id, version and timestamps.
// A second booking for the same owner and idempotency key yields domain.ErrDuplicateKey.
func (q *Queries) CreateBooking(ctx context.Context, b *models.Booking) error {
	addOns, err := encodeAddOns(b.AddOnIDs)
	if err != nil {
		return err
	}
	travelers, err := models.EncodeTravelerManifest(b.Travelers)
	if err != nil {
		return err
	}

	now := q.clock()
	query := `INSERT INTO bookings (
				user_id, guest_token, owner_key, package_id, add_on_ids, tier_id, transport_id,
				status, total_price, total_amount_paid, num_travelers, traveler_details,
				travel_start, travel_end, room_count, idempotency_key, expires_at, version,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := q.q.ExecContext(ctx, query,
		nullUserID(b.UserID),
		nullString(b.GuestToken),
		b.OwnerKey(),
		b.PackageID,
		addOns,
		b.TierID,
		b.TransportID,
		string(b.Status),
		models.RoundMoney(b.TotalPrice).StringFixed(models.MoneyPlaces),
		models.RoundMoney(b.TotalAmountPaid).StringFixed(models.MoneyPlaces),
		b.NumTravelers,
		travelers,
		nullTime(b.TravelStart),
		nullTime(b.TravelEnd),
		b.RoomCount,
		nullString(b.IdempotencyKey),
		nullTime(b.ExpiresAt),
		1,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create booking: %w", domain.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (q *Queries) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, notFound("booking", err)
	}
	return b, nil
}

func (q *Queries) GetBookingByIdempotencyKey(ctx context.Context, ownerKey, key string) (*models.Booking, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE owner_key = ? AND idempotency_key = ?`,
		ownerKey, key)
	b, err := scanBooking(row)
	if err != nil {
		return nil, notFound("booking", err)
	}
	return b, nil
}

// ListBookingsByOwner returns the owner's bookings, newest first. An empty status matches all.
func (q *Queries) ListBookingsByOwner(ctx context.Context, ownerKey string, status models.BookingStatus) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE owner_key = ?`
	args := []interface{}{ownerKey}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	return q.listBookings(ctx, query, args...)
}

func (q *Queries) ListBookingsCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE created_at >= ? AND created_at < ? ORDER BY id ASC`
	return q.listBookings(ctx, query, from.UTC(), to.UTC())
}

func (q *Queries) listBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// UpdateBookingStatus applies a status change guarded by version and current status.
func (q *Queries) UpdateBookingStatus(ctx context.Context, b *models.Booking, status models.BookingStatus, expiresAt *time.Time) error {
	now := q.clock()
	query := `UPDATE bookings SET status = ?, expires_at = ?, version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ? AND status = ?`
	result, err := q.q.ExecContext(ctx, query,
		string(status), nullTime(expiresAt), now, b.ID, b.Version, string(b.Status))
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return err
	}

	b.Status = status
	b.ExpiresAt = expiresAt
	b.Version++
	b.UpdatedAt = now
	return nil
}

// UpdateBooking rewrites the owner, selection and price of a DRAFT booking.
func (q *Queries) UpdateBooking(ctx context.Context, b *models.Booking) error {
	addOns, err := encodeAddOns(b.AddOnIDs)
	if err != nil {
		return err
	}
	travelers, err := models.EncodeTravelerManifest(b.Travelers)
	if err != nil {
		return err
	}

	now := q.clock()
	query := `UPDATE bookings SET
				user_id = ?, guest_token = ?, owner_key = ?, add_on_ids = ?, tier_id = ?,
				transport_id = ?, total_price = ?, total_amount_paid = ?, num_travelers = ?,
				traveler_details = ?, travel_start = ?, travel_end = ?, room_count = ?,
				expires_at = ?, version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ? AND status = ?`
	result, err := q.q.ExecContext(ctx, query,
		nullUserID(b.UserID),
		nullString(b.GuestToken),
		b.OwnerKey(),
		addOns,
		b.TierID,
		b.TransportID,
		models.RoundMoney(b.TotalPrice).StringFixed(models.MoneyPlaces),
		models.RoundMoney(b.TotalAmountPaid).StringFixed(models.MoneyPlaces),
		b.NumTravelers,
		travelers,
		nullTime(b.TravelStart),
		nullTime(b.TravelEnd),
		b.RoomCount,
		nullTime(b.ExpiresAt),
		now,
		b.ID,
		b.Version,
		string(models.StatusDraft),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update booking: %w", domain.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return err
	}

	b.Version++
	b.UpdatedAt = now
	return nil
}

// DeleteBooking hard-deletes a DRAFT that has no payment record.
func (q *Queries) DeleteBooking(ctx context.Context, b *models.Booking) error {
	query := `DELETE FROM bookings
			  WHERE id = ? AND version = ? AND status = ?
			  AND NOT EXISTS (SELECT 1 FROM payments WHERE payments.booking_id = bookings.id)`
	result, err := q.q.ExecContext(ctx, query, b.ID, b.Version, string(models.StatusDraft))
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	return requireOneRow(result)
}
