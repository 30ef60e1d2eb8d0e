package database

import (
	"context"
	"database/sql"
	"fmt"

	"safarbook/internal/domain"
	"safarbook/internal/models"
)

const paymentColumns = `id, booking_id, order_id, payment_id, signature, amount_minor, currency,
	status, failure_reason, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p         models.Payment
		paymentID sql.NullString
		signature sql.NullString
		status    string
		reason    sql.NullString
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.OrderID, &paymentID, &signature, &p.AmountMinor,
		&p.Currency, &status, &reason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ExternalPaymentID = paymentID.String
	p.Signature = signature.String
	p.FailureReason = reason.String
	if p.Status, err = models.ParsePaymentStatus(status); err != nil {
		return nil, fmt.Errorf("payment %d: %w", p.ID, err)
	}
	return &p, nil
}

func (q *Queries) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`, orderID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound("payment", err)
	}
	return p, nil
}

func (q *Queries) GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = ?`, bookingID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound("payment", err)
	}
	return p, nil
}

// UpsertPayment creates the booking's payment or overwrites it with a fresh
// PENDING order. A payment that already succeeded is never overwritten.
func (q *Queries) UpsertPayment(ctx context.Context, p *models.Payment) error {
	now := q.clock()
	query := `INSERT INTO payments (booking_id, order_id, amount_minor, currency, status, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(booking_id) DO UPDATE SET
				order_id = excluded.order_id,
				amount_minor = excluded.amount_minor,
				currency = excluded.currency,
				status = excluded.status,
				payment_id = NULL,
				signature = NULL,
				failure_reason = NULL,
				updated_at = excluded.updated_at
			  WHERE payments.status != 'SUCCESS'`
	_, err := q.q.ExecContext(ctx, query,
		p.BookingID, p.OrderID, p.AmountMinor, p.Currency, string(models.PaymentPending), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to save payment: order %s: %w", p.OrderID, domain.ErrConflict)
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}

	saved, err := q.GetPaymentByBookingID(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if saved.OrderID != p.OrderID {
		return fmt.Errorf("payment for booking %d already settled: %w", p.BookingID, domain.ErrConflict)
	}
	*p = *saved
	return nil
}

func (q *Queries) MarkPaymentSucceeded(ctx context.Context, p *models.Payment, externalPaymentID, signature string) error {
	now := q.clock()
	query := `UPDATE payments SET status = ?, payment_id = ?, signature = ?, failure_reason = NULL, updated_at = ?
			  WHERE id = ? AND status != ?`
	result, err := q.q.ExecContext(ctx, query,
		string(models.PaymentSuccess), externalPaymentID, nullString(signature), now, p.ID, string(models.PaymentSuccess))
	if err != nil {
		return fmt.Errorf("failed to mark payment succeeded: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return err
	}
	p.Status = models.PaymentSuccess
	p.ExternalPaymentID = externalPaymentID
	p.Signature = signature
	p.FailureReason = ""
	p.UpdatedAt = now
	return nil
}

func (q *Queries) MarkPaymentFailed(ctx context.Context, p *models.Payment, reason string) error {
	now := q.clock()
	query := `UPDATE payments SET status = ?, failure_reason = ?, updated_at = ?
			  WHERE id = ? AND status = ?`
	result, err := q.q.ExecContext(ctx, query,
		string(models.PaymentFailed), nullString(reason), now, p.ID, string(models.PaymentPending))
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return err
	}
	p.Status = models.PaymentFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	return nil
}
