package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"safarbook/internal/domain"
	"safarbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	sheetBookings = "Reconciliation"
	sheetSummary  = "Summary"
)

// Mismatch reasons written to the report.
const (
	ReasonAmountMismatch   = "amount_mismatch"
	ReasonConfirmedUnpaid  = "confirmed_without_payment"
	ReasonPaidNotConfirmed = "payment_without_confirmation"
	ReasonCurrencyMissing  = "currency_missing"
)

// Source is the read side of the booking store the report needs.
type Source interface {
	ListBookingsCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error)
}

// Row pairs a booking with its payment record, if any.
type Row struct {
	Booking  *models.Booking
	Payment  *models.Payment
	Mismatch string
}

type Summary struct {
	Bookings   int
	Payments   int
	Confirmed  int
	Mismatches int
	// Captured is the sum of succeeded payments.
	Captured int64
}

type Reconciler struct {
	src    Source
	logger *zerolog.Logger
}

func NewReconciler(src Source, logger *zerolog.Logger) *Reconciler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reconciler{src: src, logger: logger}
}

// Collect loads bookings created in [from, to) with their payments and flags
// every row where the two disagree.
func (r *Reconciler) Collect(ctx context.Context, from, to time.Time) ([]Row, Summary, error) {
	if !to.After(from) {
		return nil, Summary{}, domain.ValidationError{Field: "to", Msg: "must be after from"}
	}

	bookings, err := r.src.ListBookingsCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("list bookings: %w", err)
	}

	rows := make([]Row, 0, len(bookings))
	var sum Summary
	for _, b := range bookings {
		row := Row{Booking: b}
		p, err := r.src.GetPaymentByBookingID(ctx, b.ID)
		switch {
		case err == nil:
			row.Payment = p
			sum.Payments++
		case domain.IsNotFound(err):
		default:
			return nil, Summary{}, fmt.Errorf("payment for booking %d: %w", b.ID, err)
		}

		row.Mismatch = mismatch(b, row.Payment)
		if row.Mismatch != "" {
			sum.Mismatches++
		}
		if b.Status == models.StatusConfirmed {
			sum.Confirmed++
		}
		if row.Payment != nil && row.Payment.Status == models.PaymentSuccess {
			sum.Captured += row.Payment.AmountMinor
		}
		sum.Bookings++
		rows = append(rows, row)
	}
	return rows, sum, nil
}

func mismatch(b *models.Booking, p *models.Payment) string {
	if p == nil || p.Status != models.PaymentSuccess {
		if b.Status == models.StatusConfirmed {
			return ReasonConfirmedUnpaid
		}
		// an open order must still match what the booking asks for
		if p != nil && p.Status == models.PaymentPending && b.Status == models.StatusPendingPayment &&
			p.AmountMinor != models.ToMinorUnits(b.TotalAmountPaid) {
			return ReasonAmountMismatch
		}
		return ""
	}

	if b.Status != models.StatusConfirmed {
		return ReasonPaidNotConfirmed
	}
	if p.AmountMinor != models.ToMinorUnits(b.TotalAmountPaid) {
		return ReasonAmountMismatch
	}
	if p.Currency == "" {
		return ReasonCurrencyMissing
	}
	return ""
}

// WriteXLSX writes the report for [from, to) into dir and returns the file path.
func (r *Reconciler) WriteXLSX(ctx context.Context, from, to time.Time, dir string) (string, Summary, error) {
	rows, sum, err := r.Collect(ctx, from, to)
	if err != nil {
		return "", Summary{}, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Summary{}, fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetBookings)
	if err != nil {
		return "", Summary{}, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeBookingRows(f, rows); err != nil {
		return "", Summary{}, err
	}
	if err := writeSummary(f, from, to, sum); err != nil {
		return "", Summary{}, err
	}
	_ = f.DeleteSheet("Sheet1")

	name := fmt.Sprintf("reconciliation_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", Summary{}, fmt.Errorf("error saving file: %w", err)
	}

	r.logger.Info().
		Str("file_path", path).
		Int("bookings", sum.Bookings).
		Int("mismatches", sum.Mismatches).
		Msg("Reconciliation report created")
	return path, sum, nil
}

var bookingHeaders = []string{
	"Booking ID", "Reference", "Status", "Package ID", "Travelers", "Per person", "Total",
	"Order ID", "Payment ID", "Payment status", "Paid", "Currency", "Created", "Mismatch",
}

func writeBookingRows(f *excelize.File, rows []Row) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	flagStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	for i, h := range bookingHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetBookings, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(bookingHeaders))
	_ = f.SetCellStyle(sheetBookings, "A1", lastCol+"1", headerStyle)

	for i, row := range rows {
		b := row.Booking
		values := []any{
			b.ID, b.Reference(), string(b.Status), b.PackageID, b.NumTravelers,
			models.FormatMoney(b.TotalPrice), models.FormatMoney(b.TotalAmountPaid),
			"", "", "", "", "",
			b.CreatedAt.UTC().Format(time.RFC3339), row.Mismatch,
		}
		if p := row.Payment; p != nil {
			values[7] = p.OrderID
			values[8] = p.ExternalPaymentID
			values[9] = string(p.Status)
			values[10] = models.FormatMoney(p.Amount())
			values[11] = p.Currency
		}

		r := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, r)
		if err := f.SetSheetRow(sheetBookings, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", r, err)
		}
		if row.Mismatch != "" {
			end, _ := excelize.CoordinatesToCellName(len(bookingHeaders), r)
			_ = f.SetCellStyle(sheetBookings, cell, end, flagStyle)
		}
	}

	_ = f.SetColWidth(sheetBookings, "A", "A", 12)
	_ = f.SetColWidth(sheetBookings, "B", "B", 18)
	_ = f.SetColWidth(sheetBookings, "C", lastCol, 16)
	return nil
}

func writeSummary(f *excelize.File, from, to time.Time, sum Summary) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	lines := [][]any{
		{"Period", fmt.Sprintf("%s - %s", from.Format("2006-01-02"), to.Format("2006-01-02"))},
		{"Bookings", sum.Bookings},
		{"Payments", sum.Payments},
		{"Confirmed", sum.Confirmed},
		{"Captured", models.FormatMoney(models.FromMinorUnits(sum.Captured))},
		{"Mismatches", sum.Mismatches},
	}
	for i, line := range lines {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetSummary, cell, &line); err != nil {
			return fmt.Errorf("error writing summary: %w", err)
		}
	}
	_ = f.SetColWidth(sheetSummary, "A", "B", 22)
	return nil
}
