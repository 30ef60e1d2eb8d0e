package notify

import (
	"context"
	"fmt"
	"strings"

	"safarbook/internal/models"
	"safarbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, task worker.Task) error {
	b := task.Booking
	s.logger.Info().
		Str("event", task.Event).
		Int64("booking_id", b.ID).
		Str("reference", b.Reference()).
		Str("status", string(b.Status)).
		Str("total_amount", models.FormatMoney(b.TotalAmountPaid)).
		Msg("booking notification")
	return nil
}

// TelegramSender is the subset of *tgbotapi.BotAPI the sink needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts booking notifications to an operations chat.
type TelegramSink struct {
	bot    TelegramSender
	chatID int64
}

func NewTelegramSink(bot TelegramSender, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(_ context.Context, task worker.Task) error {
	msg := tgbotapi.NewMessage(s.chatID, telegramText(task.Event, task.Booking))
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func telegramText(event string, b *models.Booking) string {
	var title string
	switch event {
	case EventCreated:
		title = "🆕 Booking created"
	case EventConfirmed:
		title = "✅ Booking confirmed"
	case EventCancelled:
		title = "❌ Booking cancelled"
	default:
		title = event
	}

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Reference: %s\n", b.Reference())
	fmt.Fprintf(&sb, "Package: %d\n", b.PackageID)
	fmt.Fprintf(&sb, "Travelers: %d\n", b.NumTravelers)
	fmt.Fprintf(&sb, "Total: %s", models.FormatMoney(b.TotalAmountPaid))
	return sb.String()
}

// LedgerWriter is satisfied by *google.LedgerService.
type LedgerWriter interface {
	UpsertBooking(ctx context.Context, b *models.Booking) error
}

// SheetsSink mirrors each notified booking into the spreadsheet ledger.
type SheetsSink struct {
	ledger LedgerWriter
}

func NewSheetsSink(ledger LedgerWriter) *SheetsSink {
	return &SheetsSink{ledger: ledger}
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Deliver(ctx context.Context, task worker.Task) error {
	if err := s.ledger.UpsertBooking(ctx, task.Booking); err != nil {
		return fmt.Errorf("ledger upsert: %w", err)
	}
	return nil
}
