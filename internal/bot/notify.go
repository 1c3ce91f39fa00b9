package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"yoyaku/internal/booking"
	"yoyaku/internal/events"
	"yoyaku/internal/slots"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// HandleEvent tells managers about confirmed bookings and preferred-day requests.
// Subscribe it to booking.confirmed and days.requested.
func (b *Bot) HandleEvent(ev events.Event) error {
	var text string
	switch ev.Type {
	case events.BookingConfirmed:
		var p events.BookingPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		text = fmt.Sprintf("新しいご予約\nユーザーID: %d\n日時: %s\nご連絡方法: %s",
			ev.UserID, b.formatSlot(p.SlotISO), contactLabel(p.ContactMethod))
	case events.DaysRequested:
		var p events.DaysPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if p.Outcome != booking.OutcomeConfirmed.String() {
			return nil
		}
		text = fmt.Sprintf("希望曜日のリクエスト\nユーザーID: %d\n曜日: %s", ev.UserID, strings.Join(p.Days, "・"))
	default:
		return nil
	}

	var errs []error
	for mgrID := range b.managers {
		if _, err := b.tg.Send(tgbotapi.NewMessage(mgrID, text)); err != nil {
			errs = append(errs, fmt.Errorf("notify %d: %w", mgrID, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) formatSlot(iso string) string {
	t, err := slots.ParseISO(iso, b.opts.Location)
	if err != nil {
		return iso
	}
	return t.Format("2006/01/02 15:04")
}

// SendDocument delivers a file to every manager.
func (b *Bot) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if len(b.managers) == 0 {
		b.logger.Warn().Str("filename", filename).Msg("no managers configured, report dropped")
		return nil
	}
	var errs []error
	for mgrID := range b.managers {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := tgbotapi.NewDocument(mgrID, tgbotapi.FileBytes{Name: filename, Bytes: content})
		doc.Caption = caption
		if _, err := b.tg.Send(doc); err != nil {
			errs = append(errs, fmt.Errorf("send to %d: %w", mgrID, err))
		}
	}
	return errors.Join(errs...)
}
