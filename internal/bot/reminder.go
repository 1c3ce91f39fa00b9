package bot

import (
	"context"
	"fmt"
	"time"

	"yoyaku/internal/journal"
	"yoyaku/internal/slots"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	reminderHour = 9
	// reminderLookback bounds how far back confirmed bookings are scanned.
	reminderLookback = 60 * 24 * time.Hour
)

// ReminderSource lists confirmed bookings.
type ReminderSource interface {
	Confirmed(ctx context.Context, since time.Time) ([]journal.Attempt, error)
}

// StartReminders sends next-day reminders every morning at 09:00 local time.
func (b *Bot) StartReminders(ctx context.Context, src ReminderSource) {
	if b == nil || src == nil {
		return
	}

	go func() {
		timer := time.NewTimer(b.timeUntilNextHour(reminderHour))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				sent := b.sendTomorrowReminders(ctx, src)
				b.logger.Info().Int("sent", sent).Msg("reminders sent")
				timer.Reset(b.timeUntilNextHour(reminderHour))
			}
		}
	}()
}

// sendTomorrowReminders messages every user whose confirmed slot falls on tomorrow's date.
func (b *Bot) sendTomorrowReminders(ctx context.Context, src ReminderSource) int {
	now := b.now().In(b.opts.Location)
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")

	attempts, err := src.Confirmed(ctx, now.Add(-reminderLookback))
	if err != nil {
		b.logger.Error().Err(err).Msg("reminder: load bookings")
		return 0
	}

	sent := 0
	seen := make(map[string]bool)
	for _, a := range attempts {
		start, err := slots.ParseISO(a.SlotISO, b.opts.Location)
		if err != nil || start.Format("2006-01-02") != tomorrow {
			continue
		}
		key := fmt.Sprintf("%d|%s", a.UserID, a.SlotISO)
		if seen[key] {
			continue
		}
		seen[key] = true

		msg := tgbotapi.NewMessage(a.UserID, formatReminderMessage(start, a.ContactMethod))
		if _, err := b.tg.Send(msg); err != nil {
			b.logger.Warn().Err(err).Int64("user_id", a.UserID).Msg("reminder: send failed")
			continue
		}
		sent++
	}
	return sent
}

func formatReminderMessage(start time.Time, contactMethod string) string {
	text := fmt.Sprintf("リマインダー: 明日 %d月%d日 %s からご予約があります。",
		int(start.Month()), start.Day(), start.Format("15:04"))
	if contactMethod != "" {
		text += "\nご連絡方法: " + contactLabel(contactMethod)
	}
	return text
}

func (b *Bot) timeUntilNextHour(hour int) time.Duration {
	now := b.now().In(b.opts.Location)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
