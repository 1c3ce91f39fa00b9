package bot

import (
	"fmt"
	"strconv"
	"strings"

	"yoyaku/internal/picker"
	"yoyaku/internal/slots"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data prefixes.
const (
	cbWeek      = "wk:"
	cbSlot      = "slot:"
	cbSlotIndex = "slot#"
	cbSubmit    = "submit"
	cbRetry     = "retry"
	cbContact   = "cm:"
	cbDay       = "day:"
	cbDaysSend  = "days:send"
	cbDaysShow  = "days:show"
	cbDaysBack  = "days:back"
	cbFormOK    = "form:ok"
	cbFormEdit  = "form:edit"
	cbNoop      = "noop"

	// maxCallbackData is Telegram's limit on callback_data in bytes.
	maxCallbackData = 64
	slotsPerRow     = 3
)

const (
	textLoading    = "空き枠を読み込み中です…"
	textPickHeader = "ご希望の日時を選択してください。"
	textSubmitting = "送信中です…"
	textDaysHeader = "ご希望の曜日を選択して送信してください。"
	textFull       = "満席"
	textPrev       = "◀ 前へ"
	textNext       = "次へ ▶"
	textSubmit     = "この日時で予約する"
	textRetry      = "再読み込み"
	textShowDays   = "希望曜日を送る"
	textSendDays   = "送信する"
	textBackSlots  = "空き枠に戻る"
	textFormOK     = "この内容で日時選択へ"
	textFormEdit   = "修正する"
	textContact    = "ご連絡方法"
)

var contactLabels = map[string]string{
	"meet":  "オンライン(Meet)",
	"phone": "お電話",
	"zoom":  "オンライン(Zoom)",
}

func contactLabel(method string) string {
	if l, ok := contactLabels[method]; ok {
		return l
	}
	return method
}

// pickerText renders the message body for the current phase.
func pickerText(s picker.State, methods []string) string {
	var b strings.Builder
	switch s.Phase {
	case picker.PhaseLoading:
		b.WriteString(textLoading)
	case picker.PhaseReady:
		b.WriteString(textPickHeader)
		if w, ok := s.Week(); ok {
			fmt.Fprintf(&b, "\n\n%s", slots.WeekLabel(w))
		}
		if status := s.SelectionStatus(); status != "" {
			fmt.Fprintf(&b, "\n%s", status)
		}
		if len(methods) > 1 {
			fmt.Fprintf(&b, "\n%s: %s", textContact, contactLabel(s.ContactMethod))
		}
		if s.Submitting {
			fmt.Fprintf(&b, "\n\n%s", textSubmitting)
		}
	case picker.PhaseEmpty, picker.PhaseRequesting:
		b.WriteString(textDaysHeader)
		if len(s.Weekdays) > 0 {
			fmt.Fprintf(&b, "\n選択中: %s", strings.Join(s.Weekdays, "・"))
		}
		if s.SendingDays {
			fmt.Fprintf(&b, "\n\n%s", textSubmitting)
		}
	case picker.PhaseConfirmed:
		if day, slot, ok := s.Selection(); ok {
			fmt.Fprintf(&b, "%s %s", day.LabelFull, slot.Display())
		}
	}
	if s.Message.Text != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(levelMark(s.Message.Level))
		b.WriteString(s.Message.Text)
	}
	return b.String()
}

func levelMark(l picker.Level) string {
	switch l {
	case picker.LevelSuccess:
		return "✅ "
	case picker.LevelWarning:
		return "⚠️ "
	case picker.LevelError:
		return "❌ "
	default:
		return ""
	}
}

// pickerKeyboard builds the inline keyboard for s. Nil means no buttons.
func pickerKeyboard(s picker.State, methods []string) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	switch s.Phase {
	case picker.PhaseReady:
		if s.Submitting {
			return nil
		}
		rows = slotRows(s)
		if nav := navRow(s); len(nav) > 0 {
			rows = append(rows, nav)
		}
		if len(methods) > 1 {
			rows = append(rows, contactRow(s.ContactMethod, methods))
		}
		if s.CanSubmit() {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(textSubmit, cbSubmit),
			))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(textShowDays, cbDaysShow),
		))
	case picker.PhaseError:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(textRetry, cbRetry),
			tgbotapi.NewInlineKeyboardButtonData(textShowDays, cbDaysShow),
		))
	case picker.PhaseEmpty, picker.PhaseRequesting:
		if s.SendingDays {
			return nil
		}
		rows = append(rows, weekdayRow(s))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(textSendDays, cbDaysSend),
		))
		if s.Phase == picker.PhaseRequesting {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(textBackSlots, cbDaysBack),
			))
		} else {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(textRetry, cbRetry),
			))
		}
	default:
		return nil
	}
	return &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// slotRows lists the current page: a header per day, then its slots.
func slotRows(s picker.State) [][]tgbotapi.InlineKeyboardButton {
	w, ok := s.Week()
	if !ok {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for d, day := range w.Days {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(day.LabelFull, cbNoop),
		))
		if len(day.Slots) == 0 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(textFull, cbNoop),
			))
			continue
		}
		var row []tgbotapi.InlineKeyboardButton
		for i, slot := range day.Slots {
			label := slot.Display()
			if slot.StartISO == s.SelectedISO {
				label = "✓ " + label
			}
			loc := slots.Location{Week: w.Index, Day: d, Slot: i}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, slotCallback(slot, loc)))
			if len(row) == slotsPerRow {
				rows = append(rows, row)
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

func navRow(s picker.State) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	if s.CanPrev() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(textPrev, cbWeek+"-1"))
	}
	if s.CanNext() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(textNext, cbWeek+"+1"))
	}
	return row
}

func contactRow(current string, methods []string) []tgbotapi.InlineKeyboardButton {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(methods))
	for _, m := range methods {
		label := contactLabel(m)
		if m == current {
			label = "● " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbContact+m))
	}
	return row
}

func weekdayRow(s picker.State) []tgbotapi.InlineKeyboardButton {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(slots.WeekdayTokens))
	for _, tok := range slots.WeekdayTokens {
		label := tok
		if s.WeekdaySelected(tok) {
			label = "✓" + tok
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbDay+tok))
	}
	return row
}

func reviewKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(textFormOK, cbFormOK),
			tgbotapi.NewInlineKeyboardButtonData(textFormEdit, cbFormEdit),
		),
	)
}

// slotCallback carries the start string, or the slot's position when the string is too long.
func slotCallback(slot slots.Slot, loc slots.Location) string {
	data := cbSlot + slot.StartISO
	if len(data) <= maxCallbackData {
		return data
	}
	return fmt.Sprintf("%s%d.%d.%d", cbSlotIndex, loc.Week, loc.Day, loc.Slot)
}

// resolveSlotCallback maps callback data back to a start string.
func resolveSlotCallback(s picker.State, data string) (string, bool) {
	if iso, ok := strings.CutPrefix(data, cbSlot); ok {
		return iso, iso != ""
	}
	rest, ok := strings.CutPrefix(data, cbSlotIndex)
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return "", false
	}
	var idx [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", false
		}
		idx[i] = n
	}
	if idx[0] >= len(s.Weeks) || idx[1] >= len(s.Weeks[idx[0]].Days) {
		return "", false
	}
	day := s.Weeks[idx[0]].Days[idx[1]]
	if idx[2] >= len(day.Slots) {
		return "", false
	}
	return day.Slots[idx[2]].StartISO, true
}
