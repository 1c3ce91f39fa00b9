package bot

import (
	"bytes"
	"context"
	"strings"

	"yoyaku/internal/audit"
	"yoyaku/internal/booking"
	"yoyaku/internal/picker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	msgWelcome = "ご予約ボットです。\n/book でお客様情報を入力し、続けて日時をお選びください。"
	msgHelp    = "利用できるコマンド:\n/book お客様情報の入力\n/slots 日時の選択\n/cancel 手続きの中止\n/help このヘルプ"
	msgTooFast = "操作が速すぎます。少し待ってから再度お試しください。"
	msgExpired = "入力の有効期限が切れました。/book からやり直してください。"
	msgUnknown = "/book でご予約を開始できます。"
	msgNoAudit = "記録の出力は現在利用できません。"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	if !b.allow(userID) {
		b.reply(chatID, msgTooFast)
		return
	}
	text := strings.TrimSpace(msg.Text)

	// Commands interrupt any active flow.
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.reply(chatID, msgWelcome)
			return
		case "help":
			b.reply(chatID, msgHelp)
			return
		case "book":
			if b.pickerBusy(userID) {
				b.reply(chatID, booking.MsgBusy)
				return
			}
			delete(b.views, userID)
			b.startDialog(userID, chatID)
			return
		case "slots":
			b.openPicker(ctx, userID, chatID)
			return
		case "cancel":
			b.cancel(userID, chatID)
			return
		case "export":
			if b.isManager(userID) {
				b.sendExport(ctx, chatID)
				return
			}
		}
	}

	session := b.sessions.Get(userID)
	if session == nil || !inDialog(session.GetState()) {
		b.reply(chatID, msgUnknown)
		return
	}

	res := b.dialog.HandleInput(session, text)
	switch res.NewState {
	case booking.StateReview:
		out := tgbotapi.NewMessage(chatID, res.Message)
		out.ReplyMarkup = reviewKeyboard()
		if _, err := b.tg.Send(out); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("review send failed")
		}
	case booking.StateCanceled:
		b.sessions.Delete(userID)
		b.reply(chatID, res.Message)
	default:
		if res.Error != nil {
			zerolog.Ctx(ctx).Debug().Err(res.Error).Int64("user_id", userID).Msg("input rejected")
		}
		b.reply(chatID, res.Message)
	}
}

func inDialog(s booking.State) bool {
	switch s {
	case booking.StateAskName, booking.StateAskFurigana, booking.StateAskEmail, booking.StateAskTel, booking.StateReview:
		return true
	}
	return false
}

// startDialog begins step one from the first question.
func (b *Bot) startDialog(userID, chatID int64) {
	session := b.sessions.Reset(userID)
	res := b.dialog.Start(session)
	b.reply(chatID, res.Message)
}

func (b *Bot) cancel(userID, chatID int64) {
	if b.pickerBusy(userID) {
		b.reply(chatID, booking.MsgBusy)
		return
	}
	b.sessions.Delete(userID)
	delete(b.views, userID)
	b.reply(chatID, booking.StatePrompts[booking.StateCanceled])
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.Message == nil {
		return
	}
	userID := cq.From.ID
	chatID := cq.Message.Chat.ID
	if !b.allow(userID) {
		b.answerCallback(cq.ID, msgTooFast)
		return
	}
	b.answerCallback(cq.ID, "")

	data := cq.Data
	switch data {
	case cbNoop:
		return
	case cbFormOK:
		b.confirmForm(ctx, userID, chatID)
		return
	case cbFormEdit:
		b.editForm(userID, chatID)
		return
	}

	v, ok := b.views[userID]
	if !ok {
		b.reply(chatID, msgNoPicker)
		return
	}
	if action, ok := b.pickerAction(v.state, data); ok {
		b.dispatch(ctx, userID, action)
	}
}

// pickerAction maps callback data to a picker action.
func (b *Bot) pickerAction(s picker.State, data string) (picker.Action, bool) {
	switch data {
	case cbWeek + "-1":
		return picker.ChangeWeek{Delta: -1}, true
	case cbWeek + "+1":
		return picker.ChangeWeek{Delta: 1}, true
	case cbSubmit:
		return picker.Submit{}, true
	case cbRetry:
		return picker.Refresh{}, true
	case cbDaysSend:
		return picker.SendDays{}, true
	case cbDaysShow:
		return picker.ShowDayRequest{}, true
	case cbDaysBack:
		return picker.BackToSlots{}, true
	}
	if iso, ok := resolveSlotCallback(s, data); ok {
		return picker.SelectSlot{ISO: iso}, true
	}
	if m, ok := strings.CutPrefix(data, cbContact); ok {
		for _, known := range b.opts.ContactMethods {
			if m == known {
				return picker.SetContactMethod{Method: m}, true
			}
		}
		return nil, false
	}
	if tok, ok := strings.CutPrefix(data, cbDay); ok {
		return picker.ToggleWeekday{Token: tok}, true
	}
	return nil, false
}

// confirmForm saves the reviewed details and moves on to slot selection.
func (b *Bot) confirmForm(ctx context.Context, userID, chatID int64) {
	session := b.sessions.Get(userID)
	if session == nil || session.GetState() != booking.StateReview {
		b.reply(chatID, msgExpired)
		return
	}
	d := session.Draft.Trimmed()
	if err := d.Validate(); err != nil {
		b.reply(chatID, booking.MsgIncomplete)
		b.startDialog(userID, chatID)
		return
	}
	if err := b.deps.Drafts.Save(ctx, draftKey(userID), d); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("draft save failed")
		b.reply(chatID, msgStoreDown)
		return
	}
	b.deps.Submitter.RegisterAsync(d)
	b.dialog.FSM().Transition(session, booking.StateSlotPicker)
	b.openPicker(ctx, userID, chatID)
}

func (b *Bot) editForm(userID, chatID int64) {
	session := b.sessions.Get(userID)
	if session == nil || session.GetState() != booking.StateReview {
		b.reply(chatID, msgExpired)
		return
	}
	b.dialog.FSM().Transition(session, booking.StateAskName)
	b.reply(chatID, booking.StatePrompts[booking.StateAskName])
}

func (b *Bot) sendExport(ctx context.Context, chatID int64) {
	if b.deps.Audit == nil {
		b.reply(chatID, msgNoAudit)
		return
	}
	var buf bytes.Buffer
	if err := b.deps.Audit.Export(ctx, &buf); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("export failed")
		b.reply(chatID, msgNoAudit)
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  audit.Filename(b.now().In(b.opts.Location)),
		Bytes: buf.Bytes(),
	})
	if _, err := b.tg.Send(doc); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("export send failed")
	}
}
