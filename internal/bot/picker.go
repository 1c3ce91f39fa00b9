package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"yoyaku/internal/booking"
	"yoyaku/internal/draft"
	"yoyaku/internal/events"
	"yoyaku/internal/metrics"
	"yoyaku/internal/picker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// view is one user's slot picker message and its state.
type view struct {
	chatID    int64
	messageID int
	state     picker.State
	touched   time.Time
}

func (v *view) busy() bool {
	return v.state.Submitting || v.state.SendingDays || v.state.Phase == picker.PhaseLoading
}

// pickerBusy reports whether userID has a picker waiting on the remote endpoint.
func (b *Bot) pickerBusy(userID int64) bool {
	v, ok := b.views[userID]
	return ok && v.busy()
}

// effectResult carries the outcome of a background effect back to the loop.
// Results for a view that has since been replaced are dropped.
type effectResult struct {
	userID    int64
	view      *view
	requestID string
	action    picker.Action
}

const (
	msgDraftMissing = "お客様情報が見つかりません。最初からご入力ください。"
	msgNoPicker     = "操作の有効期限が切れました。/slots からやり直してください。"
	msgStoreDown    = "一時的にご利用いただけません。時間を置いて再度お試しください。"
)

// openPicker starts step two for userID. The stored draft must be usable.
func (b *Bot) openPicker(ctx context.Context, userID, chatID int64) {
	if b.pickerBusy(userID) {
		b.reply(chatID, booking.MsgBusy)
		return
	}
	l := zerolog.Ctx(ctx)
	if _, err := b.deps.Drafts.Load(ctx, draftKey(userID)); err != nil {
		if errors.Is(err, draft.ErrMissing) || errors.Is(err, draft.ErrMalformed) {
			l.Info().Err(err).Int64("user_id", userID).Msg("no usable draft, back to step one")
			b.reply(chatID, msgDraftMissing)
			b.startDialog(userID, chatID)
			return
		}
		l.Error().Err(err).Int64("user_id", userID).Msg("draft load failed")
		b.reply(chatID, msgStoreDown)
		return
	}

	session := b.sessions.GetOrCreate(userID)
	session.SetState(booking.StateSlotPicker)

	st, effects := picker.New(b.opts.EndpointConfigured, b.opts.ContactMethods[0])
	v := &view{chatID: chatID, state: st, touched: b.now()}
	b.views[userID] = v
	b.render(ctx, v)
	b.runEffects(ctx, userID, v, effects)
}

// dispatch reduces a and runs whatever effects result.
func (b *Bot) dispatch(ctx context.Context, userID int64, a picker.Action) {
	v, ok := b.views[userID]
	if !ok {
		return
	}
	next, effects := picker.Reduce(v.state, a)
	v.state = next
	v.touched = b.now()
	b.render(ctx, v)
	b.runEffects(ctx, userID, v, effects)
}

func (b *Bot) applyResult(ctx context.Context, res effectResult) {
	v, ok := b.views[res.userID]
	if !ok {
		return
	}
	if v != res.view {
		metrics.IncStaleResult()
		zerolog.Ctx(ctx).Debug().Int64("user_id", res.userID).Msg("result for replaced picker dropped")
		return
	}
	switch a := res.action.(type) {
	case picker.SlotsLoaded:
		if v.state.Stale(a.Gen) {
			metrics.IncStaleResult()
			zerolog.Ctx(ctx).Debug().Uint64("gen", a.Gen).Msg("stale slot result dropped")
			return
		}
	case picker.SlotsFailed:
		if v.state.Stale(a.Gen) {
			metrics.IncStaleResult()
			zerolog.Ctx(ctx).Debug().Uint64("gen", a.Gen).Msg("stale slot failure dropped")
			return
		}
	}
	b.dispatch(ctx, res.userID, res.action)
}

func (b *Bot) runEffects(ctx context.Context, userID int64, v *view, effects []picker.Effect) {
	requestID := requestIDFrom(ctx)
	for _, eff := range effects {
		switch e := eff.(type) {
		case picker.FetchSlots:
			go b.fetchSlots(ctx, effectResult{userID: userID, view: v, requestID: requestID}, e.Gen)
		case picker.SubmitBooking:
			go b.submitBooking(ctx, effectResult{userID: userID, view: v, requestID: requestID}, e)
		case picker.RequestDays:
			go b.requestDays(ctx, effectResult{userID: userID, view: v, requestID: requestID}, e.Days)
		case picker.ClearDraft:
			if err := b.deps.Drafts.Clear(ctx, draftKey(userID)); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", userID).Msg("draft clear failed")
			}
		case picker.Navigate:
			b.navigate(ctx, userID, v, e.To)
		}
	}
}

// post sends res to the loop with a as its action.
func (b *Bot) post(ctx context.Context, res effectResult, a picker.Action) {
	res.action = a
	select {
	case b.results <- res:
	case <-ctx.Done():
	}
}

func (b *Bot) fetchSlots(ctx context.Context, res effectResult, gen uint64) {
	userID, requestID := res.userID, res.requestID
	fctx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	raw, err := b.deps.Slots.FetchSlots(fctx)
	if err != nil {
		metrics.IncSlotFetch("error")
		b.publish(events.New(events.SlotsFailed, userID, events.SlotsPayload{Error: err.Error()}))
		b.logger.Warn().Err(err).Str("request_id", requestID).Int64("user_id", userID).Msg("slot fetch failed")
		b.post(ctx, res, picker.SlotsFailed{Gen: gen, Err: err})
		return
	}
	metrics.IncSlotFetch("ok")
	b.publish(events.New(events.SlotsFetched, userID, events.SlotsPayload{Count: len(raw)}))
	b.post(ctx, res, picker.SlotsLoaded{
		Gen: gen,
		Raw: raw,
		Now: b.now().In(b.opts.Location),
	})
}

func (b *Bot) loadDraft(ctx context.Context, userID int64) (draft.Draft, *booking.Result) {
	d, err := b.deps.Drafts.Load(ctx, draftKey(userID))
	if err == nil {
		return d, nil
	}
	if errors.Is(err, draft.ErrMissing) || errors.Is(err, draft.ErrMalformed) {
		return d, &booking.Result{Outcome: booking.OutcomeInvalid, Message: msgDraftMissing, Err: err}
	}
	return d, &booking.Result{Outcome: booking.OutcomeTransport, Message: msgStoreDown, Err: err}
}

func (b *Bot) submitBooking(ctx context.Context, res effectResult, e picker.SubmitBooking) {
	sctx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	d, failed := b.loadDraft(sctx, res.userID)
	if failed != nil {
		b.post(ctx, res, picker.BookingSettled{Result: *failed})
		return
	}
	out := b.deps.Submitter.Submit(sctx, res.userID, d, e.SlotISO, e.ContactMethod)
	b.post(ctx, res, picker.BookingSettled{Result: out})
}

func (b *Bot) requestDays(ctx context.Context, res effectResult, days []string) {
	sctx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	d, failed := b.loadDraft(sctx, res.userID)
	if failed != nil {
		b.post(ctx, res, picker.DaysSettled{Result: *failed})
		return
	}
	out := b.deps.Submitter.RequestDays(sctx, res.userID, d, days)
	b.post(ctx, res, picker.DaysSettled{Result: out})
}

func (b *Bot) navigate(ctx context.Context, userID int64, v *view, to picker.Destination) {
	switch to {
	case picker.DestConfirmation:
		session := b.sessions.GetOrCreate(userID)
		b.dialog.FSM().Transition(session, booking.StateComplete)
		b.sessions.Delete(userID)
		delete(b.views, userID)
		zerolog.Ctx(ctx).Info().Int64("user_id", userID).Str("slot", v.state.SelectedISO).Msg("booking flow complete")
	case picker.DestStepOne:
		delete(b.views, userID)
		zerolog.Ctx(ctx).Info().Int64("user_id", userID).Msg("draft unusable, back to step one")
		b.startDialog(userID, v.chatID)
	}
}

func (b *Bot) publish(ev events.Event) {
	if err := b.deps.Bus.Publish(ev); err != nil {
		b.logger.Error().Err(err).Str("event", ev.Type).Msg("event handler failed")
	}
}

// render edits the picker message in place, sending a new one the first time.
func (b *Bot) render(ctx context.Context, v *view) {
	text := pickerText(v.state, b.opts.ContactMethods)
	markup := pickerKeyboard(v.state, b.opts.ContactMethods)

	if v.messageID != 0 {
		var edit tgbotapi.EditMessageTextConfig
		if markup != nil {
			edit = tgbotapi.NewEditMessageTextAndMarkup(v.chatID, v.messageID, text, *markup)
		} else {
			edit = tgbotapi.NewEditMessageText(v.chatID, v.messageID, text)
		}
		if _, err := b.tg.Send(edit); err != nil && !strings.Contains(err.Error(), "message is not modified") {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("picker edit failed")
		}
		return
	}

	msg := tgbotapi.NewMessage(v.chatID, text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := b.tg.Send(msg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("picker send failed")
		return
	}
	v.messageID = sent.MessageID
}

type requestIDKey struct{}

// requestIDFrom reads the request id attached by the update loop.
func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
