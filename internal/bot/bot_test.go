package bot

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"yoyaku/internal/booking"
	"yoyaku/internal/draft"
	"yoyaku/internal/events"
	"yoyaku/internal/gas"
	"yoyaku/internal/journal"
	"yoyaku/internal/picker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeTelegram struct {
	mu     sync.Mutex
	sent   []tgbotapi.Chattable
	nextID int
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeTelegram) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeTelegram) SelfUser() tgbotapi.User {
	return tgbotapi.User{UserName: "yoyaku_bot"}
}

func (f *fakeTelegram) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeTelegram) last() tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTelegram) documents() []tgbotapi.DocumentConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DocumentConfig
	for _, c := range f.sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Book(ctx context.Context, who gas.Identity, slotISO, contactMethod string) (gas.Response, error) {
	args := m.Called(ctx, who, slotISO, contactMethod)
	return args.Get(0).(gas.Response), args.Error(1)
}

func (m *mockRemote) Register(ctx context.Context, who gas.Identity) (gas.Response, error) {
	args := m.Called(ctx, who)
	return args.Get(0).(gas.Response), args.Error(1)
}

func (m *mockRemote) RequestDays(ctx context.Context, who gas.Identity, days []string) (gas.Response, error) {
	args := m.Called(ctx, who, days)
	return args.Get(0).(gas.Response), args.Error(1)
}

type fakeSlots struct {
	mu    sync.Mutex
	raw   []gas.RawSlot
	err   error
	calls int
}

func (f *fakeSlots) FetchSlots(context.Context) ([]gas.RawSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.raw, f.err
}

var (
	jst       = time.FixedZone("JST", 9*60*60)
	testNow   = time.Date(2024, 1, 8, 9, 0, 0, 0, jst)
	testDraft = draft.Draft{Name: "山田太郎", Furigana: "ヤマダタロウ", Email: "taro@example.com", Tel: "09012345678"}
)

const (
	testUser int64 = 42
	testChat int64 = 4200
	slotA          = "2024-01-10T10:00:00+09:00"
	slotB          = "2024-01-10T11:00:00+09:00"
)

type harness struct {
	bot    *Bot
	tg     *fakeTelegram
	remote *mockRemote
	source *fakeSlots
	drafts *draft.MemoryStore
	events *[]events.Event
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	logger := zerolog.Nop()
	bus := events.NewEventBus()
	var seen []events.Event
	var seenMu sync.Mutex
	bus.Subscribe(func(e events.Event) error {
		seenMu.Lock()
		defer seenMu.Unlock()
		seen = append(seen, e)
		return nil
	}, events.SlotsFetched, events.SlotsFailed, events.BookingConfirmed, events.BookingConflict, events.DaysRequested)

	remote := &mockRemote{}
	source := &fakeSlots{raw: []gas.RawSlot{
		{StartISO: slotB, EndISO: "2024-01-10T11:30:00+09:00"},
		{StartISO: slotA, EndISO: "2024-01-10T10:30:00+09:00"},
	}}
	drafts := draft.NewMemoryStore(time.Hour)
	tg := &fakeTelegram{}

	opts.EndpointConfigured = true
	opts.Location = jst
	b, err := NewWithTelegramClient(tg, Deps{
		Slots:     source,
		Submitter: booking.NewSubmitter(remote, bus, &logger),
		Drafts:    drafts,
		Bus:       bus,
	}, opts, &logger)
	require.NoError(t, err)
	b.now = func() time.Time { return testNow }

	return &harness{bot: b, tg: tg, remote: remote, source: source, drafts: drafts, events: &seen}
}

func (h *harness) nextResult(t *testing.T) effectResult {
	t.Helper()
	select {
	case r := <-h.bot.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no effect result")
		return effectResult{}
	}
}

// settle applies the next posted result on the test goroutine, acting as the loop.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	h.bot.applyResult(context.Background(), h.nextResult(t))
}

func callback(data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: testUser},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: testChat}},
		Data:    data,
	}
}

func message(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: testUser},
		Chat: &tgbotapi.Chat{ID: testChat},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func TestNewWithTelegramClientRequiresDeps(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewWithTelegramClient(nil, Deps{}, Options{}, &logger)
	assert.ErrorIs(t, err, errNilClient)

	_, err = NewWithTelegramClient(&fakeTelegram{}, Deps{}, Options{}, &logger)
	assert.Error(t, err)
}

func TestBookingFlow(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))

	h.bot.openPicker(ctx, testUser, testChat)
	v := h.bot.views[testUser]
	require.NotNil(t, v)
	assert.Equal(t, picker.PhaseLoading, v.state.Phase)
	assert.Equal(t, textLoading, h.tg.texts()[0])

	h.settle(t)
	require.Equal(t, picker.PhaseReady, v.state.Phase)
	assert.Equal(t, slotA, v.state.SelectedISO, "first slot is preselected")
	assert.Contains(t, h.tg.texts()[1], "1月10日(水) 10:00 - 10:30 を選択中です")

	h.bot.handleCallback(ctx, callback(cbSlot+slotB))
	assert.Equal(t, slotB, v.state.SelectedISO)

	h.remote.On("Book", mock.Anything, mock.Anything, slotB, booking.DefaultContactMethod).
		Return(gas.Response{Status: "ok"}, nil).Once()

	h.bot.handleCallback(ctx, callback(cbSubmit))
	assert.True(t, v.state.Submitting)
	h.settle(t)

	assert.Equal(t, picker.PhaseConfirmed, v.state.Phase)
	_, stillOpen := h.bot.views[testUser]
	assert.False(t, stillOpen)
	_, err := h.drafts.Load(ctx, draftKey(testUser))
	assert.ErrorIs(t, err, draft.ErrMissing, "draft is cleared after confirmation")
	assert.Contains(t, h.tg.texts()[len(h.tg.texts())-1], booking.MsgConfirmed)
	h.remote.AssertExpectations(t)
}

func TestConflictRefetchesAndKeepsMessage(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))

	h.bot.openPicker(ctx, testUser, testChat)
	h.settle(t)

	// slotA is taken by someone else
	h.source.mu.Lock()
	h.source.raw = h.source.raw[:1]
	h.source.mu.Unlock()

	h.remote.On("Book", mock.Anything, mock.Anything, slotA, booking.DefaultContactMethod).
		Return(gas.Response{Status: "error"}, nil).Once()
	h.bot.handleCallback(ctx, callback(cbSubmit))
	h.settle(t)

	v := h.bot.views[testUser]
	assert.Equal(t, picker.PhaseLoading, v.state.Phase)
	assert.Equal(t, booking.MsgConflict, v.state.Message.Text)

	h.settle(t)

	assert.Equal(t, picker.PhaseReady, v.state.Phase)
	assert.Equal(t, booking.MsgConflict, v.state.Message.Text)
	assert.Equal(t, slotB, v.state.SelectedISO)
	h.source.mu.Lock()
	assert.Equal(t, 2, h.source.calls)
	h.source.mu.Unlock()
}

func TestStaleFetchResultDropped(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))

	h.bot.openPicker(ctx, testUser, testChat)
	h.bot.handleCallback(ctx, callback(cbRetry))
	v := h.bot.views[testUser]
	require.Equal(t, uint64(2), v.state.Generation)

	results := []effectResult{h.nextResult(t), h.nextResult(t)}
	sort.Slice(results, func(i, j int) bool {
		return results[i].action.(picker.SlotsLoaded).Gen < results[j].action.(picker.SlotsLoaded).Gen
	})

	h.bot.applyResult(ctx, results[0])
	assert.Equal(t, picker.PhaseLoading, v.state.Phase, "generation 1 is stale")

	h.bot.applyResult(ctx, results[1])
	assert.Equal(t, picker.PhaseReady, v.state.Phase)
}

func TestSlotsRefusedWhileBookingInFlight(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))

	h.bot.openPicker(ctx, testUser, testChat)
	h.settle(t)
	v := h.bot.views[testUser]

	release := make(chan struct{})
	h.remote.On("Book", mock.Anything, mock.Anything, slotA, booking.DefaultContactMethod).
		Run(func(mock.Arguments) { <-release }).
		Return(gas.Response{Status: "ok"}, nil).Once()
	h.bot.handleCallback(ctx, callback(cbSubmit))
	require.True(t, v.state.Submitting)

	h.bot.handleMessage(ctx, message("/slots"))
	assert.Equal(t, booking.MsgBusy, h.tg.texts()[len(h.tg.texts())-1])
	h.bot.handleMessage(ctx, message("/book"))
	assert.Equal(t, booking.MsgBusy, h.tg.texts()[len(h.tg.texts())-1])
	assert.Same(t, v, h.bot.views[testUser], "picker is not replaced")

	close(release)
	h.settle(t)

	assert.Equal(t, picker.PhaseConfirmed, v.state.Phase)
	_, err := h.drafts.Load(ctx, draftKey(testUser))
	assert.ErrorIs(t, err, draft.ErrMissing)
	h.source.mu.Lock()
	assert.Equal(t, 1, h.source.calls)
	h.source.mu.Unlock()
	h.remote.AssertExpectations(t)
}

func TestResultForReplacedPickerDropped(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))

	full := h.source.raw
	h.source.mu.Lock()
	h.source.raw = nil
	h.source.mu.Unlock()

	h.bot.openPicker(ctx, testUser, testChat)
	old := h.nextResult(t)

	h.source.mu.Lock()
	h.source.raw = full
	h.source.mu.Unlock()

	// the first picker went away, e.g. expired by cleanup
	delete(h.bot.views, testUser)
	h.bot.openPicker(ctx, testUser, testChat)
	v := h.bot.views[testUser]
	require.Equal(t, uint64(1), v.state.Generation)
	fresh := h.nextResult(t)

	h.bot.applyResult(ctx, old)
	assert.Equal(t, picker.PhaseLoading, v.state.Phase, "result of the first picker is dropped")

	h.bot.applyResult(ctx, fresh)
	assert.Equal(t, picker.PhaseReady, v.state.Phase)
	assert.Equal(t, slotA, v.state.SelectedISO)
}

func TestSlotsWithoutDraftRestartsDialog(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.bot.handleMessage(ctx, message("/slots"))

	texts := h.tg.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgDraftMissing, texts[0])
	assert.Equal(t, booking.StatePrompts[booking.StateAskName], texts[1])
	assert.Equal(t, booking.StateAskName, h.bot.sessions.Get(testUser).GetState())
	assert.Zero(t, h.source.calls, "no fetch without a draft")
}

func TestMalformedDraftAtSubmitReturnsToStepOne(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))

	h.bot.openPicker(ctx, testUser, testChat)
	h.settle(t)
	require.NoError(t, h.drafts.Clear(ctx, draftKey(testUser)))

	h.bot.handleCallback(ctx, callback(cbSubmit))
	h.settle(t)

	_, open := h.bot.views[testUser]
	assert.False(t, open)
	assert.Equal(t, booking.StateAskName, h.bot.sessions.Get(testUser).GetState())
	h.remote.AssertNotCalled(t, "Book", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDialogToPicker(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	registered := make(chan struct{})
	h.remote.On("Register", mock.Anything, mock.Anything).
		Return(gas.Response{Status: "ok"}, nil).
		Run(func(mock.Arguments) { close(registered) }).Once()

	h.bot.handleMessage(ctx, message("/book"))
	h.bot.handleMessage(ctx, message("山田太郎"))
	h.bot.handleMessage(ctx, message("ヤマダタロウ"))
	h.bot.handleMessage(ctx, message("not-an-email"))
	assert.Equal(t, booking.StateAskEmail, h.bot.sessions.Get(testUser).GetState())
	h.bot.handleMessage(ctx, message("Taro@Example.com"))
	h.bot.handleMessage(ctx, message("090-1234-5678"))

	review, ok := h.tg.last().(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Contains(t, review.Text, "電話番号: 09012345678")
	assert.IsType(t, tgbotapi.InlineKeyboardMarkup{}, review.ReplyMarkup)

	h.bot.handleCallback(ctx, callback(cbFormOK))

	saved, err := h.drafts.Load(ctx, draftKey(testUser))
	require.NoError(t, err)
	assert.Equal(t, "山田太郎", saved.Name)
	assert.Equal(t, "09012345678", saved.Tel)
	assert.Equal(t, booking.StateSlotPicker, h.bot.sessions.Get(testUser).GetState())
	require.Contains(t, h.bot.views, testUser)

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("register was not sent")
	}
	h.settle(t)
	assert.Equal(t, picker.PhaseReady, h.bot.views[testUser].state.Phase)
}

func TestFormEditReturnsToFirstQuestion(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.bot.handleCallback(ctx, callback(cbFormEdit))
	assert.Equal(t, msgExpired, h.tg.texts()[0])

	session := h.bot.sessions.GetOrCreate(testUser)
	session.SetState(booking.StateReview)
	h.bot.handleCallback(ctx, callback(cbFormEdit))
	assert.Equal(t, booking.StateAskName, session.GetState())
}

func TestDayRequestFlow(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))
	h.source.raw = nil

	h.bot.openPicker(ctx, testUser, testChat)
	h.settle(t)
	v := h.bot.views[testUser]
	require.Equal(t, picker.PhaseEmpty, v.state.Phase)

	h.bot.handleCallback(ctx, callback(cbDaysSend))
	assert.Equal(t, booking.MsgNoDays, v.state.Message.Text)

	h.bot.handleCallback(ctx, callback(cbDay+"水"))
	h.bot.handleCallback(ctx, callback(cbDay+"月"))
	h.bot.handleCallback(ctx, callback(cbDay+"X"))
	assert.Equal(t, []string{"月", "水"}, v.state.Weekdays)

	h.remote.On("RequestDays", mock.Anything, mock.Anything, []string{"月", "水"}).
		Return(gas.Response{Status: "ok"}, nil).Once()
	h.bot.handleCallback(ctx, callback(cbDaysSend))
	h.settle(t)

	assert.Equal(t, picker.PhaseRequested, v.state.Phase)
	assert.Equal(t, booking.MsgDaysSent, v.state.Message.Text)
	_, err := h.drafts.Load(ctx, draftKey(testUser))
	assert.ErrorIs(t, err, draft.ErrMissing)
	h.remote.AssertExpectations(t)
}

func TestContactMethodCallback(t *testing.T) {
	h := newHarness(t, Options{ContactMethods: []string{"meet", "phone"}})
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))
	h.bot.openPicker(ctx, testUser, testChat)
	h.settle(t)
	v := h.bot.views[testUser]

	h.bot.handleCallback(ctx, callback(cbContact+"fax"))
	assert.Equal(t, "meet", v.state.ContactMethod)
	h.bot.handleCallback(ctx, callback(cbContact+"phone"))
	assert.Equal(t, "phone", v.state.ContactMethod)

	h.remote.On("Book", mock.Anything, mock.Anything, slotA, "phone").
		Return(gas.Response{Status: "ok"}, nil).Once()
	h.bot.handleCallback(ctx, callback(cbSubmit))
	h.settle(t)
	h.remote.AssertExpectations(t)
}

func TestCallbackWithoutPicker(t *testing.T) {
	h := newHarness(t, Options{})
	h.bot.handleCallback(context.Background(), callback(cbSubmit))
	assert.Equal(t, []string{msgNoPicker}, h.tg.texts())
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Options{UserRate: 0.001, UserBurst: 1})
	ctx := context.Background()
	h.bot.handleMessage(ctx, message("/help"))
	h.bot.handleMessage(ctx, message("/help"))
	assert.Equal(t, []string{msgHelp, msgTooFast}, h.tg.texts())
}

func TestCancelDropsSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.bot.handleMessage(ctx, message("/book"))
	require.NotNil(t, h.bot.sessions.Get(testUser))

	h.bot.handleMessage(ctx, message("/cancel"))
	assert.Nil(t, h.bot.sessions.Get(testUser))
	texts := h.tg.texts()
	assert.Equal(t, booking.StatePrompts[booking.StateCanceled], texts[len(texts)-1])
}

func TestHandleEventNotifiesManagers(t *testing.T) {
	h := newHarness(t, Options{Managers: []int64{7, 8}})

	ev := events.New(events.BookingConfirmed, testUser, events.BookingPayload{SlotISO: slotA, ContactMethod: "meet"})
	require.NoError(t, h.bot.HandleEvent(ev))
	texts := h.tg.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "2024/01/10 10:00")
	assert.Contains(t, texts[0], "オンライン(Meet)")

	rejected := events.New(events.DaysRequested, testUser, events.DaysPayload{Days: []string{"月"}, Outcome: "conflict"})
	require.NoError(t, h.bot.HandleEvent(rejected))
	assert.Len(t, h.tg.texts(), 2, "only accepted requests are announced")
}

func TestSendDocument(t *testing.T) {
	h := newHarness(t, Options{Managers: []int64{7}})
	err := h.bot.SendDocument(context.Background(), "report.xlsx", bytes.NewReader([]byte("xlsx")), "月次")
	require.NoError(t, err)

	docs := h.tg.documents()
	require.Len(t, docs, 1)
	assert.Equal(t, int64(7), docs[0].ChatID)
	assert.Equal(t, "月次", docs[0].Caption)
}

func TestMisconfiguredEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	h.bot.opts.EndpointConfigured = false
	ctx := context.Background()
	require.NoError(t, h.drafts.Save(ctx, draftKey(testUser), testDraft))

	h.bot.openPicker(ctx, testUser, testChat)
	v := h.bot.views[testUser]
	assert.Equal(t, picker.PhaseMisconfigured, v.state.Phase)
	assert.Contains(t, h.tg.texts()[0], picker.MsgMisconfigured)
	assert.Zero(t, h.source.calls)
}

type fakeReminders struct {
	attempts []journal.Attempt
}

func (f fakeReminders) Confirmed(context.Context, time.Time) ([]journal.Attempt, error) {
	return f.attempts, nil
}

func TestSendTomorrowReminders(t *testing.T) {
	h := newHarness(t, Options{})
	src := fakeReminders{attempts: []journal.Attempt{
		{UserID: 1, SlotISO: "2024-01-09T10:00:00+09:00", ContactMethod: "phone"},
		{UserID: 1, SlotISO: "2024-01-09T10:00:00+09:00", ContactMethod: "phone"},
		{UserID: 2, SlotISO: "2024-01-10T10:00:00+09:00"},
		{UserID: 3, SlotISO: "garbage"},
	}}

	assert.Equal(t, 1, h.bot.sendTomorrowReminders(context.Background(), src))
	texts := h.tg.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "明日 1月9日 10:00")
	assert.Contains(t, texts[0], "お電話")
}

func TestTimeUntilNextHour(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Equal(t, 24*time.Hour, h.bot.timeUntilNextHour(9), "exactly 09:00 waits a full day")
	assert.Equal(t, 2*time.Hour, h.bot.timeUntilNextHour(11))
}
