// Package bot is the Telegram front end for the two-step booking flow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"yoyaku/internal/audit"
	"yoyaku/internal/booking"
	"yoyaku/internal/draft"
	"yoyaku/internal/events"
	"yoyaku/internal/gas"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// SlotSource is the read side of the deployment endpoint.
type SlotSource interface {
	FetchSlots(ctx context.Context) ([]gas.RawSlot, error)
}

// Deps are the collaborators the bot drives.
type Deps struct {
	Slots     SlotSource
	Submitter *booking.Submitter
	Drafts    draft.Store
	Bus       *events.EventBus
	Audit     *audit.Service
}

// Options tune the bot's behavior.
type Options struct {
	Managers           []int64
	ContactMethods     []string
	EndpointConfigured bool
	Location           *time.Location
	RequestTimeout     time.Duration
	DialogTTL          time.Duration
	UserRate           float64
	UserBurst          int
	Debug              bool
}

// Bot owns the update loop. Picker state is only touched from the loop goroutine.
type Bot struct {
	tg       telegramClient
	deps     Deps
	opts     Options
	managers map[int64]struct{}
	logger   *zerolog.Logger

	sessions *booking.SessionStore
	dialog   *booking.Handler
	views    map[int64]*view
	results  chan effectResult

	limMu    sync.Mutex
	limiters map[int64]*rate.Limiter

	now func() time.Time
}

var errNilClient = errors.New("telegram client is nil")

func New(token string, deps Deps, opts Options, logger *zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = opts.Debug
	return newBot(&realTelegramClient{api: api}, deps, opts, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, deps Deps, opts Options, logger *zerolog.Logger) (*Bot, error) {
	return newBot(tg, deps, opts, logger)
}

func newBot(tg telegramClient, deps Deps, opts Options, logger *zerolog.Logger) (*Bot, error) {
	if tg == nil {
		return nil, errNilClient
	}
	if deps.Slots == nil || deps.Submitter == nil || deps.Drafts == nil {
		return nil, fmt.Errorf("bot: slots, submitter and drafts are required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if len(opts.ContactMethods) == 0 {
		opts.ContactMethods = []string{booking.DefaultContactMethod}
	}
	if opts.UserRate <= 0 {
		opts.UserRate = 2
	}
	if opts.UserBurst <= 0 {
		opts.UserBurst = 5
	}
	mgrs := make(map[int64]struct{}, len(opts.Managers))
	for _, id := range opts.Managers {
		mgrs[id] = struct{}{}
	}
	return &Bot{
		tg:       tg,
		deps:     deps,
		opts:     opts,
		managers: mgrs,
		logger:   logger,
		sessions: booking.NewSessionStore(opts.DialogTTL),
		dialog:   booking.NewHandler(),
		views:    make(map[int64]*view),
		results:  make(chan effectResult, 64),
		limiters: make(map[int64]*rate.Limiter),
		now:      time.Now,
	}, nil
}

// SetAudit attaches the report service after construction; the service itself
// delivers reports through the bot.
func (b *Bot) SetAudit(s *audit.Service) {
	b.deps.Audit = s
}

// Start polls updates until ctx is done. Effect results are consumed from the same loop.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("bot authorized")

	cleanup := time.NewTicker(5 * time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			updateCtx := context.WithValue(l.WithContext(ctx), requestIDKey{}, requestID)
			b.handleUpdate(updateCtx, &update)
		case res := <-b.results:
			l := b.logger.With().Str("request_id", res.requestID).Logger()
			resultCtx := context.WithValue(l.WithContext(ctx), requestIDKey{}, res.requestID)
			b.applyResult(resultCtx, res)
		case <-cleanup.C:
			b.cleanupSessions()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.From != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

// allow applies the per-user rate limit.
func (b *Bot) allow(userID int64) bool {
	b.limMu.Lock()
	defer b.limMu.Unlock()
	lim, ok := b.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(b.opts.UserRate), b.opts.UserBurst)
		b.limiters[userID] = lim
	}
	return lim.Allow()
}

func (b *Bot) cleanupSessions() {
	removed := b.sessions.Cleanup()
	ttl := b.opts.DialogTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	cutoff := b.now().Add(-ttl)
	for id, v := range b.views {
		if v.touched.Before(cutoff) && !v.busy() {
			delete(b.views, id)
			removed++
		}
	}
	if removed > 0 {
		b.logger.Debug().Int("removed", removed).Msg("expired sessions removed")
	}
}

func (b *Bot) isManager(id int64) bool {
	_, ok := b.managers[id]
	return ok
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Debug().Err(err).Msg("answer callback failed")
	}
}

// draftKey is the per-user session key under which the draft is stored.
func draftKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
