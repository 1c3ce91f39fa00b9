package draft

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore serves from primary and switches to fallback while primary is failing.
// Every recoveryInterval one call is routed to primary again to detect recovery.
// Keys written or cleared while primary is down are copied over to primary before it
// serves again, so a draft never resurfaces or goes stale after an outage.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	pending   map[string]struct{}
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

// Down reports whether calls currently go to the fallback store.
func (s *FailoverStore) Down() bool {
	return s.isDown.Load()
}

func (s *FailoverStore) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastCheck) < recoveryInterval {
		return false
	}
	s.lastCheck = time.Now()
	return true
}

func (s *FailoverStore) markDown(op string, err error) {
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Str("op", op).Msg("draft store primary failed, switching to fallback")
	}
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
}

func (s *FailoverStore) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("draft store primary recovered")
	}
}

func (s *FailoverStore) markPending(key string) {
	s.mu.Lock()
	s.pending[key] = struct{}{}
	s.mu.Unlock()
}

// replay copies every key touched during an outage from fallback to primary.
// Keys that fail stay pending.
func (s *FailoverStore) replay(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, key := range keys {
		d, err := s.fallback.Load(ctx, key)
		switch {
		case err == nil:
			if err := s.primary.Save(ctx, key, d); err != nil {
				return err
			}
			if err := s.fallback.Clear(ctx, key); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("fallback clear after replay failed")
			}
		case errors.Is(err, ErrMissing) || errors.Is(err, ErrMalformed):
			if err := s.primary.Clear(ctx, key); err != nil {
				return err
			}
		default:
			return err
		}
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}
	if len(keys) > 0 {
		s.logger.Info().Int("keys", len(keys)).Msg("draft store outage writes replayed")
	}
	return nil
}

// isAnswer reports whether err is a definite result rather than a store failure.
func isAnswer(err error) bool {
	return err == nil || errors.Is(err, ErrMissing) || errors.Is(err, ErrMalformed)
}

func (s *FailoverStore) Save(ctx context.Context, key string, d Draft) error {
	if s.usePrimary() {
		err := s.replay(ctx)
		if err == nil {
			err = s.primary.Save(ctx, key, d)
		}
		if err == nil {
			s.markUp()
			return nil
		}
		s.markDown("save", err)
	}
	s.markPending(key)
	return s.fallback.Save(ctx, key, d)
}

func (s *FailoverStore) Load(ctx context.Context, key string) (Draft, error) {
	if s.usePrimary() {
		err := s.replay(ctx)
		if err == nil {
			var d Draft
			d, err = s.primary.Load(ctx, key)
			if isAnswer(err) {
				s.markUp()
				return d, err
			}
		}
		s.markDown("load", err)
	}
	return s.fallback.Load(ctx, key)
}

func (s *FailoverStore) Clear(ctx context.Context, key string) error {
	ferr := s.fallback.Clear(ctx, key)
	if s.usePrimary() {
		err := s.replay(ctx)
		if err == nil {
			err = s.primary.Clear(ctx, key)
		}
		if err == nil {
			s.markUp()
			return ferr
		}
		s.markDown("clear", err)
	}
	s.markPending(key)
	return ferr
}
