// Package audit exports the booking journal to XLSX and prunes old rows.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TableSource provides the tables to export.
type TableSource interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error)
}

// Cleaner deletes journal rows older than a given age.
type Cleaner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Notifier delivers a report file to managers.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// Config holds configuration for the audit service.
type Config struct {
	// RetentionDays is how long journal rows are kept. Default: 31.
	RetentionDays int
}

// Service writes journal reports on demand and once a month.
type Service struct {
	config   Config
	source   TableSource
	cleaner  Cleaner
	notifier Notifier
	logger   *zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	now     func() time.Time
}

func NewService(cfg Config, source TableSource, cleaner Cleaner, notifier Notifier, logger *zerolog.Logger) *Service {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 31
	}
	return &Service{
		config:   cfg,
		source:   source,
		cleaner:  cleaner,
		notifier: notifier,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Filename names a report for the month of t, e.g. "予約記録_2024年01月.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("予約記録_%d年%02d月.xlsx", t.Year(), int(t.Month()))
}

// Export writes every journal table as a sheet to out.
func (s *Service) Export(ctx context.Context, out io.Writer) error {
	tables, err := s.source.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	wb := NewWorkbook()
	defer wb.Close()

	for _, table := range tables {
		data, columns, err := s.source.GetTableData(ctx, table)
		if err != nil {
			return fmt.Errorf("read %s: %w", table, err)
		}
		if err := wb.AddSheet(table); err != nil {
			return err
		}
		if err := wb.WriteHeader(columns); err != nil {
			return err
		}
		for _, row := range data {
			values := make([]any, len(columns))
			for i, col := range columns {
				values[i] = row[col]
			}
			if err := wb.WriteRow(values); err != nil {
				return err
			}
		}
		s.logger.Debug().Str("table", table).Int("rows", len(data)).Msg("exported table")
	}
	return wb.Save(out)
}

// SendReport exports the journal and delivers it through the notifier.
func (s *Service) SendReport(ctx context.Context, caption string) error {
	var buf bytes.Buffer
	if err := s.Export(ctx, &buf); err != nil {
		return err
	}
	filename := Filename(s.now().AddDate(0, -1, 0))
	if err := s.notifier.SendDocument(ctx, filename, &buf, caption); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	s.logger.Info().Str("filename", filename).Msg("audit report sent")
	return nil
}

// Cleanup removes rows older than the retention period.
func (s *Service) Cleanup(ctx context.Context) error {
	if s.cleaner == nil {
		return nil
	}
	deleted, err := s.cleaner.DeleteOlderThan(ctx, time.Duration(s.config.RetentionDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	s.logger.Info().Int64("deleted", deleted).Int("retention_days", s.config.RetentionDays).Msg("journal cleaned up")
	return nil
}

// Start schedules the monthly report and cleanup.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.loop()
}

// Stop waits for the scheduler to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) loop() {
	defer s.wg.Done()

	next := nextFirstOfMonth(s.now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	s.logger.Info().Time("next", next).Msg("audit report scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.runMonthly()
			next = nextFirstOfMonth(s.now())
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Service) runMonthly() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.SendReport(ctx, "月次予約レポート"); err != nil {
		s.logger.Error().Err(err).Msg("monthly audit report failed")
	}
	if err := s.Cleanup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("journal cleanup failed")
	}
}

func nextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}
