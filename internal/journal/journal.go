// Package journal records booking attempts and preferred-day requests in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"yoyaku/internal/events"

	_ "github.com/mattn/go-sqlite3"
)

// TableNames are exported in audit reports.
var TableNames = []string{
	"booking_attempts",
	"day_requests",
}

// DB wraps sql.DB for the journal.
type DB struct {
	*sql.DB
}

// Attempt is one booking submission and its outcome.
type Attempt struct {
	EventID       string
	UserID        int64
	SlotISO       string
	ContactMethod string
	Outcome       string
	Message       string
	CreatedAt     time.Time
}

// DayRequest is one preferred-day submission.
type DayRequest struct {
	EventID   string
	UserID    int64
	Days      []string
	Outcome   string
	CreatedAt time.Time
}

// Open opens the database at path and runs migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS booking_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT UNIQUE NOT NULL,
			user_id INTEGER NOT NULL,
			slot_iso TEXT NOT NULL,
			contact_method TEXT,
			outcome TEXT NOT NULL,
			message TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_attempts_user ON booking_attempts(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_attempts_created ON booking_attempts(created_at)`,

		`CREATE TABLE IF NOT EXISTS day_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT UNIQUE NOT NULL,
			user_id INTEGER NOT NULL,
			preferred_days TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_day_requests_created ON day_requests(created_at)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (db *DB) RecordAttempt(ctx context.Context, a Attempt) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO booking_attempts (event_id, user_id, slot_iso, contact_method, outcome, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.EventID, a.UserID, a.SlotISO, a.ContactMethod, a.Outcome, a.Message, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (db *DB) RecordDayRequest(ctx context.Context, r DayRequest) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO day_requests (event_id, user_id, preferred_days, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.EventID, r.UserID, strings.Join(r.Days, ","), r.Outcome, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record day request: %w", err)
	}
	return nil
}

// Attempts returns the user's booking attempts, newest first.
func (db *DB) Attempts(ctx context.Context, userID int64) ([]Attempt, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, user_id, slot_iso, COALESCE(contact_method, ''), outcome, COALESCE(message, ''), created_at
		 FROM booking_attempts WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.EventID, &a.UserID, &a.SlotISO, &a.ContactMethod, &a.Outcome, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Confirmed returns confirmed attempts recorded since the given time, oldest first.
func (db *DB) Confirmed(ctx context.Context, since time.Time) ([]Attempt, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, user_id, slot_iso, COALESCE(contact_method, ''), outcome, COALESCE(message, ''), created_at
		 FROM booking_attempts WHERE outcome = 'confirmed' AND created_at >= ? ORDER BY created_at, id`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.EventID, &a.UserID, &a.SlotISO, &a.ContactMethod, &a.Outcome, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes journal rows older than age and returns how many went.
func (db *DB) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC()
	var total int64
	for _, table := range TableNames {
		res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", table), cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Handle stores booking and day-request events. It is meant to be subscribed to the event bus.
func (db *DB) Handle(ev events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Type {
	case events.BookingConfirmed, events.BookingConflict, events.BookingFailed:
		var p events.BookingPayload
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return db.RecordAttempt(ctx, Attempt{
			EventID:       ev.ID,
			UserID:        ev.UserID,
			SlotISO:       p.SlotISO,
			ContactMethod: p.ContactMethod,
			Outcome:       strings.TrimPrefix(ev.Type, "booking."),
			Message:       p.Message,
			CreatedAt:     ev.CreatedAt,
		})
	case events.DaysRequested:
		var p events.DaysPayload
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return db.RecordDayRequest(ctx, DayRequest{
			EventID:   ev.ID,
			UserID:    ev.UserID,
			Days:      p.Days,
			Outcome:   p.Outcome,
			CreatedAt: ev.CreatedAt,
		})
	}
	return nil
}

// GetTableNames returns list of table names to export.
func (db *DB) GetTableNames(context.Context) ([]string, error) {
	return TableNames, nil
}

// GetTableData returns all rows from a table as maps.
func (db *DB) GetTableData(ctx context.Context, tableName string) (data []map[string]any, columns []string, err error) {
	validTable := false
	for _, t := range TableNames {
		if t == tableName {
			validTable = true
			break
		}
	}
	if !validTable {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var cid, notNull, pk int
		var name, typeName string
		var dflt sql.NullString
		if err = rows.Scan(&cid, &name, &typeName, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, nil, err
		}
		columns = append(columns, name)
	}
	rows.Close()
	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns", tableName)
	}

	dataRows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY id", tableName))
	if err != nil {
		return nil, nil, err
	}
	defer dataRows.Close()

	for dataRows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err = dataRows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		data = append(data, row)
	}
	return data, columns, dataRows.Err()
}
