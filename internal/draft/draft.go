// Package draft keeps the contact details entered on step one until the booking is made.
package draft

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// RecordName is the fixed name the draft is persisted under.
const RecordName = "reservationFormData"

var (
	// ErrMissing is returned when no draft is stored for the session.
	ErrMissing = errors.New("draft: not found")
	// ErrMalformed is returned when the stored record cannot be decoded or is incomplete.
	ErrMalformed = errors.New("draft: malformed record")
	// ErrIncomplete is returned by Validate when a required field is empty.
	ErrIncomplete = errors.New("draft: required field is empty")
)

// Draft holds the identity fields captured before slot selection.
type Draft struct {
	Name     string `json:"name"`
	Furigana string `json:"furigana"`
	Email    string `json:"email"`
	Tel      string `json:"tel"`
}

// Store persists one draft per session key.
type Store interface {
	Save(ctx context.Context, key string, d Draft) error
	Load(ctx context.Context, key string) (Draft, error)
	Clear(ctx context.Context, key string) error
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (d Draft) Trimmed() Draft {
	return Draft{
		Name:     strings.TrimSpace(d.Name),
		Furigana: strings.TrimSpace(d.Furigana),
		Email:    strings.TrimSpace(d.Email),
		Tel:      strings.TrimSpace(d.Tel),
	}
}

// Validate checks that all required fields are non-empty after trimming.
func (d Draft) Validate() error {
	t := d.Trimmed()
	fields := []struct {
		name  string
		value string
	}{
		{"name", t.Name},
		{"furigana", t.Furigana},
		{"email", t.Email},
		{"tel", t.Tel},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrIncomplete, f.name)
		}
	}
	return nil
}

// NormalizeEmail trims the address and checks it has a mailbox shape.
func NormalizeEmail(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \t") {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	at := strings.LastIndex(s, "@")
	if !strings.Contains(s[at+1:], ".") {
		return "", false
	}
	return s, true
}

// NormalizeTel strips separators and keeps 10 to 15 digits, with an optional leading +.
func NormalizeTel(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	repl := strings.NewReplacer(" ", "", "-", "", "ー", "", "−", "", "(", "", ")", "", "\t", "")
	s = repl.Replace(toHalfWidthDigits(s))
	if strings.HasPrefix(s, "+") {
		s = "+" + filterDigits(s[1:])
	} else {
		s = filterDigits(s)
	}
	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	return s, true
}

func filterDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// toHalfWidthDigits maps full-width digits and plus sign, common in Japanese input.
func toHalfWidthDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '０' && r <= '９':
			return '0' + (r - '０')
		case r == '＋':
			return '+'
		}
		return r
	}, s)
}
