// Package slots groups raw endpoint slots into days and three-day pages.
package slots

import (
	"sort"
	"time"

	"yoyaku/internal/gas"
)

const (
	// DaysPerPage is the number of days shown on one calendar page.
	DaysPerPage = 3

	minWindowDays = 7
	maxWindowDays = 14
	// leadDays is the minimum booking lead time used as the default window start.
	leadDays = 2
)

// Slot is a normalized bookable interval.
type Slot struct {
	StartISO  string
	EndISO    string
	Label     string
	TimeLabel string

	Start time.Time
	End   time.Time
}

// Display returns the text shown for the slot.
func (s Slot) Display() string {
	if s.TimeLabel != "" {
		return s.TimeLabel
	}
	return s.Label
}

// Day is one calendar date and its slots in start order.
type Day struct {
	Key        string // YYYY-MM-DD
	Date       time.Time
	Slots      []Slot
	LabelShort string // 1/05
	LabelDow   string // 金
	LabelFull  string // 1月5日(金)
}

// Week is one page of consecutive days. The last page may hold fewer than DaysPerPage.
type Week struct {
	Index int
	Days  []Day
}

// HasSlots reports whether any day on the page has a slot.
func (w Week) HasSlots() bool {
	for _, d := range w.Days {
		if len(d.Slots) > 0 {
			return true
		}
	}
	return false
}

// BuildWeeks aggregates raw slots into pages. The result depends only on the set of
// slots and on the calendar day of now; local dates are taken in now's location.
// The window opens two days after now unless an earlier slot day pulls the start back.
func BuildWeeks(raw []gas.RawSlot, now time.Time) []Week {
	loc := now.Location()
	buckets := make(map[string][]Slot)

	for _, r := range raw {
		if r.StartISO == "" {
			continue
		}
		start, err := ParseISO(r.StartISO, loc)
		if err != nil {
			continue
		}
		endISO := r.EndISO
		if endISO == "" {
			endISO = r.StartISO
		}
		slot := Slot{
			StartISO: r.StartISO,
			EndISO:   endISO,
			Label:    r.Label,
			Start:    start,
		}
		if end, err := ParseISO(endISO, loc); err == nil {
			slot.End = end
			slot.TimeLabel = formatTimeRange(start, end)
		}
		key := dateKey(start)
		buckets[key] = append(buckets[key], slot)
	}

	keys := make([]string, 0, len(buckets))
	for key, list := range buckets {
		sortSlots(list)
		keys = append(keys, key)
	}
	sort.Strings(keys)

	today := midnight(now)
	start := today.AddDate(0, 0, leadDays)
	if len(keys) > 0 {
		if first := parseDateKey(keys[0], loc); first.Before(start) {
			start = first
		}
	}
	latest := start
	if len(keys) > 0 {
		latest = parseDateKey(keys[len(keys)-1], loc)
	}

	// The window is clamped to [minWindowDays, maxWindowDays] but never cuts the
	// observed span short.
	span := daysBetween(start, latest) + 1
	total := min(max(span, minWindowDays), maxWindowDays)
	if span > maxWindowDays {
		total = span
	}

	days := make([]Day, 0, total)
	covered := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		date := start.AddDate(0, 0, i)
		key := dateKey(date)
		covered[key] = true
		days = append(days, newDay(key, date, buckets[key]))
	}
	for _, key := range keys {
		if covered[key] {
			continue
		}
		days = append(days, newDay(key, parseDateKey(key, loc), buckets[key]))
	}

	weeks := make([]Week, 0, (len(days)+DaysPerPage-1)/DaysPerPage)
	for i := 0; i < len(days); i += DaysPerPage {
		end := i + DaysPerPage
		if end > len(days) {
			end = len(days)
		}
		weeks = append(weeks, Week{Index: len(weeks), Days: days[i:end]})
	}
	return weeks
}

// sortSlots orders by start instant; equal instants fall back to the raw strings so
// the order never depends on input order.
func sortSlots(list []Slot) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.StartISO != b.StartISO {
			return a.StartISO < b.StartISO
		}
		if a.EndISO != b.EndISO {
			return a.EndISO < b.EndISO
		}
		return a.Label < b.Label
	})
}

func newDay(key string, date time.Time, list []Slot) Day {
	if list == nil {
		list = []Slot{}
	}
	return Day{
		Key:        key,
		Date:       date,
		Slots:      list,
		LabelShort: labelShort(date),
		LabelDow:   dowLabels[date.Weekday()],
		LabelFull:  labelFull(date),
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func parseDateKey(key string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation("2006-01-02", key, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
