package slots

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var dowLabels = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// WeekdayTokens are the tokens accepted for preferred-day requests, Monday first.
var WeekdayTokens = []string{"月", "火", "水", "木", "金", "土", "日"}

var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var errUnparsable = errors.New("unparsable timestamp")

// ParseISO parses an ISO-8601 timestamp. Values without an offset are read in loc.
// The result is expressed in loc.
func ParseISO(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errUnparsable
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errUnparsable, s)
}

func formatTimeRange(start, end time.Time) string {
	return start.Format("15:04") + " - " + end.Format("15:04")
}

func labelShort(d time.Time) string {
	return fmt.Sprintf("%d/%02d", int(d.Month()), d.Day())
}

func labelFull(d time.Time) string {
	return fmt.Sprintf("%d月%d日(%s)", int(d.Month()), d.Day(), dowLabels[d.Weekday()])
}

// WeekLabel renders the page header, e.g. "1/10(水) 〜 1/12(金)".
func WeekLabel(w Week) string {
	if len(w.Days) == 0 {
		return ""
	}
	first := w.Days[0]
	last := w.Days[len(w.Days)-1]
	return fmt.Sprintf("%s(%s) 〜 %s(%s)", first.LabelShort, first.LabelDow, last.LabelShort, last.LabelDow)
}

// Location addresses a slot inside a page list.
type Location struct {
	Week int
	Day  int
	Slot int
}

// FindSlot searches weeks for a slot with the given start string.
func FindSlot(weeks []Week, startISO string) (Location, bool) {
	if startISO == "" {
		return Location{}, false
	}
	for w, week := range weeks {
		for d, day := range week.Days {
			for s, slot := range day.Slots {
				if slot.StartISO == startISO {
					return Location{Week: w, Day: d, Slot: s}, true
				}
			}
		}
	}
	return Location{}, false
}

// FirstAvailable returns the first slot in page, day, time order.
func FirstAvailable(weeks []Week) (Location, bool) {
	for w, week := range weeks {
		for d, day := range week.Days {
			if len(day.Slots) > 0 {
				return Location{Week: w, Day: d}, true
			}
		}
	}
	return Location{}, false
}

// Resolve returns the day and slot at loc. It panics on an out-of-range location,
// callers obtain loc from FindSlot or FirstAvailable.
func Resolve(weeks []Week, loc Location) (Day, Slot) {
	day := weeks[loc.Week].Days[loc.Day]
	return day, day.Slots[loc.Slot]
}
