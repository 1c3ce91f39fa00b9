package slots

import (
	"math/rand"
	"testing"
	"time"

	"yoyaku/internal/gas"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("JST", 9*60*60)

func countDays(weeks []Week) int {
	n := 0
	for _, w := range weeks {
		n += len(w.Days)
	}
	return n
}

func allDays(weeks []Week) []Day {
	var out []Day
	for _, w := range weeks {
		out = append(out, w.Days...)
	}
	return out
}

func TestBuildWeeksSingleDay(t *testing.T) {
	now := time.Date(2026, 10, 19, 15, 0, 0, 0, jst)
	raw := []gas.RawSlot{
		{StartISO: "2024-01-10T11:00"},
		{StartISO: "2024-01-10T10:00"},
	}

	weeks := BuildWeeks(raw, now)
	require.NotEmpty(t, weeks)

	loc, ok := FindSlot(weeks, "2024-01-10T10:00")
	require.True(t, ok)
	day := weeks[loc.Week].Days[loc.Day]
	assert.Equal(t, "2024-01-10", day.Key)
	require.Len(t, day.Slots, 2)
	assert.Equal(t, "10:00 - 10:00", day.Slots[0].TimeLabel)
	assert.Equal(t, "11:00 - 11:00", day.Slots[1].TimeLabel)
	assert.Equal(t, "2024-01-10T10:00", day.Slots[0].EndISO, "end defaults to start")

	other, ok := FindSlot(weeks, "2024-01-10T11:00")
	require.True(t, ok)
	assert.Equal(t, loc.Week, other.Week)
	assert.Equal(t, loc.Day, other.Day)

	assert.Equal(t, "1/10", day.LabelShort)
	assert.Equal(t, "水", day.LabelDow)
	assert.Equal(t, "1月10日(水)", day.LabelFull)
}

func TestBuildWeeksTimeLabelUsesEnd(t *testing.T) {
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, jst)
	raw := []gas.RawSlot{{
		StartISO: "2024-01-10T10:00:00+09:00",
		EndISO:   "2024-01-10T10:45:00+09:00",
		Label:    "初回",
	}}

	weeks := BuildWeeks(raw, now)
	// today+2 is the slot's own day, so it opens the first page
	require.Equal(t, "2024-01-10", weeks[0].Days[0].Key)
	slot := weeks[0].Days[0].Slots[0]
	assert.Equal(t, "10:00 - 10:45", slot.TimeLabel)
	assert.Equal(t, "初回", slot.Label)
	assert.Equal(t, "10:00 - 10:45", slot.Display())
}

func TestBuildWeeksConvertsOffsetsToLocalDay(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, jst)
	raw := []gas.RawSlot{{StartISO: "2024-01-09T20:00:00Z"}}

	weeks := BuildWeeks(raw, now)
	loc, ok := FindSlot(weeks, "2024-01-09T20:00:00Z")
	require.True(t, ok)
	day, slot := Resolve(weeks, loc)
	assert.Equal(t, "2024-01-10", day.Key)
	assert.Equal(t, "05:00 - 05:00", slot.TimeLabel)
}

func TestBuildWeeksDropsUnparsable(t *testing.T) {
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, jst)
	raw := []gas.RawSlot{
		{StartISO: ""},
		{StartISO: "not a date"},
		{StartISO: "2024-01-10T10:00:00+09:00", EndISO: "garbage", Label: "枠"},
	}

	weeks := BuildWeeks(raw, now)
	var slotsSeen []Slot
	for _, d := range allDays(weeks) {
		slotsSeen = append(slotsSeen, d.Slots...)
	}
	require.Len(t, slotsSeen, 1)
	assert.Empty(t, slotsSeen[0].TimeLabel)
	assert.Equal(t, "枠", slotsSeen[0].Display())
}

func TestBuildWeeksIsOrderIndependent(t *testing.T) {
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, jst)
	raw := []gas.RawSlot{
		{StartISO: "2024-01-12T15:00:00+09:00", EndISO: "2024-01-12T16:00:00+09:00"},
		{StartISO: "2024-01-10T10:00:00+09:00"},
		{StartISO: "2024-01-10T09:00:00+09:00", Label: "b"},
		{StartISO: "2024-01-10T09:00:00+09:00", Label: "a"},
		{StartISO: "2024-01-10T00:00:00Z"},
		{StartISO: "2024-01-25T10:00:00+09:00"},
		{StartISO: "2024-01-11T13:30:00+09:00"},
	}
	want := BuildWeeks(raw, now)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]gas.RawSlot(nil), raw...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, BuildWeeks(shuffled, now))
	}
}

func TestBuildWeeksSlotsSorted(t *testing.T) {
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, jst)
	raw := []gas.RawSlot{
		{StartISO: "2024-01-10T17:00:00+09:00"},
		{StartISO: "2024-01-10T09:00:00+09:00"},
		{StartISO: "2024-01-10T00:30:00Z"},
		{StartISO: "2024-01-10T13:00:00+09:00"},
		{StartISO: "2024-01-10T09:00:00+09:00", Label: "dup"},
	}

	for _, d := range allDays(BuildWeeks(raw, now)) {
		for i := 1; i < len(d.Slots); i++ {
			assert.False(t, d.Slots[i].Start.Before(d.Slots[i-1].Start), "day %s not sorted", d.Key)
		}
	}

	weeks := BuildWeeks(raw, now)
	loc, ok := FindSlot(weeks, "2024-01-10T09:00:00+09:00")
	require.True(t, ok)
	day := weeks[loc.Week].Days[loc.Day]
	assert.Len(t, day.Slots, 5, "duplicates are kept")
	assert.Equal(t, "", day.Slots[0].Label)
	assert.Equal(t, "dup", day.Slots[1].Label)
	assert.Equal(t, "2024-01-10T00:30:00Z", day.Slots[2].StartISO, "09:30 local")
}

func TestBuildWeeksWindow(t *testing.T) {
	now := time.Date(2024, 1, 8, 22, 0, 0, 0, jst)

	tests := []struct {
		name      string
		raw       []gas.RawSlot
		wantDays  int
		wantFirst string
	}{
		{
			name:      "no slots opens at lead time",
			raw:       nil,
			wantDays:  7,
			wantFirst: "2024-01-10",
		},
		{
			name:      "short span padded to seven days",
			raw:       []gas.RawSlot{{StartISO: "2024-01-12T10:00:00+09:00"}},
			wantDays:  7,
			wantFirst: "2024-01-10",
		},
		{
			name: "mid span kept",
			raw: []gas.RawSlot{
				{StartISO: "2024-01-11T10:00:00+09:00"},
				{StartISO: "2024-01-19T10:00:00+09:00"},
			},
			wantDays:  10,
			wantFirst: "2024-01-10",
		},
		{
			name: "long span exceeds fourteen",
			raw: []gas.RawSlot{
				{StartISO: "2024-01-10T10:00:00+09:00"},
				{StartISO: "2024-01-30T10:00:00+09:00"},
			},
			wantDays:  21,
			wantFirst: "2024-01-10",
		},
		{
			name: "earlier slot pulls start back",
			raw: []gas.RawSlot{
				{StartISO: "2024-01-09T10:00:00+09:00"},
			},
			wantDays:  7,
			wantFirst: "2024-01-09",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			weeks := BuildWeeks(tt.raw, now)
			assert.Equal(t, tt.wantDays, countDays(weeks))
			assert.Equal(t, tt.wantFirst, weeks[0].Days[0].Key)

			for i, w := range weeks {
				assert.Equal(t, i, w.Index)
				if i < len(weeks)-1 {
					assert.Len(t, w.Days, DaysPerPage)
				} else {
					assert.NotEmpty(t, w.Days)
					assert.LessOrEqual(t, len(w.Days), DaysPerPage)
				}
			}

			days := allDays(weeks)
			for i := 1; i < len(days); i++ {
				assert.Equal(t, days[i-1].Date.AddDate(0, 0, 1), days[i].Date, "days must be consecutive")
			}
			for _, r := range tt.raw {
				_, ok := FindSlot(weeks, r.StartISO)
				assert.True(t, ok, "slot %s dropped", r.StartISO)
			}
		})
	}
}

func TestWeekLabel(t *testing.T) {
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, jst)
	weeks := BuildWeeks(nil, now)
	assert.Equal(t, "1/10(水) 〜 1/12(金)", WeekLabel(weeks[0]))
	assert.Equal(t, "1/16(火) 〜 1/16(火)", WeekLabel(weeks[2]))
	assert.Equal(t, "", WeekLabel(Week{}))
	assert.False(t, weeks[0].HasSlots())
}

func TestFirstAvailable(t *testing.T) {
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, jst)
	_, ok := FirstAvailable(BuildWeeks(nil, now))
	assert.False(t, ok)

	weeks := BuildWeeks([]gas.RawSlot{
		{StartISO: "2024-01-15T11:00:00+09:00"},
		{StartISO: "2024-01-15T09:00:00+09:00"},
		{StartISO: "2024-01-16T08:00:00+09:00"},
	}, now)
	loc, ok := FirstAvailable(weeks)
	require.True(t, ok)
	_, slot := Resolve(weeks, loc)
	assert.Equal(t, "2024-01-15T09:00:00+09:00", slot.StartISO)
	assert.Equal(t, 1, loc.Week)
}

func TestParseISO(t *testing.T) {
	got, err := ParseISO("2024-01-10T01:00:00.500Z", jst)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, jst, got.Location())

	got, err = ParseISO("2024-01-10T10:15", jst)
	require.NoError(t, err)
	assert.Equal(t, 15, got.Minute())

	_, err = ParseISO("10:00", jst)
	assert.Error(t, err)
}
