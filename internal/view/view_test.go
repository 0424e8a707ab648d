package view

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcal/internal/datemath"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func keys(r Range) (string, string) {
	a, b := r.Keys()
	return string(a), string(b)
}

func TestVisibleRange(t *testing.T) {
	anchor := day(2024, 3, 15) // Friday

	start, end := keys(VisibleRange(New(Week, anchor)))
	assert.Equal(t, "2024-03-10", start)
	assert.Equal(t, "2024-03-16", end)

	start, end = keys(VisibleRange(New(Month, anchor)))
	assert.Equal(t, "2024-03-01", start)
	assert.Equal(t, "2024-03-31", end)

	start, end = keys(VisibleRange(New(Day, anchor.Add(17*time.Hour))))
	assert.Equal(t, "2024-03-15", start)
	assert.Equal(t, "2024-03-15", end)
}

func TestWeekRangeCrossesMonths(t *testing.T) {
	r := VisibleRange(New(Week, day(2024, 3, 1)))
	start, end := keys(r)
	assert.Equal(t, "2024-02-25", start)
	assert.Equal(t, "2024-03-02", end)
	assert.Len(t, r.Days(), 7)

	from, to := r.FetchWindow()
	assert.Equal(t, day(2024, 2, 25), from)
	assert.Equal(t, day(2024, 3, 3), to)
}

func TestRequiresRefetch(t *testing.T) {
	modes := []Mode{Month, Week, Day}
	for _, from := range modes {
		for _, to := range modes {
			assert.Equal(t, from != to, RequiresRefetch(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, RequiresRefetch(Day, Week))
}

func TestAdvance(t *testing.T) {
	s := New(Week, day(2024, 3, 15))
	assert.Equal(t, datemath.DateKey("2024-03-22"), Advance(s, Next).AnchorKey())
	assert.Equal(t, datemath.DateKey("2024-03-08"), Advance(s, Prev).AnchorKey())
	assert.Equal(t, Week, Advance(s, Next).Mode)

	d := New(Day, day(2024, 2, 29))
	assert.Equal(t, datemath.DateKey("2024-03-01"), Advance(d, Next).AnchorKey())

	m := New(Month, day(2024, 1, 31))
	feb := Advance(m, Next)
	assert.Equal(t, datemath.DateKey("2024-02-29"), feb.AnchorKey())
	assert.Equal(t, datemath.DateKey("2024-03-29"), Advance(feb, Next).AnchorKey())
	assert.Equal(t, datemath.DateKey("2023-12-31"), Advance(m, Prev).AnchorKey())
}

func TestParseModeRejectsUnknown(t *testing.T) {
	m, err := ParseMode(" Week ")
	require.NoError(t, err)
	assert.Equal(t, Week, m)

	_, err = ParseMode("year")
	assert.True(t, errors.Is(err, ErrInvalidMode))

	s := New(Day, day(2024, 3, 15))
	got, err := WithMode(s, Mode("fortnight"))
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, s, got)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("previous")
	require.NoError(t, err)
	assert.Equal(t, Prev, d)
	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestNavigateToday(t *testing.T) {
	s := New(Week, day(2024, 1, 3))
	now := time.Date(2024, 3, 15, 17, 45, 0, 0, time.UTC)

	got := Navigate(s, Today, now)
	assert.Equal(t, Week, got.Mode)
	assert.Equal(t, day(2024, 3, 15), got.Anchor)

	assert.Equal(t, s, Advance(s, Today), "Advance ignores Today")
	assert.Equal(t, day(2024, 1, 10), Navigate(s, Next, now).Anchor)
}

type mapPrefs map[string]string

func (m mapPrefs) Get(k string) (string, bool) { v, ok := m[k]; return v, ok }
func (m mapPrefs) Set(k, v string) error       { m[k] = v; return nil }

func TestRestoreAndSave(t *testing.T) {
	today := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	fresh := Restore(mapPrefs{}, today)
	assert.Equal(t, Month, fresh.Mode)
	assert.Equal(t, datemath.DateKey("2024-03-15"), fresh.AnchorKey())

	p := mapPrefs{}
	require.NoError(t, Save(p, New(Day, day(2024, 7, 4))))
	restored := Restore(p, today)
	assert.Equal(t, Day, restored.Mode)
	assert.Equal(t, datemath.DateKey("2024-07-04"), restored.AnchorKey())

	broken := mapPrefs{ModeKey: "agenda", AnchorKey: "soon"}
	assert.Equal(t, fresh, Restore(broken, today))
}
