package index

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcal/internal/datemath"
	"webcal/internal/model"
)

func timed(id string, start time.Time) model.Event {
	return model.Event{ID: id, Title: id, Extent: model.Timed(start, start.Add(time.Hour))}
}

func allDay(id string, day datemath.DateKey) model.Event {
	return model.Event{ID: id, Title: id, Extent: model.AllDay(day, day)}
}

func TestReplaceRangeIndexesByLocalStart(t *testing.T) {
	loc := time.UTC
	ix := New(loc)

	events := []model.Event{
		timed("a", time.Date(2024, 3, 10, 9, 0, 0, 0, loc)),
		timed("b", time.Date(2024, 3, 10, 13, 0, 0, 0, loc)),
		allDay("c", "2024-03-12"),
	}
	ix.ReplaceRange("2024-03-10", "2024-03-16", events)

	for _, ev := range events {
		got := ix.Lookup(ev.LocalDateKey(loc))
		count := 0
		for _, g := range got {
			if g.ID == ev.ID {
				count++
			}
		}
		assert.Equal(t, 1, count, ev.ID)
	}

	day := ix.Lookup("2024-03-10")
	require.Len(t, day, 2)
	assert.Equal(t, "a", day[0].ID, "insertion order kept")
	assert.Equal(t, "b", day[1].ID)
}

func TestTimedAndAllDayShareKey(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ix := New(ny)

	// 01:00 UTC on the 13th is 21:00 on the 12th in New York.
	ix.ReplaceRange("2024-03-10", "2024-03-16", []model.Event{
		timed("late", time.Date(2024, 3, 13, 1, 0, 0, 0, time.UTC)),
		allDay("whole", "2024-03-12"),
	})

	got := ix.Lookup("2024-03-12")
	require.Len(t, got, 2)
	assert.Empty(t, ix.Lookup("2024-03-13"))
}

func TestReplaceRangeIsIdempotent(t *testing.T) {
	ix := New(time.UTC)
	events := []model.Event{
		timed("a", time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)),
		allDay("b", "2024-03-14"),
	}

	ix.ReplaceRange("2024-03-10", "2024-03-16", events)
	firstKeys, firstLen := ix.Keys(), ix.Len()
	first11 := ix.Lookup("2024-03-11")

	ix.ReplaceRange("2024-03-10", "2024-03-16", events)

	assert.Equal(t, firstKeys, ix.Keys())
	assert.Equal(t, firstLen, ix.Len())
	assert.Equal(t, first11, ix.Lookup("2024-03-11"))
}

func TestReplaceRangeLeavesOutsideKeys(t *testing.T) {
	ix := New(time.UTC)
	ix.ReplaceRange("2024-03-01", "2024-03-31", []model.Event{
		allDay("early", "2024-03-02"),
		allDay("mid", "2024-03-12"),
	})

	ix.ReplaceRange("2024-03-10", "2024-03-16", nil)

	assert.Len(t, ix.Lookup("2024-03-02"), 1)
	assert.Empty(t, ix.Lookup("2024-03-12"))
}

func TestReplaceRangeEvictsMovedEvent(t *testing.T) {
	ix := New(time.UTC)
	ix.ReplaceRange("2024-03-01", "2024-03-31", []model.Event{allDay("x", "2024-03-02")})

	// x moved to the 12th; a week fetch returns it there.
	ix.ReplaceRange("2024-03-10", "2024-03-16", []model.Event{allDay("x", "2024-03-12")})

	assert.Empty(t, ix.Lookup("2024-03-02"))
	got, ok := ix.FindByID("x")
	require.True(t, ok)
	assert.Equal(t, datemath.DateKey("2024-03-12"), got.StartDate)
}

func TestLookupAndFindMisses(t *testing.T) {
	ix := New(time.UTC)

	got := ix.Lookup("1999-01-01")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, ok := ix.FindByID("nope")
	assert.False(t, ok)
}

func TestLookupReturnsCopy(t *testing.T) {
	ix := New(time.UTC)
	ix.ReplaceRange("2024-03-12", "2024-03-12", []model.Event{allDay("a", "2024-03-12")})

	got := ix.Lookup("2024-03-12")
	got[0].Title = "mutated"

	again := ix.Lookup("2024-03-12")
	assert.Equal(t, "a", again[0].Title)
}

func TestClear(t *testing.T) {
	ix := New(time.UTC)
	ix.ReplaceRange("2024-03-12", "2024-03-12", []model.Event{allDay("a", "2024-03-12")})
	ix.Clear()
	assert.Zero(t, ix.Len())
}

func TestConcurrentReadersSeeWholeRanges(t *testing.T) {
	ix := New(time.UTC)
	batch := func(n int) []model.Event {
		out := make([]model.Event, 0, 7)
		for d := 10; d <= 16; d++ {
			out = append(out, allDay(fmt.Sprintf("%d-%d", n, d), datemath.DateKey(fmt.Sprintf("2024-03-%02d", d))))
		}
		return out
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ix.ReplaceRange("2024-03-10", "2024-03-16", batch(i))
		}
	}()
	for i := 0; i < 200; i++ {
		n := ix.Len()
		assert.True(t, n == 0 || n == 7, "saw partial range of %d events", n)
	}
	wg.Wait()
}
