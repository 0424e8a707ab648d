// Package icsfile is a calendar backend over a local iCalendar file, with
// remote ICS subscriptions merged in read-only.
package icsfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"webcal/internal/calendar"
	"webcal/internal/datemath"
	"webcal/internal/ics"
	appLog "webcal/internal/log"
	"webcal/internal/model"
)

const (
	localSourceID = "local"
	subPrefix     = "sub:"
	productID     = "webcal"
)

type Options struct {
	Path          string
	Location      *time.Location
	Subscriptions []ics.Source
	Fetcher       *ics.Fetcher
}

// Backend implements calendar.Client. Mutations rewrite the whole file
// through a temp file and rename.
type Backend struct {
	path    string
	loc     *time.Location
	subs    []ics.Source
	fetcher *ics.Fetcher
	mu      sync.Mutex
	now     func() time.Time
}

var _ calendar.Client = (*Backend)(nil)

func New(opts Options) (*Backend, error) {
	if opts.Path == "" {
		return nil, errors.New("icsfile: path is empty")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	subs := make([]ics.Source, 0, len(opts.Subscriptions))
	for _, s := range opts.Subscriptions {
		s.ReadOnly = true
		subs = append(subs, s)
	}
	if len(subs) > 0 && opts.Fetcher == nil {
		opts.Fetcher = ics.NewFetcher(nil, nil)
	}
	return &Backend{
		path:    opts.Path,
		loc:     opts.Location,
		subs:    subs,
		fetcher: opts.Fetcher,
		now:     time.Now,
	}, nil
}

func (b *Backend) ListEvents(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	b.mu.Lock()
	cal, err := b.load()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	parsed := ics.ParseCalendar(ics.Source{ID: localSourceID}, cal)

	if len(b.subs) > 0 {
		results, _ := b.fetcher.FetchAll(ctx, b.subs)
		for _, res := range results {
			evs, err := ics.ParseICS(res.Source, res.Body)
			if err != nil {
				appLog.Warn("subscription skipped", "id", res.Source.ID, "err", err)
				continue
			}
			for i := range evs {
				evs[i].UID = subPrefix + res.Source.ID + ":" + evs[i].UID
			}
			parsed = append(parsed, evs...)
		}
	}

	res, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: b.loc,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

func (b *Backend) CreateEvent(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cal, err := b.load()
	if err != nil {
		return model.Event{}, err
	}

	now := b.now()
	ve := cal.AddEvent(uuid.NewString() + "@" + productID)
	ve.SetCreatedTime(now)
	ve.SetDtStampTime(now)
	title, desc, place, ext := d.Title, d.Description, d.Location, d.Extent
	b.apply(ve, model.Patch{Title: &title, Description: &desc, Location: &place, Extent: &ext})

	if err := b.save(cal); err != nil {
		return model.Event{}, err
	}
	return b.eventOf(ve, ve.Id(), false)
}

func (b *Backend) UpdateEvent(ctx context.Context, id string, p model.Patch) (model.Event, error) {
	if err := p.Validate(); err != nil {
		return model.Event{}, err
	}
	if isSubscription(id) {
		return model.Event{}, fmt.Errorf("%w: %s", calendar.ErrReadOnly, id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cal, err := b.load()
	if err != nil {
		return model.Event{}, err
	}

	uid, stamp, instance := ics.SplitInstanceID(id)
	base := findBase(cal, uid)
	if base == nil {
		return model.Event{}, fmt.Errorf("%w: %s", calendar.ErrNotFound, id)
	}

	target := base
	if instance {
		target, err = b.override(cal, base, id, stamp)
		if err != nil {
			return model.Event{}, err
		}
	}
	b.apply(target, p)

	if err := b.save(cal); err != nil {
		return model.Event{}, err
	}
	return b.eventOf(target, id, instance)
}

// DeleteEvent removes a whole series for a plain id, or excludes one
// occurrence for an instance id.
func (b *Backend) DeleteEvent(ctx context.Context, id string) error {
	if isSubscription(id) {
		return fmt.Errorf("%w: %s", calendar.ErrReadOnly, id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cal, err := b.load()
	if err != nil {
		return err
	}

	uid, stamp, instance := ics.SplitInstanceID(id)
	base := findBase(cal, uid)
	if base == nil {
		return fmt.Errorf("%w: %s", calendar.ErrNotFound, id)
	}

	if instance {
		removeComponents(cal, func(ve *ical.VEvent) bool {
			return ve.Id() == uid && overrideID(ve, base) == id
		})
		if strings.Contains(stamp, "T") {
			base.AddExdate(stamp)
		} else {
			base.AddExdate(stamp, ical.WithValue(string(ical.ValueDataTypeDate)))
		}
		base.SetDtStampTime(b.now())
	} else {
		removeComponents(cal, func(ve *ical.VEvent) bool { return ve.Id() == uid })
	}

	return b.save(cal)
}

// override finds or creates the RECURRENCE-ID component for one instance of
// base. A new override starts as a copy of the instance's original values.
func (b *Backend) override(cal *ical.Calendar, base *ical.VEvent, id, stamp string) (*ical.VEvent, error) {
	for _, ve := range cal.Events() {
		if ve.Id() == base.Id() && overrideID(ve, base) == id {
			return ve, nil
		}
	}

	pe, err := ics.ParseVEvent(ics.Source{ID: localSourceID}, base)
	if err != nil {
		return nil, err
	}
	if pe.RawRRule == "" {
		return nil, fmt.Errorf("%w: %s", calendar.ErrNotFound, id)
	}

	ov := ical.NewEvent(base.Id())
	ov.SetDtStampTime(b.now())
	ov.SetSummary(pe.Summary)
	if pe.Description != "" {
		ov.SetDescription(pe.Description)
	}
	if pe.Location != "" {
		ov.SetLocation(pe.Location)
	}

	var ext model.Extent
	if pe.AllDay {
		day, err := time.Parse("20060102", stamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", calendar.ErrNotFound, id)
		}
		ov.SetProperty(ical.ComponentPropertyRecurrenceId, stamp, ical.WithValue(string(ical.ValueDataTypeDate)))
		key := datemath.ToDateKey(day)
		ext = model.AllDay(key, key.AddDays(datemath.DaysBetween(pe.StartDate, pe.EndDate)))
	} else {
		at, err := time.Parse("20060102T150405Z", stamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", calendar.ErrNotFound, id)
		}
		ov.SetProperty(ical.ComponentPropertyRecurrenceId, stamp)
		ext = model.Timed(at, at.Add(pe.Duration()))
	}
	b.apply(ov, model.Patch{Extent: &ext})
	cal.AddVEvent(ov)
	return ov, nil
}

// apply writes the non-nil fields of p onto ve and bumps SEQUENCE.
func (b *Backend) apply(ve *ical.VEvent, p model.Patch) {
	if p.Title != nil {
		ve.SetSummary(*p.Title)
	}
	if p.Description != nil {
		setOrRemove(ve, ical.ComponentPropertyDescription, *p.Description)
	}
	if p.Location != nil {
		setOrRemove(ve, ical.ComponentPropertyLocation, *p.Location)
	}
	if x := p.Extent; x != nil {
		ve.RemoveProperty(ical.ComponentPropertyDuration)
		if x.IsAllDay() {
			ve.SetAllDayStartAt(x.StartDate.Time(b.loc))
			ve.SetAllDayEndAt(x.EndDate.AddDays(1).Time(b.loc))
		} else {
			ve.SetStartAt(x.Start)
			ve.SetEndAt(x.End)
		}
	}

	seq := 0
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		seq, _ = strconv.Atoi(strings.TrimSpace(p.Value))
		seq++
	}
	ve.SetSequence(seq)
	ve.SetLastModifiedAt(b.now())
}

func setOrRemove(ve *ical.VEvent, prop ical.ComponentProperty, v string) {
	if v == "" {
		ve.RemoveProperty(prop)
		return
	}
	ve.SetProperty(prop, v)
}

func (b *Backend) eventOf(ve *ical.VEvent, id string, recurring bool) (model.Event, error) {
	pe, err := ics.ParseVEvent(ics.Source{ID: localSourceID}, ve)
	if err != nil {
		return model.Event{}, err
	}
	return ics.EventFrom(pe, id, recurring, b.loc), nil
}

// findBase returns the series master (the VEVENT without RECURRENCE-ID).
func findBase(cal *ical.Calendar, uid string) *ical.VEvent {
	for _, ve := range cal.Events() {
		if ve.Id() == uid && !ve.HasProperty(ical.ComponentPropertyRecurrenceId) {
			return ve
		}
	}
	return nil
}

// overrideID is the instance id an override component stands for, or "".
func overrideID(ve, base *ical.VEvent) string {
	if !ve.HasProperty(ical.ComponentPropertyRecurrenceId) {
		return ""
	}
	pe, err := ics.ParseVEvent(ics.Source{}, ve)
	if err != nil || pe.Recurrence == nil {
		return ""
	}
	bp, err := ics.ParseVEvent(ics.Source{}, base)
	if err != nil {
		return ""
	}
	return ics.InstanceID(pe.UID, *pe.Recurrence, bp.AllDay)
}

func removeComponents(cal *ical.Calendar, drop func(*ical.VEvent) bool) {
	kept := cal.Components[:0]
	for _, c := range cal.Components {
		if ve, ok := c.(*ical.VEvent); ok && drop(ve) {
			continue
		}
		kept = append(kept, c)
	}
	cal.Components = kept
}

func isSubscription(id string) bool {
	return strings.HasPrefix(id, subPrefix)
}

func (b *Backend) load() (*ical.Calendar, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(bytes.TrimSpace(data)) == 0) {
		return ical.NewCalendarFor(productID), nil
	}
	if err != nil {
		return nil, err
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.path, err)
	}
	return cal, nil
}

func (b *Backend) save(cal *ical.Calendar) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".webcal-ics-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := cal.SerializeTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return err
	}
	appLog.Debug("ics file saved", "path", b.path)
	return nil
}
