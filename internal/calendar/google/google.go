// Package google implements calendar.Client on the Google Calendar v3 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"webcal/internal/calendar"
	"webcal/internal/datemath"
	appLog "webcal/internal/log"
	"webcal/internal/model"
)

const (
	DefaultCalendarID = "primary"
	maxResults        = 250 // API maximum per page
)

type Options struct {
	CalendarID string
	Location   *time.Location
	// HTTPClient carries the credentials, usually from auth.Client.
	HTTPClient *http.Client
	// Endpoint overrides the API base URL (tests).
	Endpoint string
}

type Client struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
}

var _ calendar.Client = (*Client)(nil)

func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.HTTPClient == nil {
		return nil, errors.New("google: HTTP client is required")
	}
	if opts.CalendarID == "" {
		opts.CalendarID = DefaultCalendarID
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(opts.HTTPClient)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Client{svc: svc, calendarID: opts.CalendarID, loc: opts.Location}, nil
}

func (c *Client) ListEvents(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	call := c.svc.Events.List(c.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxResults)

	var out []model.Event
	pages := 0
	err := call.Pages(ctx, func(page *gcal.Events) error {
		pages++
		for _, item := range page.Items {
			if item.Status == "cancelled" || item.Start == nil {
				continue
			}
			ev, err := c.toEvent(item)
			if err != nil {
				appLog.Warn("google: skipping event", "id", item.Id, "err", err)
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "")
	}
	appLog.Debug("google: listed events", "count", len(out), "pages", pages)
	return out, nil
}

// UpdateEvent reads the event, applies p and writes the whole resource back.
func (c *Client) UpdateEvent(ctx context.Context, id string, p model.Patch) (model.Event, error) {
	if err := p.Validate(); err != nil {
		return model.Event{}, err
	}
	item, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
	if err != nil {
		return model.Event{}, mapErr(err, id)
	}
	if readOnly(item) {
		return model.Event{}, fmt.Errorf("%w: %s", calendar.ErrReadOnly, id)
	}

	if p.Title != nil {
		item.Summary = *p.Title
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Location != nil {
		item.Location = *p.Location
	}
	if p.Extent != nil {
		item.Start, item.End = c.fromExtent(*p.Extent)
	}

	saved, err := c.svc.Events.Update(c.calendarID, id, item).Context(ctx).Do()
	if err != nil {
		return model.Event{}, mapErr(err, id)
	}
	return c.toEvent(saved)
}

func (c *Client) CreateEvent(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	item := &gcal.Event{
		Summary:     d.Title,
		Description: d.Description,
		Location:    d.Location,
	}
	item.Start, item.End = c.fromExtent(d.Extent)

	saved, err := c.svc.Events.Insert(c.calendarID, item).Context(ctx).Do()
	if err != nil {
		return model.Event{}, mapErr(err, "")
	}
	return c.toEvent(saved)
}

func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	if err := c.svc.Events.Delete(c.calendarID, id).Context(ctx).Do(); err != nil {
		return mapErr(err, id)
	}
	return nil
}

func (c *Client) toEvent(item *gcal.Event) (model.Event, error) {
	ev := model.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Recurring:   item.RecurringEventId != "",
		ReadOnly:    readOnly(item),
	}
	if item.Start == nil || item.End == nil {
		return ev, errors.New("missing start or end")
	}

	if item.Start.Date != "" {
		start, err := datemath.ParseDateKey(item.Start.Date)
		if err != nil {
			return ev, err
		}
		end := start
		// End.Date is exclusive.
		if e, err := datemath.ParseDateKey(item.End.Date); err == nil && e > start {
			end = e.AddDays(-1)
		}
		ev.Extent = model.AllDay(start, end)
		return ev, nil
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return ev, fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil || end.Before(start) {
		end = start
	}
	ev.Extent = model.Timed(start.In(c.loc), end.In(c.loc))
	return ev, nil
}

func (c *Client) fromExtent(x model.Extent) (*gcal.EventDateTime, *gcal.EventDateTime) {
	if x.IsAllDay() {
		return &gcal.EventDateTime{Date: string(x.StartDate)},
			&gcal.EventDateTime{Date: string(x.EndDate.AddDays(1))}
	}
	return &gcal.EventDateTime{DateTime: x.Start.In(c.loc).Format(time.RFC3339)},
		&gcal.EventDateTime{DateTime: x.End.In(c.loc).Format(time.RFC3339)}
}

// readOnly reports events the signed-in user may not modify: locked events
// and invitations from another organizer without guest edit rights.
func readOnly(item *gcal.Event) bool {
	if item.Locked {
		return true
	}
	return item.Organizer != nil && !item.Organizer.Self && !item.GuestsCanModify
}

// mapErr translates API and token errors into calendar sentinels.
func mapErr(err error, id string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", calendar.ErrAuthExpired, apiErr.Message)
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %s", calendar.ErrNotFound, id)
		}
		return fmt.Errorf("google calendar: %w", err)
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return fmt.Errorf("%w: %v", calendar.ErrAuthExpired, err)
	}
	return fmt.Errorf("google calendar: %w", err)
}
