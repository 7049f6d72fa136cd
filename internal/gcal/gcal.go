// Package gcal wraps the Google Calendar v3 API for read-only listing of
// upcoming events.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Client lists events through an authorized HTTP client.
type Client struct {
	srv *calendar.Service
}

// NewClient creates a Calendar service that sends its requests through hc,
// typically the client built by the auth Manager. Extra options are mostly
// useful to point the service at a test endpoint.
func NewClient(ctx context.Context, hc *http.Client, opts ...option.ClientOption) (*Client, error) {
	if hc == nil {
		return nil, errors.New("gcal: http client is nil")
	}
	all := append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	srv, err := calendar.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	return &Client{srv: srv}, nil
}

// ListUpcoming returns at most max single (recurrence-expanded) events of
// calendarID starting from from, ordered by start time.
func (c *Client) ListUpcoming(ctx context.Context, calendarID string, from time.Time, max int64) ([]*calendar.Event, error) {
	res, err := c.srv.Events.List(calendarID).
		Context(ctx).
		TimeMin(from.Format(time.RFC3339)).
		MaxResults(max).
		SingleEvents(true).
		OrderBy("startTime").
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events for %s: %w", calendarID, err)
	}
	return res.Items, nil
}
