package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/api/calendar/v3"
)

// Inbound notifications.
const (
	NotificationInit        = "INIT"
	NotificationModuleReady = "MODULE_READY"
	NotificationAddCalendar = "ADD_CALENDAR"
)

// Outbound notifications.
const (
	NotificationServiceReady   = "SERVICE_READY"
	NotificationAuthNeeded     = "AUTH_NEEDED"
	NotificationAuthFailed     = "AUTH_FAILED"
	NotificationCalendarEvents = "CALENDAR_EVENTS"
	NotificationCalendarError  = "CALENDAR_ERROR"
)

// Command is a notification received from the host.
type Command struct {
	Notification string          `json:"notification"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Event is a notification sent to the host.
type Event struct {
	Notification string `json:"notification"`
	Payload      any    `json:"payload"`
}

// ModuleReady is the MODULE_READY payload. QueryParams is present when the
// host was reloaded by the OAuth redirect.
type ModuleReady struct {
	QueryParams QueryParams `json:"queryParams,omitempty"`
}

// QueryParams holds the redirect parameters. The host sends either the raw
// query string, with or without the leading "?", or an object.
type QueryParams url.Values

func (q *QueryParams) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*q = nil
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimPrefix(s, "?")
		if s == "" {
			return nil
		}
		v, err := url.ParseQuery(s)
		if err != nil {
			return fmt.Errorf("queryParams: %w", err)
		}
		*q = QueryParams(v)
		return nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		v := url.Values{}
		for key, val := range raw {
			var one string
			if err := json.Unmarshal(val, &one); err == nil {
				v.Add(key, one)
				continue
			}
			var many []string
			if err := json.Unmarshal(val, &many); err == nil {
				v[key] = append(v[key], many...)
				continue
			}
			v.Add(key, strings.Trim(string(val), `"`))
		}
		*q = QueryParams(v)
		return nil
	default:
		return fmt.Errorf("queryParams: unsupported value %s", data)
	}
}

// AddCalendar is the ADD_CALENDAR payload.
type AddCalendar struct {
	CalendarID string `json:"calendarID"`
	// FetchInterval is in milliseconds.
	FetchInterval  int64  `json:"fetchInterval"`
	MaximumEntries int64  `json:"maximumEntries"`
	ID             string `json:"id"`
}

type AuthNeeded struct {
	URL            string `json:"url"`
	CredentialType string `json:"credentialType"`
}

type AuthFailed struct {
	ErrorType string `json:"error_type"`
}

type CalendarEvents struct {
	ID         string            `json:"id"`
	CalendarID string            `json:"calendarID"`
	Events     []*calendar.Event `json:"events"`
}

type CalendarError struct {
	ID        string `json:"id"`
	ErrorType string `json:"error_type"`
}
