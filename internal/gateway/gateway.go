// Package gateway translates host notifications into calls on the
// authorization manager and the poller, and poller results back into host
// notifications.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"calendar-feed/internal/auth"
	"calendar-feed/internal/config"
	"calendar-feed/internal/filter"
	"calendar-feed/internal/gcal"
	"calendar-feed/internal/poller"
)

// Emitter delivers outbound notifications to the host.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Authorizer is the part of *auth.Manager the gateway drives.
type Authorizer interface {
	Initialize(settings auth.Settings)
	EnsureAuthorized(ctx context.Context) (auth.Outcome, error)
	CompleteAuthorization(ctx context.Context, params url.Values) (auth.Outcome, error)
	Client() *http.Client
}

// ListerFactory builds the calendar client once an authorized HTTP client
// exists.
type ListerFactory func(ctx context.Context, hc *http.Client) (poller.Lister, error)

// Options configures a Gateway.
type Options struct {
	// ModuleName is passed to the Authorizer as the OAuth state.
	ModuleName string
	// NewLister defaults to a Google Calendar client.
	NewLister ListerFactory
	// Poller is passed to poller.New.
	Poller poller.Options
	// BaseContext bounds the fetch loops. Commands may arrive on
	// short-lived request contexts, so loops never use those.
	BaseContext context.Context
	Logger      *slog.Logger
}

// Gateway is the boundary between the host and the service. It is safe
// for concurrent use: the stdio reader and the OAuth callback server both
// deliver commands.
type Gateway struct {
	auth       Authorizer
	out        Emitter
	moduleName string
	newLister  ListerFactory
	pollerOpts poller.Options
	base       context.Context
	logger     *slog.Logger

	mu      sync.Mutex
	module  config.Module
	filter  *filter.Filter
	poller  *poller.Poller
	pending []poller.Subscription
	closed  bool
}

// New returns a Gateway that authorizes through a and sends notifications
// to out.
func New(a Authorizer, out Emitter, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newLister := opts.NewLister
	if newLister == nil {
		newLister = func(ctx context.Context, hc *http.Client) (poller.Lister, error) {
			return gcal.NewClient(ctx, hc)
		}
	}
	pollerOpts := opts.Poller
	if pollerOpts.Logger == nil {
		pollerOpts.Logger = logger
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Gateway{
		auth:       a,
		base:       base,
		out:        out,
		moduleName: opts.ModuleName,
		newLister:  newLister,
		pollerOpts: pollerOpts,
		logger:     logger.With("component", "gateway"),
	}
}

// Handle dispatches one inbound command. Unknown notifications are logged
// and ignored.
func (g *Gateway) Handle(ctx context.Context, cmd Command) error {
	g.logger.Info("notification received", "notification", cmd.Notification)

	switch cmd.Notification {
	case NotificationInit:
		var m config.Module
		if err := decodePayload(cmd.Payload, &m); err != nil {
			return fmt.Errorf("%s: %w", cmd.Notification, err)
		}
		g.Init(m)
		return nil

	case NotificationModuleReady:
		var p ModuleReady
		if err := decodePayload(cmd.Payload, &p); err != nil {
			return fmt.Errorf("%s: %w", cmd.Notification, err)
		}
		g.ModuleReady(ctx, url.Values(p.QueryParams))
		return nil

	case NotificationAddCalendar:
		var p AddCalendar
		if err := decodePayload(cmd.Payload, &p); err != nil {
			return fmt.Errorf("%s: %w", cmd.Notification, err)
		}
		if p.CalendarID == "" {
			return fmt.Errorf("%s: calendarID is required", cmd.Notification)
		}
		g.AddCalendar(poller.Subscription{
			ID:             p.ID,
			CalendarID:     p.CalendarID,
			FetchInterval:  time.Duration(p.FetchInterval) * time.Millisecond,
			MaximumEntries: p.MaximumEntries,
		})
		return nil

	default:
		g.logger.Warn("unknown notification ignored", "notification", cmd.Notification)
		return nil
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Init stores the module configuration. A repeated Init replaces the rules
// for every cycle that starts afterwards.
func (g *Gateway) Init(m config.Module) {
	f := filter.Compile(m.ExcludedEvents)
	for _, err := range f.Defects() {
		g.logger.Warn("exclusion rule never matches", "error", err)
	}

	g.auth.Initialize(auth.Settings{State: g.moduleName})

	g.mu.Lock()
	replaced := g.filter != nil
	g.module = m
	g.filter = f
	if g.poller != nil {
		g.poller.SetFilter(f)
	}
	g.mu.Unlock()

	if replaced {
		g.logger.Info("config replaced", "excluded_events", f.Len())
	} else {
		g.logger.Info("config loaded", "excluded_events", f.Len())
	}
}

// Module returns the stored module configuration.
func (g *Gateway) Module() config.Module {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.module
}

// Ready reports whether the calendar service is running.
func (g *Gateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.poller != nil
}

// ModuleReady drives authorization. With params it completes the OAuth
// redirect, otherwise it tries the stored token. Once the service is
// running it only answers SERVICE_READY.
func (g *Gateway) ModuleReady(ctx context.Context, params url.Values) {
	if g.Ready() {
		g.emit(ctx, NotificationServiceReady, struct{}{})
		return
	}

	var (
		out auth.Outcome
		err error
	)
	if len(params) > 0 {
		out, err = g.auth.CompleteAuthorization(ctx, params)
	} else {
		out, err = g.auth.EnsureAuthorized(ctx)
	}
	g.settle(ctx, out, err)
}

// CompleteAuthorization handles the provider redirect received by the
// callback server.
func (g *Gateway) CompleteAuthorization(ctx context.Context, params url.Values) {
	if g.Ready() {
		g.emit(ctx, NotificationServiceReady, struct{}{})
		return
	}
	out, err := g.auth.CompleteAuthorization(ctx, params)
	g.settle(ctx, out, err)
}

func (g *Gateway) settle(ctx context.Context, out auth.Outcome, err error) {
	if err != nil {
		errorType := gcal.ErrorUnspecified
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			errorType = authErr.ErrorType()
		}
		g.logger.Error("authorization failed", "error_type", errorType, "error", err)
		g.emit(ctx, NotificationAuthFailed, AuthFailed{ErrorType: errorType})
		return
	}

	if !out.Ready {
		g.emit(ctx, NotificationAuthNeeded, AuthNeeded{
			URL:            out.ConsentURL,
			CredentialType: string(out.CredentialType),
		})
		return
	}

	p, pending, err := g.startService(ctx)
	if err != nil {
		g.logger.Error("calendar service not started", "error", err)
		g.emit(ctx, NotificationAuthFailed, AuthFailed{ErrorType: gcal.ErrorUnspecified})
		return
	}
	g.emit(ctx, NotificationServiceReady, struct{}{})
	for _, sub := range pending {
		p.Start(g.base, sub)
	}
}

// startService creates the poller once and hands back the subscriptions
// that arrived before authorization completed.
func (g *Gateway) startService(ctx context.Context) (*poller.Poller, []poller.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.poller != nil {
		return g.poller, nil, nil
	}
	if g.closed {
		return nil, nil, errors.New("gateway is shut down")
	}

	lister, err := g.newLister(ctx, g.auth.Client())
	if err != nil {
		return nil, nil, err
	}
	g.poller = poller.New(lister, g.filter, g, g.pollerOpts)

	pending := g.pending
	g.pending = nil
	return g.poller, pending, nil
}

// AddCalendar registers a subscription. Before the service is ready the
// subscription is queued.
func (g *Gateway) AddCalendar(sub poller.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		g.logger.Warn("calendar ignored after shutdown", "id", sub.ID, "calendar_id", sub.CalendarID)
		return
	}
	if g.poller == nil {
		g.logger.Info("calendar queued until authorized", "id", sub.ID, "calendar_id", sub.CalendarID)
		g.pending = append(g.pending, sub)
		return
	}
	g.poller.Start(g.base, sub)
}

// Shutdown stops further fetch cycles and waits for running ones to finish.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.closed = true
	p := g.poller
	g.pending = nil
	g.mu.Unlock()

	if p != nil {
		p.Shutdown()
		p.Wait()
	}
}

// CalendarEvents implements poller.Sink.
func (g *Gateway) CalendarEvents(ctx context.Context, b poller.Batch) {
	g.emit(ctx, NotificationCalendarEvents, CalendarEvents{
		ID:         b.ID,
		CalendarID: b.CalendarID,
		Events:     b.Events,
	})
}

// CalendarError implements poller.Sink.
func (g *Gateway) CalendarError(ctx context.Context, id, errorType string) {
	g.emit(ctx, NotificationCalendarError, CalendarError{ID: id, ErrorType: errorType})
}

func (g *Gateway) emit(ctx context.Context, notification string, payload any) {
	if err := g.out.Emit(ctx, Event{Notification: notification, Payload: payload}); err != nil {
		g.logger.Error("could not send notification", "notification", notification, "error", err)
	}
}
