// Package poller runs one self-rescheduling fetch loop per subscribed
// calendar: fetch, filter, emit, wait, repeat.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/api/calendar/v3"

	"calendar-feed/internal/filter"
	"calendar-feed/internal/gcal"
)

// Defaults applied to subscriptions that leave a field unset.
const (
	DefaultFetchInterval  = 5 * time.Minute
	DefaultMaximumEntries = 10
)

// Subscription is one registered calendar. It lives as long as the process.
type Subscription struct {
	// ID identifies the subscribing module instance in emitted results.
	ID             string
	CalendarID     string
	FetchInterval  time.Duration
	MaximumEntries int64
}

func (s Subscription) withDefaults() Subscription {
	if s.FetchInterval <= 0 {
		s.FetchInterval = DefaultFetchInterval
	}
	if s.MaximumEntries <= 0 {
		s.MaximumEntries = DefaultMaximumEntries
	}
	return s
}

// Lister fetches upcoming events. *gcal.Client implements it.
type Lister interface {
	ListUpcoming(ctx context.Context, calendarID string, from time.Time, max int64) ([]*calendar.Event, error)
}

// Batch is the filtered result of one successful cycle.
type Batch struct {
	ID         string
	CalendarID string
	Events     []*calendar.Event
}

// Sink receives the result of every cycle.
type Sink interface {
	CalendarEvents(ctx context.Context, batch Batch)
	CalendarError(ctx context.Context, id, errorType string)
}

// Options configures a Poller. Zero values select the production defaults.
type Options struct {
	Classify func(error) string
	Now      func() time.Time
	// After returns a channel that fires once d has elapsed.
	After  func(d time.Duration) <-chan time.Time
	Logger *slog.Logger
}

// Poller owns the fetch loops. All loops share the Lister and the current
// Filter, both read-only.
type Poller struct {
	lister   Lister
	sink     Sink
	classify func(error) string
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
	logger   *slog.Logger

	filter atomic.Pointer[filter.Filter]
	active atomic.Bool
	stop   chan struct{}

	// mu orders Start against Shutdown so that Wait never races a new loop.
	mu sync.Mutex
	wg sync.WaitGroup
}

// New returns an active Poller.
func New(lister Lister, f *filter.Filter, sink Sink, opts Options) *Poller {
	p := &Poller{
		lister:   lister,
		sink:     sink,
		classify: opts.Classify,
		now:      opts.Now,
		after:    opts.After,
		logger:   opts.Logger,
		stop:     make(chan struct{}),
	}
	if p.classify == nil {
		p.classify = gcal.ClassifyError
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.after == nil {
		p.after = time.After
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "poller")
	p.filter.Store(f)
	p.active.Store(true)
	return p
}

// SetFilter replaces the rule set used by subsequent cycles.
func (p *Poller) SetFilter(f *filter.Filter) {
	p.filter.Store(f)
}

// Active reports whether loops still reschedule.
func (p *Poller) Active() bool {
	return p.active.Load()
}

// Start begins the loop for sub in its own goroutine and returns
// immediately. ctx only bounds the waiting between cycles; a fetch that is
// already running is never cancelled.
func (p *Poller) Start(ctx context.Context, sub Subscription) {
	sub = sub.withDefaults()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active.Load() {
		p.logger.Warn("poller shut down, subscription ignored", "id", sub.ID, "calendar_id", sub.CalendarID)
		return
	}

	p.logger.Info("calendar registered",
		"id", sub.ID,
		"calendar_id", sub.CalendarID,
		"fetch_interval", sub.FetchInterval.String(),
		"maximum_entries", sub.MaximumEntries,
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx, sub)
	}()
}

func (p *Poller) loop(ctx context.Context, sub Subscription) {
	for {
		p.RunOnce(ctx, sub)

		if !p.active.Load() {
			return
		}
		select {
		case <-p.after(sub.FetchInterval):
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
		if !p.active.Load() {
			return
		}
	}
}

// RunOnce performs a single fetch-filter-emit cycle for sub. It reports
// whether the fetch succeeded.
func (p *Poller) RunOnce(ctx context.Context, sub Subscription) bool {
	sub = sub.withDefaults()
	fetchCtx := context.WithoutCancel(ctx)

	events, err := p.lister.ListUpcoming(fetchCtx, sub.CalendarID, p.now(), sub.MaximumEntries)
	if err != nil {
		errorType := p.classify(err)
		p.logger.Error("could not fetch calendar",
			"id", sub.ID,
			"calendar_id", sub.CalendarID,
			"error_type", errorType,
			"error", err,
		)
		p.sink.CalendarError(fetchCtx, sub.ID, errorType)
		return false
	}

	p.logger.Info("events loaded", "calendar_id", sub.CalendarID, "count", len(events))
	kept := filter.FilterEvents(p.filter.Load(), events, eventTitle)
	p.logger.Info("events after filtering", "calendar_id", sub.CalendarID, "count", len(kept))

	p.sink.CalendarEvents(fetchCtx, Batch{
		ID:         sub.ID,
		CalendarID: sub.CalendarID,
		Events:     kept,
	})
	return true
}

// Shutdown stops all loops from scheduling further cycles. Cycles in
// progress still finish and emit their result.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active.Load() {
		return
	}
	p.active.Store(false)
	close(p.stop)
	p.logger.Info("poller shutting down")
}

// Wait blocks until every loop has returned.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func eventTitle(ev *calendar.Event) string {
	if ev == nil {
		return ""
	}
	return ev.Summary
}
