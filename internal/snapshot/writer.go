package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"calendar-feed/internal/gateway"
	"calendar-feed/internal/store"
)

// Writer is a gateway.Emitter that forwards every notification to next and
// additionally stores each CALENDAR_EVENTS batch as <id>.ics and <id>.json.
type Writer struct {
	next   gateway.Emitter
	blobs  store.Store
	now    func() time.Time
	logger *slog.Logger

	// mu serializes snapshot writes; two loops may share a file name.
	mu sync.Mutex
}

// NewWriter returns a Writer storing snapshots in blobs. next may be nil.
func NewWriter(next gateway.Emitter, blobs store.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		next:   next,
		blobs:  blobs,
		now:    time.Now,
		logger: logger.With("component", "snapshot"),
	}
}

// Emit implements gateway.Emitter. Snapshot failures are logged and never
// returned.
func (w *Writer) Emit(ctx context.Context, ev gateway.Event) error {
	var err error
	if w.next != nil {
		err = w.next.Emit(ctx, ev)
	}

	if ev.Notification == gateway.NotificationCalendarEvents {
		if batch, ok := ev.Payload.(gateway.CalendarEvents); ok {
			if werr := w.Write(ctx, batch); werr != nil {
				w.logger.Error("could not write snapshot", "id", batch.ID, "calendar_id", batch.CalendarID, "error", werr)
			}
		}
	}
	return err
}

// Write stores batch under a file name derived from its subscription id.
func (w *Writer) Write(ctx context.Context, batch gateway.CalendarEvents) error {
	name := fileName(batch.ID)
	if name == "" {
		name = fileName(batch.CalendarID)
	}
	if name == "" {
		return errors.New("snapshot: batch has neither id nor calendar id")
	}

	data, err := json.MarshalIndent(batch.Events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	doc := RenderICS(batch.CalendarID, batch.Events, w.now())

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.blobs.Write(ctx, name+".json", data); err != nil {
		return fmt.Errorf("failed to write events file: %w", err)
	}
	if err := w.blobs.Write(ctx, name+".ics", []byte(doc)); err != nil {
		return fmt.Errorf("failed to write ICS file: %w", err)
	}

	w.logger.Debug("snapshot written", "file", name, "events", len(batch.Events))
	return nil
}

// fileName keeps letters, digits, dot, dash and underscore.
func fileName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
