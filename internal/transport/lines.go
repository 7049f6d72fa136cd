// Package transport connects the gateway to the host: newline-delimited
// JSON over a pair of streams, and an HTTP receiver for the OAuth redirect.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"calendar-feed/internal/gateway"
)

// maxLine bounds a single inbound command.
const maxLine = 4 << 20

// Handler consumes inbound commands. *gateway.Gateway implements it.
type Handler interface {
	Handle(ctx context.Context, cmd gateway.Command) error
}

// Lines reads one JSON command per line and writes one JSON event per line.
type Lines struct {
	in     io.Reader
	logger *slog.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

// NewLines returns a Lines reading commands from in and writing events to
// out.
func NewLines(in io.Reader, out io.Writer, logger *slog.Logger) *Lines {
	if logger == nil {
		logger = slog.Default()
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return &Lines{
		in:     in,
		logger: logger.With("component", "transport"),
		enc:    enc,
	}
}

// Emit writes ev as one line. Concurrent calls never interleave.
func (l *Lines) Emit(_ context.Context, ev gateway.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(ev); err != nil {
		return fmt.Errorf("write %s: %w", ev.Notification, err)
	}
	return nil
}

// Serve dispatches commands to h in arrival order until the input ends or
// ctx is cancelled. Lines that are not a command are logged and skipped,
// and so are errors returned by h. Serve returns nil at end of input.
func (l *Lines) Serve(ctx context.Context, h Handler) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		sc := bufio.NewScanner(l.in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			line := bytes.Clone(sc.Bytes())
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read commands: %w", err)
			}
			l.logger.Info("input closed")
			return nil
		case line := <-lines:
			l.dispatch(ctx, h, line)
		}
	}
}

func (l *Lines) dispatch(ctx context.Context, h Handler, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var cmd gateway.Command
	if err := json.Unmarshal(line, &cmd); err != nil || cmd.Notification == "" {
		l.logger.Warn("malformed command skipped", "line", string(line), "error", err)
		return
	}
	if err := h.Handle(ctx, cmd); err != nil {
		l.logger.Error("command failed", "notification", cmd.Notification, "error", err)
	}
}
