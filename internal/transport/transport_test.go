package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"calendar-feed/internal/gateway"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHandler struct {
	mu   sync.Mutex
	cmds []gateway.Command
	fail string
}

func (h *recordingHandler) Handle(_ context.Context, cmd gateway.Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd)
	if cmd.Notification == h.fail {
		return errors.New("rejected")
	}
	return nil
}

func TestServeDispatchesInOrder(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		`{"notification":"INIT","payload":{"excludedEvents":["lunch"]}}`,
		``,
		`not json`,
		`{"payload":{}}`,
		`{"notification":"ADD_CALENDAR","payload":{"calendarID":"cal1"}}`,
		`{"notification":"MODULE_READY"}`,
	}, "\n"))
	h := &recordingHandler{fail: "ADD_CALENDAR"}
	l := NewLines(in, io.Discard, quietLogger())

	if err := l.Serve(context.Background(), h); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var got []string
	for _, cmd := range h.cmds {
		got = append(got, cmd.Notification)
	}
	want := "INIT,ADD_CALENDAR,MODULE_READY"
	if strings.Join(got, ",") != want {
		t.Fatalf("dispatched %v, want %s", got, want)
	}
	if string(h.cmds[0].Payload) != `{"excludedEvents":["lunch"]}` {
		t.Fatalf("payload = %s", h.cmds[0].Payload)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	l := NewLines(pr, io.Discard, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, &recordingHandler{}) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestEmitWritesOneLinePerEvent(t *testing.T) {
	var out bytes.Buffer
	l := NewLines(strings.NewReader(""), &out, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Emit(context.Background(), gateway.Event{
				Notification: gateway.NotificationAuthNeeded,
				Payload:      gateway.AuthNeeded{URL: "https://example.com/auth?a=1&b=2", CredentialType: "web"},
			})
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("expected 20 lines, got %d", len(lines))
	}
	want := `{"notification":"AUTH_NEEDED","payload":{"url":"https://example.com/auth?a=1&b=2","credentialType":"web"}}`
	for _, line := range lines {
		if line != want {
			t.Fatalf("line = %s", line)
		}
	}
}

type recordingCompleter struct {
	params []url.Values
}

func (c *recordingCompleter) CompleteAuthorization(_ context.Context, params url.Values) {
	c.params = append(c.params, params)
}

func TestCallbackHandler(t *testing.T) {
	c := &recordingCompleter{}
	srv := httptest.NewServer(NewCallbackHandler(c, quietLogger()))
	defer srv.Close()

	cases := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{"health", "/health", http.StatusOK, "OK"},
		{"code", "/?code=abc&state=calendar-feed&scope=x", http.StatusOK, "Authorization received"},
		{"denied", "/?error=access_denied", http.StatusOK, "not granted"},
		{"no params", "/", http.StatusBadRequest, "missing code"},
		{"other path", "/favicon.ico", http.StatusNotFound, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer res.Body.Close()
			body, _ := io.ReadAll(res.Body)
			if res.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.status)
			}
			if !strings.Contains(string(body), tc.body) {
				t.Fatalf("body = %q, want it to contain %q", body, tc.body)
			}
		})
	}

	if len(c.params) != 2 {
		t.Fatalf("expected 2 relayed redirects, got %d", len(c.params))
	}
	if c.params[0].Get("code") != "abc" || c.params[1].Get("error") != "access_denied" {
		t.Fatalf("relayed params = %v", c.params)
	}
}

func TestCallbackServerTimeouts(t *testing.T) {
	s := NewCallbackServer("127.0.0.1:0", http.NotFoundHandler())
	if s.ReadHeaderTimeout == 0 || s.WriteTimeout == 0 {
		t.Fatalf("server without timeouts: %+v", s)
	}
}
