package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calendar-feed/internal/config"
	"calendar-feed/internal/gateway"
	"calendar-feed/internal/store"
)

const webCredentials = `{"web":{"client_id":"client-123","client_secret":"secret","redirect_uris":["http://localhost:8080"]}}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.Normalize()
	if err := os.WriteFile(filepath.Join(cfg.StorageDir, store.CredentialsKey), []byte(webCredentials), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunAnswersHostWithConsentURL(t *testing.T) {
	cfg := testConfig(t)
	in := strings.NewReader(strings.Join([]string{
		`{"notification":"INIT","payload":{"excludedEvents":["standup"]}}`,
		`{"notification":"MODULE_READY","payload":{}}`,
	}, "\n") + "\n")
	var out bytes.Buffer

	if err := run(context.Background(), cfg, quietLogger(), in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one notification, got %q", out.String())
	}
	var ev struct {
		Notification string             `json:"notification"`
		Payload      gateway.AuthNeeded `json:"payload"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode %s: %v", lines[0], err)
	}
	if ev.Notification != gateway.NotificationAuthNeeded || ev.Payload.CredentialType != "web" {
		t.Fatalf("notification = %+v", ev)
	}
	u, err := url.Parse(ev.Payload.URL)
	if err != nil {
		t.Fatalf("consent url: %v", err)
	}
	if got := u.Query().Get("state"); got != cfg.ModuleName {
		t.Fatalf("state = %q, want %q", got, cfg.ModuleName)
	}
	if got := u.Query().Get("client_id"); got != "client-123" {
		t.Fatalf("client_id = %q", got)
	}
}

func TestRunReportsMissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	in := strings.NewReader(`{"notification":"MODULE_READY"}` + "\n")
	var out bytes.Buffer

	if err := run(context.Background(), cfg, quietLogger(), in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := `{"notification":"AUTH_FAILED","payload":{"error_type":"CREDENTIAL_FILE_ERROR"}}`
	if got := strings.TrimSpace(out.String()); got != want {
		t.Fatalf("output = %s, want %s", got, want)
	}
}

func TestOnceRequiresAuthorization(t *testing.T) {
	cfg := testConfig(t)

	if err := once(context.Background(), cfg, quietLogger(), io.Discard); err == nil {
		t.Fatalf("expected error without calendars")
	}

	cfg.Calendars = []config.Calendar{{CalendarID: "primary"}}
	err := once(context.Background(), cfg, quietLogger(), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("once = %v, want not authorized", err)
	}
}

func TestOpenTokensSQLite(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.TokenStore = config.TokenStoreSQLite
	cfg.SQLitePath = filepath.Join(cfg.StorageDir, "db", "tokens.db")

	tokens, err := openTokens(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openTokens: %v", err)
	}
	closer, ok := tokens.(io.Closer)
	if !ok {
		t.Fatalf("sqlite store is not closable")
	}
	defer closer.Close()

	ctx := context.Background()
	if err := tokens.Write(ctx, store.TokenKey, []byte(`{"access_token":"a"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(cfg.SQLitePath); err != nil {
		t.Fatalf("database file: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("not a JSON record: %s", out)
	}
	if rec["msg"] != "shown" || rec["level"] != "WARN" {
		t.Fatalf("record = %v", rec)
	}
}

func TestSubscriptionDefaultsID(t *testing.T) {
	sub := subscription(config.Calendar{CalendarID: "work@example.com", MaximumEntries: 3})
	if sub.ID != "work@example.com" || sub.MaximumEntries != 3 {
		t.Fatalf("subscription = %+v", sub)
	}
}
