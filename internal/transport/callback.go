package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Completer finishes an authorization from the provider redirect.
// *gateway.Gateway implements it.
type Completer interface {
	CompleteAuthorization(ctx context.Context, params url.Values)
}

// CallbackHandler serves the OAuth redirect URI. The provider sends the
// browser to "/" with either a code or an error in the query.
type CallbackHandler struct {
	completer Completer
	logger    *slog.Logger
	mux       *http.ServeMux
}

// NewCallbackHandler returns the redirect receiver for c.
func NewCallbackHandler(c Completer, logger *slog.Logger) *CallbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &CallbackHandler{
		completer: c,
		logger:    logger.With("component", "callback"),
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /{$}", h.handleRedirect)
	return h
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *CallbackHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *CallbackHandler) handleRedirect(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if params.Get("code") == "" && params.Get("error") == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	h.logger.Info("authorization redirect received", "denied", params.Get("error") != "")
	h.completer.CompleteAuthorization(r.Context(), params)

	w.WriteHeader(http.StatusOK)
	if params.Get("error") != "" {
		_, _ = w.Write([]byte("Authorization was not granted. You can close this window."))
		return
	}
	_, _ = w.Write([]byte("Authorization received. You can close this window."))
}

// NewCallbackServer returns an http.Server for h with conservative timeouts.
func NewCallbackServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
