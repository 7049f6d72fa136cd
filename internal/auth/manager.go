// Package auth drives the OAuth2 authorization of the Google Calendar client:
// silent reuse of a stored token, the consent URL for first runs, and the
// code exchange when the provider redirects back.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"calendar-feed/internal/store"
)

// Endpoint is Google's OAuth endpoint with the v2 consent page.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:  google.Endpoint.TokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// State is the position of the Manager in the authorization flow.
type State int

const (
	StateUninitialized State = iota
	StateTokenCheck
	StateAwaitingConsent
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateTokenCheck:
		return "token_check"
	case StateAwaitingConsent:
		return "awaiting_consent"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Outcome is the result of a successful step. Either Ready is set, or the
// user has to visit ConsentURL.
type Outcome struct {
	Ready          bool
	ConsentURL     string
	CredentialType CredentialType
}

// Settings is the configuration recorded by Initialize.
type Settings struct {
	// State is sent as the OAuth state parameter and identifies this
	// instance on the redirect.
	State string
}

// Options configures a Manager.
type Options struct {
	// Credentials holds the client secrets file under store.CredentialsKey.
	Credentials store.Reader
	// Tokens holds the token under store.TokenKey.
	Tokens store.Store
	// Endpoint defaults to Endpoint.
	Endpoint oauth2.Endpoint
	// HTTPClient, when set, is used for code exchange and token refresh.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Manager owns the token and the single authorized HTTP client of the
// process. Its operations are serialized.
type Manager struct {
	creds      store.Reader
	tokens     store.Store
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	settings Settings
	state    State
	client   *http.Client
}

// NewManager returns a Manager in the uninitialized state.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := opts.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = Endpoint
	}
	return &Manager{
		creds:      opts.Credentials,
		tokens:     opts.Tokens,
		endpoint:   endpoint,
		httpClient: opts.HTTPClient,
		logger:     logger.With("component", "auth"),
	}
}

// Initialize records settings. It performs no I/O.
func (m *Manager) Initialize(settings Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// State returns the current flow state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Client returns the authorized client, or nil before authorization.
func (m *Manager) Client() *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// EnsureAuthorized reuses the stored token if there is one. Without a token
// it returns the consent URL the user has to visit. Once authorized it
// returns Ready without touching storage.
func (m *Manager) EnsureAuthorized(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return Outcome{Ready: true}, nil
	}

	m.state = StateTokenCheck
	cred, err := m.loadCredential(ctx)
	if err != nil {
		m.state = StateUninitialized
		return Outcome{}, err
	}
	conf := cred.OAuthConfig(m.endpoint)

	raw, err := m.tokens.Read(ctx, store.TokenKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m.logger.Info("no stored token, authorization needed", "credential_type", cred.Type)
		return m.awaitConsent(conf, cred.Type), nil
	case err != nil:
		m.state = StateUninitialized
		m.logger.Error("failed to read token", "error", err)
		return Outcome{}, &Error{Kind: KindTokenFile, Err: err}
	}

	tok, err := decodeToken(raw)
	if err != nil {
		m.logger.Warn("stored token unusable, authorization needed", "error", err)
		return m.awaitConsent(conf, cred.Type), nil
	}

	m.authorize(conf, tok)
	m.logger.Info("authorized with stored token")
	return Outcome{Ready: true}, nil
}

// CompleteAuthorization handles the query parameters of the provider
// redirect: it exchanges the code for a token, stores the token and builds
// the authorized client.
func (m *Manager) CompleteAuthorization(ctx context.Context, params url.Values) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return Outcome{Ready: true}, nil
	}

	if code := params.Get("error"); code != "" {
		m.state = StateUninitialized
		m.logger.Warn("authorization denied by provider", "error_code", code)
		return Outcome{}, &Error{Kind: KindDenied, Code: code}
	}
	if st := params.Get("state"); st != "" && m.settings.State != "" && st != m.settings.State {
		m.logger.Warn("redirect state does not match", "state", st, "expected", m.settings.State)
	}

	cred, err := m.loadCredential(ctx)
	if err != nil {
		m.state = StateUninitialized
		return Outcome{}, err
	}
	conf := cred.OAuthConfig(m.endpoint)

	code := params.Get("code")
	if code == "" {
		m.state = StateUninitialized
		return Outcome{}, &Error{Kind: KindTokenExchange, Err: errors.New("redirect carried no authorization code")}
	}

	tok, err := conf.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		m.state = StateUninitialized
		m.logger.Error("failed to exchange authorization code", "error", err)
		return Outcome{}, &Error{Kind: KindTokenExchange, Err: err}
	}

	m.persist(ctx, tok)
	m.authorize(conf, tok)
	m.logger.Info("authorized with new token")
	return Outcome{Ready: true}, nil
}

func (m *Manager) loadCredential(ctx context.Context) (Credential, error) {
	data, err := m.creds.Read(ctx, store.CredentialsKey)
	if err != nil {
		m.logger.Error("failed to load client secret file", "error", err)
		return Credential{}, &Error{Kind: KindCredentialFile, Err: err}
	}
	cred, err := ParseCredentials(data)
	if err != nil {
		m.logger.Error("client secret file is malformed", "error", err)
		return Credential{}, &Error{Kind: KindMalformedCredentials, Err: err}
	}
	return cred, nil
}

func (m *Manager) awaitConsent(conf *oauth2.Config, kind CredentialType) Outcome {
	m.state = StateAwaitingConsent
	consent := conf.AuthCodeURL(m.settings.State,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
	return Outcome{ConsentURL: consent, CredentialType: kind}
}

// persist stores tok. A failure is logged and otherwise ignored: the token
// is still used for this process.
func (m *Manager) persist(ctx context.Context, tok *oauth2.Token) {
	data, err := encodeToken(tok)
	if err != nil {
		m.logger.Error("failed to encode token", "error", err)
		return
	}
	if err := m.tokens.Write(context.WithoutCancel(ctx), store.TokenKey, data); err != nil {
		m.logger.Error("failed to store token", "error", err)
		return
	}
	m.logger.Info("token stored", "key", store.TokenKey)
}

func (m *Manager) authorize(conf *oauth2.Config, tok *oauth2.Token) {
	m.client = conf.Client(m.oauthContext(context.Background()), tok)
	m.state = StateAuthorized
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
