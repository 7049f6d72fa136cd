package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
)

// CredentialType identifies which kind of OAuth client the credentials
// file describes. The values are reported to the host verbatim.
type CredentialType string

const (
	// CredentialWeb is a browser-based consent flow ("web" key).
	CredentialWeb CredentialType = "web"
	// CredentialDevice is a TV / limited-input client ("installed" key).
	CredentialDevice CredentialType = "tv"
)

// DefaultRedirectURL is used when the credentials list no redirect URI.
const DefaultRedirectURL = "http://localhost:8080"

// Credential is the static OAuth client registration, decoded once from the
// credentials file.
type Credential struct {
	Type         CredentialType
	ClientID     string
	ClientSecret string
	RedirectURIs []string
}

type clientSecret struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

type credentialsFile struct {
	Web       *clientSecret `json:"web"`
	Installed *clientSecret `json:"installed"`
}

var errNoClient = errors.New(`credentials contain neither "web" nor "installed"`)

// ParseCredentials decodes a Google client secrets file. When both shapes are
// present the web client wins.
func ParseCredentials(data []byte) (Credential, error) {
	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Credential{}, fmt.Errorf("decode credentials: %w", err)
	}

	var (
		secret *clientSecret
		kind   CredentialType
	)
	switch {
	case file.Web != nil:
		secret, kind = file.Web, CredentialWeb
	case file.Installed != nil:
		secret, kind = file.Installed, CredentialDevice
	default:
		return Credential{}, errNoClient
	}

	cred := Credential{
		Type:         kind,
		ClientID:     secret.ClientID,
		ClientSecret: secret.ClientSecret,
		RedirectURIs: secret.RedirectURIs,
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// Validate checks that the client id and secret are set.
func (c Credential) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("credentials are missing client_id or client_secret")
	}
	return nil
}

// RedirectURL returns the first registered redirect URI.
func (c Credential) RedirectURL() string {
	if len(c.RedirectURIs) > 0 && c.RedirectURIs[0] != "" {
		return c.RedirectURIs[0]
	}
	return DefaultRedirectURL
}

// OAuthConfig builds the oauth2 client configuration for read-only calendar
// access against endpoint.
func (c Credential) OAuthConfig(endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL(),
		Scopes:       []string{calendar.CalendarReadonlyScope},
		Endpoint:     endpoint,
	}
}
