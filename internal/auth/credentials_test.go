package auth

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestParseCredentials(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantType CredentialType
		wantErr  bool
	}{
		{"web", `{"web":{"client_id":"a","client_secret":"b"}}`, CredentialWeb, false},
		{"installed", `{"installed":{"client_id":"a","client_secret":"b"}}`, CredentialDevice, false},
		{"web wins over installed", `{"installed":{"client_id":"a","client_secret":"b"},"web":{"client_id":"c","client_secret":"d"}}`, CredentialWeb, false},
		{"missing secret", `{"web":{"client_id":"a"}}`, "", true},
		{"missing id", `{"installed":{"client_secret":"b"}}`, "", true},
		{"unknown shape", `{"service_account":{}}`, "", true},
		{"not json", `client_id=a`, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cred, err := ParseCredentials([]byte(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", cred)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCredentials: %v", err)
			}
			if cred.Type != tc.wantType {
				t.Fatalf("type = %q, want %q", cred.Type, tc.wantType)
			}
		})
	}
}

func TestCredentialRedirectURL(t *testing.T) {
	if got := (Credential{}).RedirectURL(); got != DefaultRedirectURL {
		t.Fatalf("default redirect = %q", got)
	}
	c := Credential{RedirectURIs: []string{"http://host/cb", "http://other"}}
	if got := c.RedirectURL(); got != "http://host/cb" {
		t.Fatalf("redirect = %q", got)
	}
}

func TestTokenCodec(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := encodeToken(&oauth2.Token{AccessToken: "a", TokenType: "Bearer", RefreshToken: "r", Expiry: expiry})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tok, err := decodeToken(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" || !tok.Expiry.Equal(expiry) {
		t.Fatalf("round trip lost data: %+v", tok)
	}

	// Older token files carry the expiry only as epoch milliseconds.
	tok, err = decodeToken([]byte(`{"access_token":"a","refresh_token":"r","scope":"s","token_type":"Bearer","expiry_date":1893553445000}`))
	if err != nil {
		t.Fatalf("decode millisecond expiry token: %v", err)
	}
	if !tok.Expiry.Equal(expiry) {
		t.Fatalf("expiry = %s, want %s", tok.Expiry, expiry)
	}

	if _, err := decodeToken([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
