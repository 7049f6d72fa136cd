package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// storedToken is the on-disk token shape. Token files written by other
// googleapis clients carry expiry_date (epoch milliseconds) instead of
// expiry; both forms are read and written.
type storedToken struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	ExpiryDate   int64      `json:"expiry_date,omitempty"`
}

var errEmptyToken = errors.New("token has neither access_token nor refresh_token")

func encodeToken(tok *oauth2.Token) ([]byte, error) {
	st := storedToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		st.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		st.Expiry = &exp
		st.ExpiryDate = exp.UnixMilli()
	}
	return json.Marshal(st)
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if st.AccessToken == "" && st.RefreshToken == "" {
		return nil, errEmptyToken
	}

	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
	}
	switch {
	case st.Expiry != nil:
		tok.Expiry = *st.Expiry
	case st.ExpiryDate > 0:
		tok.Expiry = time.UnixMilli(st.ExpiryDate).UTC()
	}
	return tok, nil
}
