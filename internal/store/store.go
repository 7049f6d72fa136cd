// Package store persists small named blobs: the OAuth client credentials,
// the token and the event snapshots.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no blob exists under the key.
var ErrNotFound = errors.New("store: not found")

// Reader reads blobs.
type Reader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Store reads and writes blobs.
type Store interface {
	Reader
	Write(ctx context.Context, key string, data []byte) error
}

// Well-known keys under the storage root.
const (
	CredentialsKey = "credentials.json"
	TokenKey       = "token.json"
)
