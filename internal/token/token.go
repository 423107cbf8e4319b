// Package token persists the client's single bearer credential.
package token

import (
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stockanalysis/internal/localstore"
)

// Store holds at most one bearer token. None of its methods fail outward:
// storage errors are logged and reported as an empty token or false.
//
// The last value set or removed is remembered in memory, so a storage
// failure degrades the credential to process lifetime instead of losing it.
type Store struct {
	kv  localstore.Store
	log *slog.Logger

	mu     sync.Mutex
	cached string
	loaded bool
}

// New creates a token store on top of kv.
func New(kv localstore.Store, log *slog.Logger) *Store {
	return &Store{kv: kv, log: log.With("component", "token")}
}

// Get returns the stored token, or "" when there is none.
func (s *Store) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cached
	}
	v, _, err := s.kv.GetItem(localstore.KeyToken)
	if err != nil {
		s.log.Error("get token failed", "error", err)
		return ""
	}
	s.cached, s.loaded = v, true
	return v
}

// Set stores tok. It returns false if the token could not be persisted; the
// token stays usable for the lifetime of the process.
func (s *Store) Set(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached, s.loaded = tok, true
	if err := s.kv.SetItem(localstore.KeyToken, tok); err != nil {
		s.log.Error("store token failed", "error", err)
		return false
	}
	return true
}

// Remove deletes the stored token.
func (s *Store) Remove() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached, s.loaded = "", true
	if err := s.kv.RemoveItem(localstore.KeyToken); err != nil {
		s.log.Error("remove token failed", "error", err)
		return false
	}
	return true
}

// Has reports whether a token is stored.
func (s *Store) Has() bool {
	return s.Get() != ""
}

// ExpiresAt returns the exp claim of the stored token when it is a JWT. The
// signature is not checked; the backend remains the authority.
func (s *Store) ExpiresAt() (time.Time, bool) {
	tok := s.Get()
	if tok == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
