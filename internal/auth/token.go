// Package auth provides token sources for authorizing backend calls.
package auth

import (
	"context"
	"strings"
	"sync"
)

// StaticTokenSource serves a token configured at startup. It can be updated
// once the sign-in flow hands over a fresh token.
type StaticTokenSource struct {
	mu    sync.RWMutex
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: strings.TrimSpace(token)}
}

// Token returns the current token; empty when signed out.
func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// SetToken replaces the current token.
func (s *StaticTokenSource) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

// Authenticated reports whether a token is available.
func (s *StaticTokenSource) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}
