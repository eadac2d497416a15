package service

import (
	"sync"
	"time"

	"geosewa_exam/internal/model"
	"geosewa_exam/internal/repository"
	"geosewa_exam/internal/util"
	"geosewa_exam/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type SessionListener func(state model.SessionState)

// Session holds the current token pair and tells subscribers whenever it
// changes. It is the credential source of the exam API client.
type Session struct {
	store repository.TokenStore

	mu        sync.RWMutex
	pair      *model.TokenPair
	listeners map[int]SessionListener
	nextID    int
}

func NewSession(store repository.TokenStore) *Session {
	s := &Session{store: store, listeners: make(map[int]SessionListener)}
	pair, err := store.Load()
	if err != nil {
		logger.Log.Warn("stored session unreadable, starting signed out", zap.Error(err))
		if err := store.Clear(); err != nil {
			logger.Log.Warn("failed to clear stored session", zap.Error(err))
		}
		return s
	}
	s.pair = pair
	return s
}

// Token implements oauth2.TokenSource.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil || s.pair.Access == "" {
		return nil, util.ErrNoCredentials
	}
	tok := &oauth2.Token{AccessToken: s.pair.Access, RefreshToken: s.pair.Refresh, TokenType: "Bearer"}
	if exp, ok := util.TokenExpiry(s.pair.Access); ok {
		tok.Expiry = exp
	}
	return tok, nil
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return ""
	}
	return s.pair.Refresh
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return ""
	}
	return s.pair.Access
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return ""
	}
	return s.pair.Username
}

func (s *Session) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return model.SessionState{}
	}
	return model.SessionState{Authenticated: true, Username: s.pair.Username}
}

// SignIn replaces the stored pair.
func (s *Session) SignIn(pair *model.TokenPair) error {
	cp := *pair
	s.mu.Lock()
	s.pair = &cp
	s.mu.Unlock()

	err := s.store.Save(&cp)
	s.publish(model.SessionState{Authenticated: true, Username: cp.Username})
	return err
}

// UpdateAccess stores a refreshed access token.
func (s *Session) UpdateAccess(access string) error {
	s.mu.Lock()
	if s.pair == nil {
		s.mu.Unlock()
		return util.ErrNoCredentials
	}
	s.pair.Access = access
	cp := *s.pair
	s.mu.Unlock()

	err := s.store.Save(&cp)
	s.publish(model.SessionState{Authenticated: true, Username: cp.Username})
	return err
}

// Invalidate drops both tokens, e.g. after a failed refresh.
func (s *Session) Invalidate(reason error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	s.clear(msg)
}

func (s *Session) SignOut() {
	s.clear("signed out")
}

func (s *Session) clear(reason string) {
	s.mu.Lock()
	had := s.pair != nil
	s.pair = nil
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		logger.Log.Warn("failed to clear stored session", zap.Error(err))
	}
	if had {
		s.publish(model.SessionState{Reason: reason})
	}
}

// Subscribe registers fn and returns a func that removes it.
func (s *Session) Subscribe(fn SessionListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) publish(state model.SessionState) {
	s.mu.RLock()
	fns := make([]SessionListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}

// tokenValid reports whether token is present and not past its exp claim.
func tokenValid(token string, now time.Time) bool {
	return token != "" && !util.IsTokenExpired(token, now)
}
