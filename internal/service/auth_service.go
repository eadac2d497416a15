package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"geosewa_exam/internal/model"
	"geosewa_exam/internal/util"
	"geosewa_exam/pkg/logger"

	"go.uber.org/zap"
)

var ErrMissingCredentials = errors.New("username and password are required")

type AuthService struct {
	API     AuthAPI
	Session *Session

	Now func() time.Time
}

func NewAuthService(api AuthAPI, session *Session) *AuthService {
	return &AuthService{
		API:     api,
		Session: session,
		Now:     time.Now,
	}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (model.SessionState, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.SessionState{}, ErrMissingCredentials
	}

	pair, err := s.API.Login(ctx, username, password)
	if err != nil {
		logger.Log.Info("login rejected", zap.String("username", username), zap.Error(err))
		return model.SessionState{}, err
	}
	if err := s.Session.SignIn(pair); err != nil {
		logger.Log.Warn("failed to persist session", zap.Error(err))
	}
	logger.Log.Info("user logged in", zap.String("username", pair.Username))
	return s.Session.State(), nil
}

func (s *AuthService) Logout() {
	name := s.Session.Username()
	s.Session.SignOut()
	if name != "" {
		logger.Log.Info("user logged out", zap.String("username", name))
	}
}

// CheckSession validates the stored tokens: a live access token is enough,
// otherwise a live refresh token is traded for a new access token, otherwise
// the session is cleared.
func (s *AuthService) CheckSession(ctx context.Context) model.SessionState {
	now := s.Now()
	if tokenValid(s.Session.AccessToken(), now) {
		return s.Session.State()
	}

	refresh := s.Session.RefreshToken()
	if !tokenValid(refresh, now) {
		if refresh != "" || s.Session.AccessToken() != "" {
			s.Session.Invalidate(util.ErrAuthRequired)
		}
		return s.Session.State()
	}

	access, err := s.API.RefreshAccess(ctx, refresh)
	if err != nil {
		logger.Log.Info("session refresh failed", zap.Error(err))
		s.Session.Invalidate(err)
		return s.Session.State()
	}
	if err := s.Session.UpdateAccess(access); err != nil {
		logger.Log.Warn("failed to persist refreshed token", zap.Error(err))
	}
	return s.Session.State()
}
