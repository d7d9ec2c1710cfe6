package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

var loginHeaders = map[string]string{
	"Accept":       "application/json",
	"Content-Type": "application/json",
	"Connection":   "close",
}

type loginResponse struct {
	Token *string `json:"token"`
}

// SessionManager owns the credentials and the current token.
//
// Tokens carry no client-visible expiry. A token is only known to be stale
// when a fetch made with it fails, at which point the caller asks for a new
// Login. Logins are serialized, so at most one is in flight and the last
// successful one always wins.
type SessionManager struct {
	transport Transport
	loginURL  string
	creds     models.Credentials
	logger    *logrus.Logger
	metrics   *metrics.Collector

	loginMu sync.Mutex
	mu      sync.RWMutex
	session *models.Session
}

func NewSessionManager(transport Transport, loginURL string, creds models.Credentials, logger *logrus.Logger, m *metrics.Collector) *SessionManager {
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	return &SessionManager{
		transport: transport,
		loginURL:  loginURL,
		creds:     creds,
		logger:    logger,
		metrics:   m,
	}
}

// Username returns the account this manager logs in as.
func (s *SessionManager) Username() string {
	return s.creds.Username
}

// Token returns the current token or "" when no login has succeeded yet.
func (s *SessionManager) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Token
}

// Session returns a copy of the held session.
func (s *SessionManager) Session() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.Session{}, false
	}
	return *s.session, true
}

// Login posts the credentials and replaces the held session on success.
// A failed login leaves the previous session in place. There is no retry.
func (s *SessionManager) Login(ctx context.Context) (models.Session, error) {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	return s.login(ctx)
}

// EnsureValidToken returns the held token, logging in first if there is none.
func (s *SessionManager) EnsureValidToken(ctx context.Context) (string, error) {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	if token := s.Token(); token != "" {
		return token, nil
	}
	session, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	return session.Token, nil
}

func (s *SessionManager) login(ctx context.Context) (models.Session, error) {
	s.logger.WithFields(logrus.Fields{
		"username": s.creds.Username,
	}).Debug("Logging in to the Hydrolink API")

	payload, err := json.Marshal(s.creds)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to marshal login request: %w", err)
	}

	resp, err := s.transport.Post(ctx, s.loginURL, loginHeaders, payload)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultRejected)
		return models.Session{}, &AuthError{Kind: AuthRejected, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		s.metrics.ObserveLogin(metrics.ResultRejected)
		return models.Session{}, &AuthError{
			Kind:       AuthRejected,
			StatusCode: resp.StatusCode,
			Body:       snippet(resp.Body),
		}
	}

	var decoded loginResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		s.metrics.ObserveLogin(metrics.ResultMalformed)
		return models.Session{}, &AuthError{
			Kind:       AuthMalformed,
			StatusCode: resp.StatusCode,
			Body:       snippet(resp.Body),
			Err:        fmt.Errorf("failed to decode login response: %w", err),
		}
	}
	if decoded.Token == nil || *decoded.Token == "" {
		s.metrics.ObserveLogin(metrics.ResultMalformed)
		return models.Session{}, &AuthError{
			Kind:       AuthMalformed,
			StatusCode: resp.StatusCode,
			Body:       snippet(resp.Body),
		}
	}

	session := models.Session{Token: *decoded.Token, ObtainedAt: time.Now()}
	s.mu.Lock()
	s.session = &session
	s.mu.Unlock()

	s.metrics.ObserveLogin(metrics.ResultSuccess)
	s.logger.Info("Logged in to the Hydrolink API")
	return session, nil
}
