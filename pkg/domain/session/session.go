// Package session keeps a customer's backend credentials for the lifetime of a chat.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

// Session is the credential holder passed to every backend call.
// The zero value is torn down.
type Session struct {
	mu        sync.RWMutex
	token     string
	user      model.User
	expiresAt time.Time // zero = no exp claim
	now       func() time.Time
	onInvalid func()
}

func New() *Session {
	return &Session{now: time.Now}
}

// Init stores the access token and the user it belongs to. The token's exp
// claim is read without verifying the signature; the backend does that.
func (s *Session) Init(token string, user model.User) error {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return errs.Validation("Некорректный токен").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = user
	s.expiresAt = time.Time{}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	return nil
}

// Token returns the access token while the session is live.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	if !s.expiresAt.IsZero() && !s.clock().Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

func (s *Session) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// IsStaff reports whether the logged-in user may issue cards.
func (s *Session) IsStaff() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && (s.user.Role == model.RoleStaff || s.user.Role == model.RoleAdmin)
}

// OnInvalidate registers fn to run when the backend rejects the credentials.
func (s *Session) OnInvalidate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvalid = fn
}

// Invalidate tears the session down and fires the registered hook.
func (s *Session) Invalidate() {
	s.mu.Lock()
	hadToken := s.token != ""
	s.clear()
	hook := s.onInvalid
	s.mu.Unlock()

	if hadToken && hook != nil {
		hook()
	}
}

// Teardown drops the credentials without firing the hook.
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *Session) clear() {
	s.token = ""
	s.user = model.User{}
	s.expiresAt = time.Time{}
}

func (s *Session) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
