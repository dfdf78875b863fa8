package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "go-omr-marker/internal/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "go-omr-marker"

// Claims are carried by session tokens.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager authenticates markers and hands out sessions.
type Manager struct {
	store    Store
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a manager. An empty secret is replaced by a random
// one, so tokens do not survive a restart.
func NewManager(store Store, password, secret string, ttl time.Duration) (*Manager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	return &Manager{
		store:    store,
		password: password,
		secret:   key,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Login checks the shared password and opens a new session.
func (m *Manager) Login(ctx context.Context, password string) (*Session, string, error) {
	if m.password == "" {
		return nil, "", apperrors.NewInternalError("APP_PASSWORD is not configured on the server", nil)
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) != 1 {
		return nil, "", apperrors.NewUnauthorizedError("Invalid password", nil)
	}

	s := New(uuid.NewString(), m.now())
	if err := m.store.Save(ctx, s); err != nil {
		return nil, "", apperrors.NewInternalError("Failed to create session", err)
	}
	token, err := m.Issue(s.ID)
	if err != nil {
		return nil, "", apperrors.NewInternalError("Failed to sign session token", err)
	}
	return s, token, nil
}

// Issue signs a token for a session id.
func (m *Manager) Issue(sessionID string) (string, error) {
	now := m.now()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  sessionID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Authenticate resolves a credential to its session. The credential is a
// signed token or, for older clients, the bare session id.
func (m *Manager) Authenticate(ctx context.Context, credential string) (*Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apperrors.NewUnauthorizedError("Missing session", nil)
	}

	id := credential
	if _, err := uuid.Parse(credential); err != nil {
		id, err = m.parse(credential)
		if err != nil {
			return nil, apperrors.NewUnauthorizedError("Invalid or expired session", err)
		}
	}

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewUnauthorizedError("Invalid or expired session", err)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to load session", err)
	}
	return s, nil
}

// Save stores an updated session.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if err := m.store.Save(ctx, s); err != nil {
		return apperrors.NewInternalError("Failed to save session", err)
	}
	return nil
}

// Logout removes a session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func (m *Manager) parse(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", err
	}
	if claims.SessionID == "" {
		return "", errors.New("token carries no session id")
	}
	return claims.SessionID, nil
}
