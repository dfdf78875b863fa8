package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "go-omr-marker/internal/errors"
	"go-omr-marker/pkg/models"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	s := New("abc", now)
	s.SetKey("reading", models.AnswerKey{"1": "A"})
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AnswerKeys["reading"]["1"] != "A" {
		t.Errorf("Expected stored key, got %+v", got.AnswerKeys)
	}

	// Mutating the copy must not leak into the store.
	got.AnswerKeys["reading"]["1"] = "B"
	again, _ := store.Get(ctx, "abc")
	if again.AnswerKeys["reading"]["1"] != "A" {
		t.Error("Expected store to hand out copies")
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Get(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expired session to be gone, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected no live sessions, got %d", store.Len())
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SlidingExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Save(ctx, New("abc", now)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Each read within the TTL keeps the session alive past its first expiry.
	for i := 0; i < 3; i++ {
		now = now.Add(45 * time.Minute)
		if _, err := store.Get(ctx, "abc"); err != nil {
			t.Fatalf("read %d: expected session to be kept alive, got %v", i+1, err)
		}
	}

	now = now.Add(61 * time.Minute)
	if _, err := store.Get(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected idle session to expire, got %v", err)
	}
}

func TestMemoryStore_SaveSweepsExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.Save(ctx, New("old", now))
	now = now.Add(2 * time.Minute)
	store.Save(ctx, New("new", now))

	store.mu.RLock()
	_, kept := store.entries["old"]
	store.mu.RUnlock()
	if kept {
		t.Error("Expected Save to drop the expired session")
	}
	if store.Len() != 1 {
		t.Errorf("Expected one live session, got %d", store.Len())
	}
}

func TestMemoryStore_ConcurrentGetAndSave(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	store.Save(ctx, New("abc", time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.Get(ctx, "abc")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.Save(ctx, New("abc", time.Now()))
			}
		}()
	}
	wg.Wait()

	if _, err := store.Get(ctx, "abc"); err != nil {
		t.Errorf("Expected session to survive concurrent reads and saves, got %v", err)
	}
}

func TestSession_Sections(t *testing.T) {
	s := New("x", time.Now())
	s.SetKey("qr", models.AnswerKey{"1": "A"})
	s.SetKey("ar", models.AnswerKey{})
	s.SetKey("reading", models.AnswerKey{"1": "C"})
	got := s.Sections()
	if len(got) != 2 || got[0] != "qr" || got[1] != "reading" {
		t.Errorf("Expected [qr reading], got %v", got)
	}
}

func TestManager_Login(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		configured string
		given      string
		status     int
	}{
		{"correct password", "secret", "secret", 0},
		{"wrong password", "secret", "guess", 401},
		{"not configured", "", "anything", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(NewMemoryStore(time.Hour), tt.configured, "key", time.Hour)
			if err != nil {
				t.Fatalf("NewManager: %v", err)
			}
			s, token, err := m.Login(ctx, tt.given)
			if tt.status == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if s.ID == "" || token == "" {
					t.Error("Expected a session and a token")
				}
				return
			}
			if got := apperrors.GetStatusCode(err); got != tt.status {
				t.Errorf("Expected status %d, got %d (%v)", tt.status, got, err)
			}
		})
	}
}

func TestManager_Authenticate(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(NewMemoryStore(time.Hour), "secret", "key", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, token, err := m.Login(ctx, "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	for _, cred := range []string{token, s.ID, " " + token + " "} {
		got, err := m.Authenticate(ctx, cred)
		if err != nil {
			t.Fatalf("authenticate %q: %v", cred, err)
		}
		if got.ID != s.ID {
			t.Errorf("Expected session %s, got %s", s.ID, got.ID)
		}
	}

	other, _ := NewManager(NewMemoryStore(time.Hour), "secret", "other-key", time.Hour)
	forged, _ := other.Issue(s.ID)

	expired, _ := NewManager(NewMemoryStore(time.Hour), "secret", "key", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _ := expired.Issue(s.ID)

	for name, cred := range map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"wrong signature": forged,
		"expired":         stale,
		"unknown id":      "8f14e45f-ceea-467f-a2a3-1c9d1b7c5e11",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Authenticate(ctx, cred)
			if !apperrors.IsType(err, apperrors.ErrorTypeUnauthorized) {
				t.Errorf("Expected unauthorized, got %v", err)
			}
		})
	}
}

func TestManager_SaveAndLogout(t *testing.T) {
	ctx := context.Background()
	m, _ := NewManager(NewMemoryStore(0), "secret", "", 0)
	s, token, err := m.Login(ctx, "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	s.SetKey("reading", models.AnswerKey{"1": "B"})
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.AnswerKeys["reading"]["1"] != "B" {
		t.Errorf("Expected saved key, got %+v", got.AnswerKeys)
	}

	if err := m.Logout(ctx, s.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := m.Authenticate(ctx, token); err == nil {
		t.Error("Expected logged out session to be rejected")
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStore(client, time.Minute)
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Get(ctx, "abc"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected a connection error, got %v", err)
	}
	if err := store.Save(ctx, New("abc", time.Now())); err == nil {
		t.Error("Expected save to fail without a server")
	}
	if redisKey("abc") != "omr:session:abc" {
		t.Errorf("Unexpected key %q", redisKey("abc"))
	}
}
