package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type countingStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (s *countingStore) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int64{}
	}
	s.counts[scope]++
	count := s.counts[scope]
	return count <= limit, count, nil
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	store := &countingStore{}
	policy := NewRateLimitPolicy("checkout", time.Minute, 2)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	userID := uuid.New()
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusNoContent {
		t.Fatalf("first request blocked: %d", code)
	}
	if code := send(); code != http.StatusNoContent {
		t.Fatalf("second request blocked: %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", code)
	}
}

func TestRateLimitIsolatesActors(t *testing.T) {
	store := &countingStore{}
	policy := NewRateLimitPolicy("api", time.Minute, 1)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(userID uuid.UUID) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	first := uuid.New()
	if code := send(first); code != http.StatusNoContent {
		t.Fatalf("first actor blocked: %d", code)
	}
	if code := send(first); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted actor, got %d", code)
	}
	if code := send(uuid.New()); code != http.StatusNoContent {
		t.Fatalf("second actor must have a fresh window, got %d", code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("off", 0, 0), &countingStore{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
