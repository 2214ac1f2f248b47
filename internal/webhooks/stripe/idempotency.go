package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/selimbenhamida/revend-backend/pkg/redis"
)

// IdempotencyGuard fences duplicate webhook deliveries before any database
// work happens. The conditional UPDATE on the order remains the authoritative
// guard; this is the cheap first line.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark claims the event id. It reports true when the event was seen
// before and should be acknowledged without reprocessing.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	claimed, err := g.store.SetNX(ctx, g.key(eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !claimed, nil
}

// Delete releases a claimed event id so a failed delivery can be retried.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *IdempotencyGuard) key(eventID string) string {
	return g.store.IdempotencyKey(g.scope, eventID)
}
