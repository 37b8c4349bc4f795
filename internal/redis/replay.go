package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayGuard rejects an identical (signature, timestamp) pair seen
// twice within the timestamp validity window. This is distinct from
// event-id dedup: it catches signature replays where the attacker
// varies the event id but reuses a captured signature.
type ReplayGuard struct {
	client *goredis.Client
	window time.Duration
}

func NewReplayGuard(client *goredis.Client, window time.Duration) *ReplayGuard {
	return &ReplayGuard{client: client, window: window}
}

// FirstUse records the pair and reports whether this is its first
// appearance inside the window. Redis being unavailable degrades to
// allowing the request; the event-id ledger still dedups downstream.
func (g *ReplayGuard) FirstUse(ctx context.Context, signature, timestamp string) (bool, error) {
	sum := sha256.Sum256([]byte(signature + "|" + timestamp))
	key := fmt.Sprintf("webhook:replay:%s", hex.EncodeToString(sum[:]))

	// TTL covers both sides of the allowed clock skew.
	ok, err := g.client.SetNX(ctx, key, "1", 2*g.window).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}
