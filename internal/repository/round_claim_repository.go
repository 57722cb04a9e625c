package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RoundClaimRepository elects a single evaluator per round across processes.
type RoundClaimRepository struct {
	client *redis.Client
	prefix string
}

// NewRoundClaimRepository constructs the repository.
func NewRoundClaimRepository(client *redis.Client) *RoundClaimRepository {
	return &RoundClaimRepository{client: client, prefix: "round_claim:"}
}

// Acquire takes the claim for roundID when nobody holds it.
func (r *RoundClaimRepository) Acquire(ctx context.Context, roundID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+roundID, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire round claim %s: %w", roundID, err)
	}
	return ok, nil
}

// Release drops the claim if owner still holds it.
func (r *RoundClaimRepository) Release(ctx context.Context, roundID, owner string) error {
	if err := releaseClaimScript.Run(ctx, r.client, []string{r.prefix + roundID}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release round claim %s: %w", roundID, err)
	}
	return nil
}
