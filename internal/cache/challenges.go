package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChallengeStore keeps pending two-factor login challenges in redis.
// Take consumes the challenge, so a temp login id is single-use.
type ChallengeStore struct {
	client *redis.Client
}

func NewChallengeStore(client *redis.Client) *ChallengeStore {
	return &ChallengeStore{client: client}
}

func challengeKey(id string) string {
	return fmt.Sprintf("auth:2fa:%s", id)
}

func (s *ChallengeStore) Put(ctx context.Context, id string, value string, ttl time.Duration) error {
	return s.client.Set(ctx, challengeKey(id), value, ttl).Err()
}

func (s *ChallengeStore) Take(ctx context.Context, id string) (string, error) {
	return s.client.GetDel(ctx, challengeKey(id)).Result()
}
