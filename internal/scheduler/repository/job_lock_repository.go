package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/common"

	"github.com/redis/go-redis/v9"
)

// JobLockRepository coordinates job runs across service instances.
type JobLockRepository interface {
	// Acquire returns a release func, or ok=false when another instance holds the lock.
	Acquire(ctx context.Context, jobType entity.JobType, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type jobLockRepository struct {
	client redis.UniversalClient
}

func NewJobLockRepository(client redis.UniversalClient) JobLockRepository {
	return &jobLockRepository{client: client}
}

func (r *jobLockRepository) Acquire(ctx context.Context, jobType entity.JobType, ttl time.Duration) (func(context.Context) error, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	key := common.RedisKeyJobLockPrefix + string(jobType)

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
