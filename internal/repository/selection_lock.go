package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

// SelectionLock serialises admission selections per student. The lock is a
// Redis SET NX key with a TTL so a crashed client cannot hold the student
// hostage beyond the lease. Release is token-guarded: only the holder that
// acquired the lease may delete it.
type SelectionLock struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSelectionLock constructs the lock manager.
func NewSelectionLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SelectionLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SelectionLock{client: client, logger: logger, ttl: ttl}
}

// releaseScript deletes the lock only when the stored token matches, so a
// slow holder whose lease expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the per-student lock, returning a release function. A held
// lock yields ErrConcurrentModification without waiting; callers own retry
// pacing.
func (l *SelectionLock) Acquire(ctx context.Context, studentID string) (func(), error) {
	// Without Redis the API degrades to single-instance semantics; the
	// conditional SQL updates still guard correctness.
	if l.client == nil {
		return func() {}, nil
	}

	key := lockKey(studentID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire selection lock for %s: %w", studentID, err)
	}
	if !ok {
		return nil, appErrors.ErrConcurrentModification
	}

	release := func() {
		// Release must survive the caller's context being cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("failed to release selection lock",
				zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return release, nil
}

func lockKey(studentID string) string {
	return "selection:lock:" + studentID
}
