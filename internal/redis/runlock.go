package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// lockTTL bounds how long a crashed holder can block other runs. A healthy
// run releases its lock explicitly well before this expires.
const lockTTL = 15 * time.Minute

// ErrRunInProgress indicates another engine instance holds the run lock.
var ErrRunInProgress = errors.New("an escalation run is already in progress")

// RunLock serializes escalation runs across instances using SET NX. It is a
// backstop over the ledger's (invoice_id, sent_on) uniqueness constraint,
// not a replacement: it keeps overlapping runs from doing wasted work, while
// the constraint guarantees correctness even if the lock is unavailable.
type RunLock struct {
	client *Client
	logger *zap.Logger
}

// NewRunLock creates a run lock backed by the given client.
func NewRunLock(client *Client, logger *zap.Logger) *RunLock {
	return &RunLock{
		client: client,
		logger: logger,
	}
}

func (l *RunLock) buildKey(runDate string) string {
	return fmt.Sprintf("escalation:run:%s", runDate)
}

// Acquire takes the lock for the given run date (YYYY-MM-DD). Returns
// ErrRunInProgress when another holder has it.
func (l *RunLock) Acquire(ctx context.Context, runDate string) error {
	key := l.buildKey(runDate)

	set, err := l.client.rdb.SetNX(ctx, key, "locked", lockTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return ErrRunInProgress
	}

	l.logger.Debug("run lock acquired", zap.String("run_date", runDate))
	return nil
}

// Release frees the lock after a run completes. Failure to release is logged
// but not fatal; the TTL clears the lock eventually.
func (l *RunLock) Release(ctx context.Context, runDate string) {
	key := l.buildKey(runDate)

	if err := l.client.rdb.Del(ctx, key).Err(); err != nil {
		l.logger.Warn("failed to release run lock, TTL will expire it",
			zap.Error(err),
			zap.String("run_date", runDate),
		)
		return
	}

	l.logger.Debug("run lock released", zap.String("run_date", runDate))
}
