package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// RedisDecisionLocker holds a short Redis lock around approval decisions so two instances
// do not race the same step. Row locks in the database remain authoritative: when the lock
// cannot be obtained the decision proceeds without it.
type RedisDecisionLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *logrus.Logger
}

func NewRedisDecisionLocker(client *redislock.Client, logger *logrus.Logger) *RedisDecisionLocker {
	return &RedisDecisionLocker{client: client, ttl: 30 * time.Second, wait: 5 * time.Second, logger: logger}
}

func (l *RedisDecisionLocker) Lock(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if l == nil || l.client == nil {
		return noop, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	lock, err := l.client.Obtain(waitCtx, "lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(100 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		l.warn(key, "could not obtain redis lock; proceeding without redis lock")
		return noop, nil
	} else if err != nil {
		l.warn(key, "error obtaining redis lock; proceeding without redis lock: "+err.Error())
		return noop, nil
	}
	return func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.warn(key, "failed to release redis lock: "+releaseErr.Error())
		}
	}, nil
}

func (l *RedisDecisionLocker) warn(key string, msg string) {
	if l.logger == nil {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"field": "RedisDecisionLocker",
		"key":   key,
	}).Warn(msg)
}
