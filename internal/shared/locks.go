package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock keys for per-aggregate critical sections. Approval decisions and
// repayment validations are read-modify-write cycles; callers take the
// aggregate lock before re-reading the history.

// ExpenseLockKey builds the redis key guarding an expense request.
func ExpenseLockKey(requestID uuid.UUID) string {
	return fmt.Sprintf("expense:request:%s:lock", requestID)
}

// CotisationLockKey builds the redis key guarding a cotisation record.
func CotisationLockKey(recordID uuid.UUID) string {
	return fmt.Sprintf("cotisation:record:%s:lock", recordID)
}

// LoanLockKey builds the redis key guarding a loan ledger.
func LoanLockKey(loanID uuid.UUID) string {
	return fmt.Sprintf("loan:%s:lock", loanID)
}

// AggregateLocker acquires short-lived redis locks per aggregate id.
type AggregateLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAggregateLocker constructs an AggregateLocker.
func NewAggregateLocker(client *redis.Client, ttl time.Duration) *AggregateLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &AggregateLocker{client: client, ttl: ttl}
}

// Acquire takes the lock, returning a release func. Returns a Conflict
// error when another holder owns the key.
func (l *AggregateLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Conflictf("aggregate %s is locked by another operation", key)
	}
	release := func() {
		// Release only if we still own the lock.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		_ = l.client.Eval(context.Background(), script, []string{key}, token).Err()
	}
	return release, nil
}
