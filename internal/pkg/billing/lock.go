package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const paymentLockPrefix = "tms:payment-lock:"

// DefaultPaymentLockTTL bounds how long a crashed verification can block a
// retry of the same payment.
const DefaultPaymentLockTTL = 2 * time.Minute

// PaymentLock serializes concurrent verification of the same gateway payment.
// release must be called once the holder is done.
type PaymentLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// compare-and-delete so an expired holder cannot release a newer lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisPaymentLock struct {
	client *redis.Client
}

// NewRedisPaymentLock returns a lock shared by every instance using client.
func NewRedisPaymentLock(client *redis.Client) PaymentLock {
	return &redisPaymentLock{client: client}
}

func (l *redisPaymentLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = DefaultPaymentLockTTL
	}
	redisKey := paymentLockPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{redisKey}, token).Err()
	}
	return release, true, nil
}

type localPaymentLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalPaymentLock returns an in-process lock for single instance
// deployments without a cache.
func NewLocalPaymentLock() PaymentLock {
	return &localPaymentLock{held: make(map[string]time.Time), now: time.Now}
}

func (l *localPaymentLock) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = DefaultPaymentLockTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.held[key] = exp

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == exp {
			delete(l.held, key)
		}
	}
	return release, true, nil
}
