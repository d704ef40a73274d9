package transcription

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
)

// Ledger records which uploads have an outstanding transcription request.
// Acquire is an atomic test-and-set owned by token; the lease expires after
// ttl so a crashed process cannot block an upload forever. Release only
// removes a lease still held by token.
type Ledger interface {
	Acquire(ctx context.Context, uploadID id.FileUploadID, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, uploadID id.FileUploadID, token string) error
}

type lease struct {
	token   string
	expires time.Time
}

type InMemoryLedger struct {
	mu     sync.Mutex
	leases map[id.FileUploadID]lease
	now    func() time.Time
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{leases: make(map[id.FileUploadID]lease), now: time.Now}
}

func (l *InMemoryLedger) Acquire(_ context.Context, uploadID id.FileUploadID, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if held, ok := l.leases[uploadID]; ok && now.Before(held.expires) {
		return false, nil
	}
	l.leases[uploadID] = lease{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (l *InMemoryLedger) Release(_ context.Context, uploadID id.FileUploadID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.leases[uploadID]; ok && held.token == token {
		delete(l.leases, uploadID)
	}
	return nil
}

const ledgerKeyPrefix = "transcription:inflight:"

// releaseLease deletes the key only while it still holds the caller's token.
var releaseLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLedger shares leases between dispatcher instances.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Acquire(ctx context.Context, uploadID id.FileUploadID, token string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, ledgerKeyPrefix+uploadID.String(), token, ttl).Result()
}

func (l *RedisLedger) Release(ctx context.Context, uploadID id.FileUploadID, token string) error {
	return releaseLease.Run(ctx, l.client, []string{ledgerKeyPrefix + uploadID.String()}, token).Err()
}
