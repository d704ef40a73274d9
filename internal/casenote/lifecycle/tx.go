package lifecycle

import (
	"context"
	"sync"
	"time"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// StoreTx provides the transactional boundary for a lifecycle transition.
// Note writes and their audit events made with the txCtx commit together.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// numNoteShards spreads in-memory transitions across independent locks so
// distinct notes proceed in parallel while one note is serialized.
const numNoteShards = 64

const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	shards  [numNoteShards]sync.Mutex
	timeout time.Duration
}

// NewShardedTx returns the in-memory StoreTx.
func NewShardedTx() StoreTx {
	return &shardedTx{timeout: defaultTxTimeout}
}

func (t *shardedTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

func (t *shardedTx) selectShard(ctx context.Context) int {
	if key, ok := ctx.Value(lockKeyCtx).(string); ok && key != "" {
		return int(hashKey(key) % numNoteShards)
	}
	return 0
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

type lockKey struct{}

var lockKeyCtx = lockKey{}

// withLockKey names the entity a transaction serializes on.
func withLockKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, lockKeyCtx, key)
}
