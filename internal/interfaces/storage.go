package interfaces

import (
	"context"
	"time"

	"github.com/tallyhq/tally/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	LedgerStore() LedgerStore
	OutboxStore() OutboxStore
	AckStore() AckStore

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// PostOptions carries transaction-scoped posting behaviour.
type PostOptions struct {
	// Overdraft lists account ids exempt from the non-negative guard and
	// the post-apply sweep.
	Overdraft map[string]bool
	// Chaos forces the transaction to roll back after all writes, for
	// exercising rollback paths.
	Chaos bool
}

// LedgerStore owns journals, accounts, and the append-only audit log.
type LedgerStore interface {
	// PostJournal applies the journal in one ACID transaction: header
	// insert, guarded per-line balance deltas, audit append, negative
	// balance sweep, outbox enqueue, and the posted flip. Any failure
	// leaves no trace. A unique-index collision on the header surfaces
	// as a DuplicateKey domain error.
	PostJournal(ctx context.Context, j *models.Journal, opts PostOptions) error

	// FindJournal looks up a journal by idempotency key or journal id.
	// Returns nil when absent.
	FindJournal(ctx context.Context, idempotencyKey, journalID string) (*models.Journal, error)

	// GetAccount returns an account by id, or nil when absent.
	GetAccount(ctx context.Context, id string) (*models.Account, error)

	// AccountEntries returns audit entries for an account ordered by
	// created_at ascending, optionally filtered by currency.
	AccountEntries(ctx context.Context, accountID, currency string) ([]*models.LedgerEntry, error)
}

// OutboxStore owns the durable post-commit event queue.
type OutboxStore interface {
	// ClaimNext atomically claims the earliest-due pending item (ordered
	// by next_attempt_at, created_at, id) and flips it to processing.
	// Returns nil when nothing is due.
	ClaimNext(ctx context.Context, now time.Time) (*models.OutboxItem, error)

	// MarkSent flips processing -> sent and increments attempts. A state
	// mismatch is an error, not a retry condition.
	MarkSent(ctx context.Context, id string) error

	// Reschedule flips processing -> pending with the given attempt count
	// and next due time.
	Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error

	// GetItem returns an outbox item by id, or nil when absent.
	GetItem(ctx context.Context, id string) (*models.OutboxItem, error)

	// CountPending counts items in status pending.
	CountPending(ctx context.Context) (int, error)

	// CountPendingRetries counts pending items with attempts > 0.
	CountPendingRetries(ctx context.Context) (int, error)
}

// AckStore owns the consumer acknowledgement set.
type AckStore interface {
	// RecordAck inserts an acknowledgement. A duplicate journal id
	// succeeds with created=false.
	RecordAck(ctx context.Context, ack *models.Ack) (created bool, err error)

	// GetAck returns the acknowledgement for a journal id, or nil.
	GetAck(ctx context.Context, journalID string) (*models.Ack, error)
}
