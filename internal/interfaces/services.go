// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"time"

	"github.com/tallyhq/tally/internal/models"
)

// PostResult reports the outcome of a journal posting.
type PostResult struct {
	JournalID  string
	Idempotent bool
}

// JournalService posts balanced journals and projects account history.
type JournalService interface {
	// Post applies a validated journal atomically. Replays with a known
	// idempotency key or journal id succeed with Idempotent set.
	Post(ctx context.Context, j *models.Journal) (*PostResult, error)

	// History returns the chronological audit projection for an account,
	// optionally filtered by currency. An empty projection is a valid
	// result; adapters decide how to surface it.
	History(ctx context.Context, accountID, currency string) (*models.AccountHistory, error)
}

// OutboxRunOptions tunes a single dispatcher run. Zero values fall back
// to configuration.
type OutboxRunOptions struct {
	MaxBatch   int
	MaxBackoff time.Duration
	Timeout    time.Duration
	Target     string
}

// OutboxService drains the outbox to the downstream consumer.
type OutboxService interface {
	// ProcessOnce claims and dispatches up to MaxBatch due items. Dispatch
	// failures are counted as retried, never returned as errors.
	ProcessOnce(ctx context.Context, opts OutboxRunOptions) (*models.OutboxRunSummary, error)
}

// EventService records consumer acknowledgements.
type EventService interface {
	// RecordAck inserts an acknowledgement. A duplicate journal id is the
	// intended idempotency path and succeeds with created=false.
	RecordAck(ctx context.Context, ack *models.Ack) (created bool, err error)
}
