package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

const outboxSelectFields = "item_id AS id, journal_id, topic, payload, status, attempts, next_attempt_at, created_at, updated_at"

// claimRetries bounds how many lost claim races one ClaimNext call will
// absorb before reporting an empty queue.
const claimRetries = 3

// OutboxStore implements interfaces.OutboxStore on SurrealDB.
type OutboxStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewOutboxStore(db *surrealdb.DB, logger *common.Logger) *OutboxStore {
	return &OutboxStore{db: db, logger: logger}
}

// ClaimNext selects the earliest-due pending item and flips it to
// processing with a status-guarded update. A concurrent claimer can win
// the flip between the select and the update; a zero-row post-image
// means we lost and should pick again.
func (s *OutboxStore) ClaimNext(ctx context.Context, now time.Time) (*models.OutboxItem, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		candidate, err := s.nextDue(ctx, now)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, nil
		}

		claimed, err := s.tryClaim(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			s.logger.Debug().Str("item_id", candidate.ID).Msg("lost claim race, retrying")
			continue
		}

		candidate.Status = models.OutboxStatusProcessing
		return candidate, nil
	}
	return nil, nil
}

// nextDue returns the earliest-due pending item without claiming it.
func (s *OutboxStore) nextDue(ctx context.Context, now time.Time) (*models.OutboxItem, error) {
	sql := fmt.Sprintf("SELECT %s FROM outbox WHERE status = $pending AND next_attempt_at <= $now "+
		"ORDER BY next_attempt_at ASC, created_at ASC, item_id ASC LIMIT 1", outboxSelectFields)
	res, err := surrealdb.Query[[]models.OutboxItem](ctx, s.db, sql, map[string]any{
		"pending": models.OutboxStatusPending,
		"now":     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox: %w", err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, nil
	}
	return &(*res)[0].Result[0], nil
}

// tryClaim flips pending -> processing for one item. RETURN VALUE item_id
// keeps the post-image decodable as plain strings; an empty result means
// the status guard did not match.
func (s *OutboxStore) tryClaim(ctx context.Context, id string) (bool, error) {
	sql := "UPDATE type::thing('outbox', $id) SET status = $processing, updated_at = time::now() " +
		"WHERE status = $pending RETURN VALUE item_id"
	res, err := surrealdb.Query[[]string](ctx, s.db, sql, map[string]any{
		"id":         id,
		"pending":    models.OutboxStatusPending,
		"processing": models.OutboxStatusProcessing,
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim outbox item %s: %w", id, err)
	}
	return res != nil && len(*res) > 0 && len((*res)[0].Result) > 0, nil
}

// MarkSent flips processing -> sent, the terminal state, and counts the
// attempt. Finding the item in any other state means another worker
// interfered and is reported loudly.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.finishProcessing(ctx, id,
		"UPDATE type::thing('outbox', $id) SET status = $next, attempts += 1, updated_at = time::now() "+
			"WHERE status = $processing RETURN VALUE item_id",
		map[string]any{
			"id":         id,
			"next":       models.OutboxStatusSent,
			"processing": models.OutboxStatusProcessing,
		})
}

// Reschedule flips processing -> pending after a failed dispatch,
// recording the attempt count and the next due time.
func (s *OutboxStore) Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	return s.finishProcessing(ctx, id,
		"UPDATE type::thing('outbox', $id) SET status = $next, attempts = $attempts, "+
			"next_attempt_at = $next_attempt_at, updated_at = time::now() "+
			"WHERE status = $processing RETURN VALUE item_id",
		map[string]any{
			"id":              id,
			"next":            models.OutboxStatusPending,
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"processing":      models.OutboxStatusProcessing,
		})
}

func (s *OutboxStore) finishProcessing(ctx context.Context, id, sql string, vars map[string]any) error {
	res, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
	if err != nil {
		return fmt.Errorf("failed to update outbox item %s: %w", id, err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return models.E(models.ErrInternal, "outbox item %s is no longer processing", id)
	}
	return nil
}

// GetItem returns an outbox item by id, or nil when absent.
func (s *OutboxStore) GetItem(ctx context.Context, id string) (*models.OutboxItem, error) {
	sql := fmt.Sprintf("SELECT %s FROM outbox WHERE item_id = $id LIMIT 1", outboxSelectFields)
	res, err := surrealdb.Query[[]models.OutboxItem](ctx, s.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox item %s: %w", id, err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, nil
	}
	return &(*res)[0].Result[0], nil
}

func (s *OutboxStore) CountPending(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "status = $pending", map[string]any{"pending": models.OutboxStatusPending})
}

func (s *OutboxStore) CountPendingRetries(ctx context.Context) (int, error) {
	return s.countWhere(ctx, "status = $pending AND attempts > 0", map[string]any{"pending": models.OutboxStatusPending})
}

type countRow struct {
	Count int `json:"count"`
}

func (s *OutboxStore) countWhere(ctx context.Context, where string, vars map[string]any) (int, error) {
	sql := "SELECT count() AS count FROM outbox WHERE " + where + " GROUP ALL"
	res, err := surrealdb.Query[[]countRow](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox items: %w", err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return 0, nil
	}
	return (*res)[0].Result[0].Count, nil
}

var _ interfaces.OutboxStore = (*OutboxStore)(nil)
