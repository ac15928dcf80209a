package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

const ackSelectFields = "journal_id, topic, payload, acked_at"

// AckStore implements interfaces.AckStore on SurrealDB. Acks are keyed
// by journal id at the record level, backed by a unique index, so the
// first writer wins and every later write is a clean duplicate.
type AckStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewAckStore(db *surrealdb.DB, logger *common.Logger) *AckStore {
	return &AckStore{db: db, logger: logger}
}

// RecordAck inserts the acknowledgement. Duplicate journal ids are the
// redelivery path and succeed with created=false.
func (s *AckStore) RecordAck(ctx context.Context, ack *models.Ack) (bool, error) {
	sql := "CREATE type::thing('events_acks', $journal_id) SET journal_id = $journal_id, " +
		"topic = $topic, payload = $payload, acked_at = time::now()"
	_, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"journal_id": ack.JournalID,
		"topic":      ack.Topic,
		"payload":    ack.Payload,
	})
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record ack for journal %s: %w", ack.JournalID, err)
	}
	return true, nil
}

// GetAck returns the acknowledgement for a journal id, or nil.
func (s *AckStore) GetAck(ctx context.Context, journalID string) (*models.Ack, error) {
	sql := fmt.Sprintf("SELECT %s FROM events_acks WHERE journal_id = $journal_id LIMIT 1", ackSelectFields)
	res, err := surrealdb.Query[[]models.Ack](ctx, s.db, sql, map[string]any{"journal_id": journalID})
	if err != nil {
		return nil, fmt.Errorf("failed to get ack for journal %s: %w", journalID, err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, nil
	}
	return &(*res)[0].Result[0], nil
}

var _ interfaces.AckStore = (*AckStore)(nil)
