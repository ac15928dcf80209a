// Package events records consumer acknowledgements.
package events

import (
	"context"

	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

// Service implements interfaces.EventService. It is the built-in
// consumer side of the pipeline: at-least-once delivery upstream means
// redeliveries are expected and must collapse into one durable ack.
type Service struct {
	logger  *common.Logger
	storage interfaces.StorageManager
	metrics *common.Metrics
}

func NewService(logger *common.Logger, storage interfaces.StorageManager, metrics *common.Metrics) *Service {
	return &Service{logger: logger, storage: storage, metrics: metrics}
}

// RecordAck stores the acknowledgement keyed by journal id. The first
// delivery wins; every redelivery is a clean no-op.
func (s *Service) RecordAck(ctx context.Context, ack *models.Ack) (bool, error) {
	if ack.JournalID == "" {
		return false, models.E(models.ErrValidation, "journalId is required")
	}
	if ack.Topic == "" {
		ack.Topic = models.TopicLedgerPosted
	}

	created, err := s.storage.AckStore().RecordAck(ctx, ack)
	if err != nil {
		return false, err
	}
	if created {
		s.metrics.IncAckRecorded()
		s.logger.Info().Str("journal_id", ack.JournalID).Msg("event acknowledged")
	} else {
		s.logger.Debug().Str("journal_id", ack.JournalID).Msg("duplicate delivery ignored")
	}
	return created, nil
}

var _ interfaces.EventService = (*Service)(nil)
