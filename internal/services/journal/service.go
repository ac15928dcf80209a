// Package journal implements posting and account history.
package journal

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

// Service posts balanced journals atomically and projects per-account
// history from the audit log.
type Service struct {
	logger  *common.Logger
	config  *common.Config
	storage interfaces.StorageManager
	metrics *common.Metrics

	overdraft map[string]bool

	// chance lets tests pin the fault-injection sample.
	chance func() float64
}

func NewService(logger *common.Logger, config *common.Config, storage interfaces.StorageManager, metrics *common.Metrics) *Service {
	return &Service{
		logger:    logger,
		config:    config,
		storage:   storage,
		metrics:   metrics,
		overdraft: config.Ledger.OverdraftSet(),
		chance:    rand.Float64,
	}
}

// Post applies a validated journal. The idempotency probe runs before
// the transaction; a unique-index collision inside the transaction means
// a concurrent replay won the race, which re-probes and degrades to an
// idempotent success.
func (s *Service) Post(ctx context.Context, j *models.Journal) (*interfaces.PostResult, error) {
	start := time.Now()

	if err := j.Preflight(); err != nil {
		s.metrics.IncPostingFailed()
		return nil, err
	}

	existing, err := s.storage.LedgerStore().FindJournal(ctx, j.IdempotencyKey, j.JournalID)
	if err != nil {
		s.metrics.IncPostingFailed()
		return nil, err
	}
	if existing != nil {
		s.metrics.IncIdempotentHit()
		s.logger.Info().
			Str("journal_id", existing.JournalID).
			Str("idempotency_key", j.IdempotencyKey).
			Msg("posting replayed, returning prior result")
		return &interfaces.PostResult{JournalID: existing.JournalID, Idempotent: true}, nil
	}

	opts := interfaces.PostOptions{
		Overdraft: s.overdraft,
		Chaos:     s.config.Ledger.ChaosProbability > 0 && s.chance() < s.config.Ledger.ChaosProbability,
	}

	if err := s.storage.LedgerStore().PostJournal(ctx, j, opts); err != nil {
		if models.IsKind(err, models.ErrDuplicateKey) {
			// Lost a race against a concurrent replay of the same key.
			replayed, ferr := s.storage.LedgerStore().FindJournal(ctx, j.IdempotencyKey, j.JournalID)
			if ferr == nil && replayed != nil {
				s.metrics.IncIdempotentHit()
				return &interfaces.PostResult{JournalID: replayed.JournalID, Idempotent: true}, nil
			}
		}
		s.metrics.IncPostingFailed()
		s.logger.Warn().
			Err(err).
			Str("journal_id", j.JournalID).
			Dur("elapsed", time.Since(start)).
			Msg("posting failed")
		return nil, err
	}

	s.metrics.IncPosting()
	s.logger.Info().
		Str("journal_id", j.JournalID).
		Int("lines", len(j.Lines)).
		Dur("elapsed", time.Since(start)).
		Msg("journal posted")
	return &interfaces.PostResult{JournalID: j.JournalID, Idempotent: false}, nil
}

// History projects the audit log for one account, oldest entry first.
// The currency in the response falls back from the filter to the first
// entry's currency to USD. An empty projection is a valid result, not an
// error; callers decide how to surface it.
func (s *Service) History(ctx context.Context, accountID, currency string) (*models.AccountHistory, error) {
	entries, err := s.storage.LedgerStore().AccountEntries(ctx, accountID, currency)
	if err != nil {
		return nil, err
	}

	resolved := currency
	if resolved == "" && len(entries) > 0 {
		resolved = entries[0].Currency
	}
	if resolved == "" {
		resolved = "USD"
	}

	history := make([]models.HistoryItem, 0, len(entries))
	for _, e := range entries {
		history = append(history, models.HistoryItem{
			Transition: e.Transition,
			Amount:     e.Amount,
			Timestamp:  e.CreatedAt,
		})
	}

	return &models.AccountHistory{
		AccountID: accountID,
		Currency:  resolved,
		History:   history,
	}, nil
}

var _ interfaces.JournalService = (*Service)(nil)
