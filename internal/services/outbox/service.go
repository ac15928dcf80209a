// Package outbox drains the durable event queue to the downstream
// consumer with claim-based exclusivity and exponential backoff.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

// baseBackoff is the first retry delay; each attempt doubles it. The
// exponent is capped so the shift cannot overflow before clipping.
const (
	baseBackoff    = 500 * time.Millisecond
	maxBackoffExp  = 10
	jitterFraction = 0.2
)

// Service implements interfaces.OutboxService.
type Service struct {
	logger  *common.Logger
	config  *common.Config
	storage interfaces.StorageManager
	metrics *common.Metrics
	client  *http.Client
	limiter *rate.Limiter

	// jitter lets tests pin the randomized slice of the backoff.
	jitter func() float64
	now    func() time.Time
}

func NewService(logger *common.Logger, config *common.Config, storage interfaces.StorageManager, metrics *common.Metrics) *Service {
	var limiter *rate.Limiter
	if config.Outbox.DispatchRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.Outbox.DispatchRPS), 1)
	}
	return &Service{
		logger:  logger,
		config:  config,
		storage: storage,
		metrics: metrics,
		client:  &http.Client{Timeout: config.Outbox.GetTimeout()},
		limiter: limiter,
		jitter:  rand.Float64,
		now:     time.Now,
	}
}

// ProcessOnce claims and dispatches up to the batch limit of due items.
// A failed dispatch reschedules the item and keeps draining; only
// storage faults abort the run.
func (s *Service) ProcessOnce(ctx context.Context, opts interfaces.OutboxRunOptions) (*models.OutboxRunSummary, error) {
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = s.config.Outbox.MaxBatch
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = s.config.Outbox.GetMaxBackoff()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.config.Outbox.GetTimeout()
	}
	target := s.resolveTarget(opts.Target)

	summary := &models.OutboxRunSummary{}
	store := s.storage.OutboxStore()

	for summary.Attempted < maxBatch {
		item, err := store.ClaimNext(ctx, s.now())
		if err != nil {
			return nil, err
		}
		if item == nil {
			break
		}
		summary.Attempted++

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		if derr := s.dispatch(ctx, target, timeout, item); derr != nil {
			attempts := item.Attempts + 1
			delay := backoffDelay(attempts, maxBackoff, s.jitter)
			if err := store.Reschedule(ctx, item.ID, attempts, s.now().Add(delay)); err != nil {
				return nil, err
			}
			summary.Retried++
			s.metrics.IncOutboxRetried()
			s.logger.Warn().
				Err(derr).
				Str("item_id", item.ID).
				Str("journal_id", item.JournalID).
				Int("attempts", attempts).
				Dur("backoff", delay).
				Msg("dispatch failed, rescheduled")
			continue
		}

		if err := store.MarkSent(ctx, item.ID); err != nil {
			return nil, err
		}
		summary.Sent++
		s.metrics.IncOutboxSent()
		s.logger.Info().
			Str("item_id", item.ID).
			Str("journal_id", item.JournalID).
			Msg("event delivered")
	}

	var err error
	if summary.Pending, err = store.CountPending(ctx); err != nil {
		return nil, err
	}
	if summary.PendingRetries, err = store.CountPendingRetries(ctx); err != nil {
		return nil, err
	}
	return summary, nil
}

// eventEnvelope is the wire format delivered to the consumer. The stored
// payload is opaque JSON text and travels unmodified.
type eventEnvelope struct {
	JournalID string          `json:"journalId"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

// dispatch posts the item to the consumer as a {journalId, topic, payload}
// envelope. Any transport error or non-2xx status is a dispatch failure.
func (s *Service) dispatch(ctx context.Context, target string, timeout time.Duration, item *models.OutboxItem) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(eventEnvelope{
		JournalID: item.JournalID,
		Topic:     item.Topic,
		Payload:   json.RawMessage(item.Payload),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("consumer returned status %d", resp.StatusCode)
	}
	return nil
}

// resolveTarget picks the consumer URL: explicit run option, then the
// configured absolute URL, then host plus path, then the local loopback
// consumer on our own port.
func (s *Service) resolveTarget(override string) string {
	if override != "" {
		return override
	}
	if s.config.Outbox.TargetURL != "" {
		return s.config.Outbox.TargetURL
	}
	path := s.config.Outbox.TargetPath
	if path == "" {
		path = "/events"
	}
	if s.config.Outbox.TargetHost != "" {
		return strings.TrimRight(s.config.Outbox.TargetHost, "/") + path
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.config.Server.Port, path)
}

// backoffDelay computes the retry delay for the given attempt count:
// base doubled per attempt, clipped to max, plus up to 20% jitter, and
// clipped to max again so jitter cannot push past the cap.
func backoffDelay(attempts int, max time.Duration, jitter func() float64) time.Duration {
	exp := attempts
	if exp > maxBackoffExp {
		exp = maxBackoffExp
	}
	if exp < 1 {
		exp = 1
	}
	delay := baseBackoff * time.Duration(1<<uint(exp))
	if delay > max || delay <= 0 {
		delay = max
	}
	delay += time.Duration(float64(delay) * jitterFraction * jitter())
	if delay > max {
		delay = max
	}
	return delay
}

var _ interfaces.OutboxService = (*Service)(nil)
