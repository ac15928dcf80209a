package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/app"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

const testAPIKey = "test-secret"

// --- In-memory storage manager ---
//
// memStorage mirrors the store contracts closely enough to exercise the
// full HTTP surface: guarded balance application, rollback on failure,
// outbox enqueue, and ack idempotency.

type memStorage struct {
	mu       sync.Mutex
	journals map[string]*models.Journal
	accounts map[string]*models.Account
	entries  []*models.LedgerEntry
	outbox   []*models.OutboxItem
	acks     map[string]*models.Ack
	seq      int
}

func newMemStorage() *memStorage {
	return &memStorage{
		journals: make(map[string]*models.Journal),
		accounts: make(map[string]*models.Account),
		acks:     make(map[string]*models.Ack),
	}
}

func (m *memStorage) LedgerStore() interfaces.LedgerStore { return (*memLedger)(m) }
func (m *memStorage) OutboxStore() interfaces.OutboxStore { return (*memOutbox)(m) }
func (m *memStorage) AckStore() interfaces.AckStore       { return (*memAcks)(m) }
func (m *memStorage) Ping(ctx context.Context) error      { return nil }
func (m *memStorage) Close() error                        { return nil }

type memLedger memStorage

func (m *memLedger) PostJournal(_ context.Context, j *models.Journal, opts interfaces.PostOptions) error {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.journals {
		if key == j.IdempotencyKey || existing.JournalID == j.JournalID {
			return models.E(models.ErrDuplicateKey, "journal already recorded")
		}
	}

	// Work on copies so a failed line rolls everything back.
	shadow := make(map[string]*models.Account, len(s.accounts))
	for id, acct := range s.accounts {
		cp := *acct
		shadow[id] = &cp
	}
	account := func(id, currency string) *models.Account {
		if acct, ok := shadow[id]; ok {
			return acct
		}
		acct := &models.Account{ID: id, Currency: currency, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		shadow[id] = acct
		return acct
	}
	adjust := func(acct *models.Account, bucket models.Bucket, delta int64) {
		switch bucket {
		case models.BucketAvailable:
			acct.Buckets.Available += delta
		case models.BucketPending:
			acct.Buckets.Pending += delta
		case models.BucketEscrow:
			acct.Buckets.Escrow += delta
		case models.BucketOutflow:
			acct.Buckets.Outflow += delta
		}
	}

	var entries []*models.LedgerEntry
	for i := range j.Lines {
		line := &j.Lines[i]
		acct := account(line.AccountID, line.Amount.Currency)

		if !line.IsNoOp() {
			minor, err := models.ToMinorUnits(line.Amount.Amount)
			if err != nil {
				return err
			}
			amt := minor.Int64()
			if !opts.Overdraft[line.AccountID] && acct.Buckets.Get(line.FromBucket) < amt {
				return models.E(models.ErrInsufficientFunds,
					"line %d cannot draw from %s on account %s", i+1, line.FromBucket, line.AccountID)
			}
			adjust(acct, line.FromBucket, -amt)
			adjust(acct, line.ToBucket, amt)
		}

		entries = append(entries, &models.LedgerEntry{
			JournalID:  j.JournalID,
			LineNo:     i + 1,
			AccountID:  line.AccountID,
			FromBucket: line.FromBucket,
			ToBucket:   line.ToBucket,
			Side:       line.Side,
			Transition: line.Transition,
			Amount:     line.Amount.Amount,
			Currency:   line.Amount.Currency,
			CreatedAt:  time.Now(),
		})
	}

	for _, acct := range shadow {
		if !opts.Overdraft[acct.ID] && acct.Buckets.AnyNegative() {
			return models.E(models.ErrNegativeBalance, "account %s would go negative", acct.ID)
		}
	}

	if opts.Chaos {
		return models.E(models.ErrChaos, "transaction aborted by fault injection")
	}

	// Commit.
	for id, acct := range shadow {
		s.accounts[id] = acct
	}
	s.entries = append(s.entries, entries...)
	j.Status = models.JournalStatusPosted
	s.journals[j.IdempotencyKey] = j
	s.seq++
	now := time.Now()
	s.outbox = append(s.outbox, &models.OutboxItem{
		ID:            fmt.Sprintf("item-%d", s.seq),
		JournalID:     j.JournalID,
		Topic:         models.TopicLedgerPosted,
		Payload:       fmt.Sprintf(`{"journalId":%q}`, j.JournalID),
		Status:        models.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	return nil
}

func (m *memLedger) FindJournal(_ context.Context, idempotencyKey, journalID string) (*models.Journal, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.journals[idempotencyKey]; ok {
		return j, nil
	}
	for _, j := range s.journals {
		if j.JournalID == journalID {
			return j, nil
		}
	}
	return nil, nil
}

func (m *memLedger) GetAccount(_ context.Context, id string) (*models.Account, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id], nil
}

func (m *memLedger) AccountEntries(_ context.Context, accountID, currency string) ([]*models.LedgerEntry, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID && (currency == "" || e.Currency == currency) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memOutbox memStorage

func (m *memOutbox) ClaimNext(_ context.Context, now time.Time) (*models.OutboxItem, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.outbox {
		if item.Status == models.OutboxStatusPending && !item.NextAttemptAt.After(now) {
			item.Status = models.OutboxStatusProcessing
			return item, nil
		}
	}
	return nil, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id string) error {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.outbox {
		if item.ID == id {
			if item.Status != models.OutboxStatusProcessing {
				return models.E(models.ErrInternal, "outbox item %s is no longer processing", id)
			}
			item.Status = models.OutboxStatusSent
			item.Attempts++
			return nil
		}
	}
	return models.E(models.ErrInternal, "outbox item %s not found", id)
}

func (m *memOutbox) Reschedule(_ context.Context, id string, attempts int, dueAt time.Time) error {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.outbox {
		if item.ID == id {
			item.Status = models.OutboxStatusPending
			item.Attempts = attempts
			item.NextAttemptAt = dueAt
			return nil
		}
	}
	return models.E(models.ErrInternal, "outbox item %s not found", id)
}

func (m *memOutbox) GetItem(_ context.Context, id string) (*models.OutboxItem, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.outbox {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, nil
}

func (m *memOutbox) CountPending(context.Context) (int, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.outbox {
		if item.Status == models.OutboxStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *memOutbox) CountPendingRetries(context.Context) (int, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.outbox {
		if item.Status == models.OutboxStatusPending && item.Attempts > 0 {
			n++
		}
	}
	return n, nil
}

type memAcks memStorage

func (m *memAcks) RecordAck(_ context.Context, ack *models.Ack) (bool, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acks[ack.JournalID]; ok {
		return false, nil
	}
	ack.AckedAt = time.Now()
	s.acks[ack.JournalID] = ack
	return true, nil
}

func (m *memAcks) GetAck(_ context.Context, journalID string) (*models.Ack, error) {
	s := (*memStorage)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks[journalID], nil
}

// --- Test server ---

func newTestServer(t *testing.T) (*httptest.Server, *memStorage) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Auth.APIKey = testAPIKey

	storage := newMemStorage()
	a := app.NewWithStorage(config, common.NewSilentLogger(), storage)
	srv := NewServer(a)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, storage
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func authed() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func journalBody(journalID, idemKey, amount string) string {
	return fmt.Sprintf(`{
		"journalId": %q,
		"idempotencyKey": %q,
		"lines": [
			{"accountId": "BUYER", "side": "debit", "transition": "reserve",
			 "fromBucket": "available", "toBucket": "pending",
			 "amount": {"amount": %q, "currency": "USD"}},
			{"accountId": "ESCROW_POOL", "side": "credit", "transition": "reserve",
			 "fromBucket": "available", "toBucket": "available",
			 "amount": {"amount": %q, "currency": "USD"}}
		]
	}`, journalID, idemKey, amount, amount)
}

// seedAccount installs an account with an opening available balance in
// minor units, the way the scenario seeds describe them.
func seedAccount(storage *memStorage, id, currency string, available int64) {
	storage.mu.Lock()
	defer storage.mu.Unlock()
	storage.accounts[id] = &models.Account{
		ID:       id,
		Currency: currency,
		Buckets:  models.BucketBalances{Available: available},
	}
}

// --- Tests ---

func TestJournalPostRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("j1", "k1", "10.00"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("j1", "k1", "10.00"),
		map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJournalPostMisconfiguredSecret(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Auth.APIKey = ""
	a := app.NewWithStorage(config, common.NewSilentLogger(), newMemStorage())
	ts := httptest.NewServer(NewServer(a).Handler())
	defer ts.Close()

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("j1", "k1", "10.00"), authed())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestJournalPostMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/journal", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST", resp.Header.Get("Allow"))
}

func TestJournalPostInvalidJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/journal", "{broken", authed())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJournalPostSchemaValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `{"journalId":"","idempotencyKey":"","lines":[]}`
	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/journal", body, authed())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	details, ok := decoded["details"].([]interface{})
	require.True(t, ok, "response should carry details: %v", decoded)
	assert.NotEmpty(t, details)
}

func TestJournalPostAndHistory(t *testing.T) {
	ts, storage := newTestServer(t)
	seedAccount(storage, "BUYER", "USD", 50000)

	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("jrn-1", "idem-1", "100.00"), authed())
	require.Equal(t, http.StatusOK, resp.StatusCode, "post failed: %v", decoded)
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "jrn-1", decoded["journalId"])
	assert.NotContains(t, decoded, "idempotent", "response carries exactly ok and journalId")

	// Balances moved available -> pending.
	buyer := storage.accounts["BUYER"]
	require.NotNil(t, buyer)
	assert.Equal(t, int64(40000), buyer.Buckets.Available)
	assert.Equal(t, int64(10000), buyer.Buckets.Pending)

	// An outbox item was enqueued inside the posting.
	pending, _ := storage.OutboxStore().CountPending(context.Background())
	assert.Equal(t, 1, pending)

	resp, decoded = doJSON(t, http.MethodGet, ts.URL+"/accounts/BUYER/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BUYER", decoded["accountId"])
	assert.Equal(t, "USD", decoded["currency"])
	history, ok := decoded["history"].([]interface{})
	require.True(t, ok)
	assert.Len(t, history, 1)
}

func TestJournalPostIdempotentReplay(t *testing.T) {
	ts, storage := newTestServer(t)
	seedAccount(storage, "BUYER", "USD", 50000)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("jrn-1", "idem-1", "100.00"), authed())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("jrn-1", "idem-1", "100.00"), authed())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "jrn-1", decoded["journalId"])

	// The replay applied nothing: balances moved once, one outbox item.
	buyer := storage.accounts["BUYER"]
	require.NotNil(t, buyer)
	assert.Equal(t, int64(40000), buyer.Buckets.Available)
	assert.Equal(t, int64(10000), buyer.Buckets.Pending)
	pending, _ := storage.OutboxStore().CountPending(context.Background())
	assert.Equal(t, 1, pending)
}

func TestJournalPostInsufficientFunds(t *testing.T) {
	ts, storage := newTestServer(t)

	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("jrn-1", "idem-1", "100.00"), authed())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(models.ErrInsufficientFunds), decoded["code"])

	// Nothing committed.
	assert.Empty(t, storage.journals)
	assert.Empty(t, storage.outbox)
}

func TestAccountHistoryUnknownAccount(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/accounts/GHOST/history", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOutboxProcessDrainsToConsumer(t *testing.T) {
	ts, storage := newTestServer(t)
	seedAccount(storage, "BUYER", "USD", 50000)

	resp0, decoded0 := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("jrn-1", "idem-1", "100.00"), authed())
	require.Equal(t, http.StatusOK, resp0.StatusCode, "post failed: %v", decoded0)

	consumer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer consumer.Close()

	resp, decoded := doJSON(t, http.MethodPost,
		ts.URL+"/outbox/process?target="+consumer.URL, "", authed())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decoded["attempted"])
	assert.Equal(t, float64(1), decoded["sent"])
	assert.Equal(t, float64(0), decoded["pending"])

	item, _ := storage.OutboxStore().GetItem(context.Background(), "item-1")
	require.NotNil(t, item)
	assert.Equal(t, models.OutboxStatusSent, item.Status)
}

func TestOutboxProcessRetriesFailure(t *testing.T) {
	ts, storage := newTestServer(t)
	seedAccount(storage, "BUYER", "USD", 50000)

	resp0, decoded0 := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("jrn-1", "idem-1", "100.00"), authed())
	require.Equal(t, http.StatusOK, resp0.StatusCode, "post failed: %v", decoded0)

	consumer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer consumer.Close()

	resp, decoded := doJSON(t, http.MethodPost,
		ts.URL+"/outbox/process?target="+consumer.URL, "", authed())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decoded["retried"])
	assert.Equal(t, float64(1), decoded["pendingRetries"])

	item, _ := storage.OutboxStore().GetItem(context.Background(), "item-1")
	require.NotNil(t, item)
	assert.Equal(t, models.OutboxStatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.True(t, item.NextAttemptAt.After(time.Now()), "retry must be scheduled in the future")
}

func TestOutboxDeliversToOwnEventsEndpoint(t *testing.T) {
	ts, storage := newTestServer(t)
	seedAccount(storage, "BUYER", "USD", 50000)

	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/journal", journalBody("jrn-1", "idem-1", "100.00"), authed())
	require.Equal(t, http.StatusOK, resp.StatusCode, "post failed: %v", decoded)

	// Dispatch to our own consumer endpoint: the full pipeline from
	// posting through delivery to a durable ack.
	resp, decoded = doJSON(t, http.MethodPost,
		ts.URL+"/outbox/process?target="+ts.URL+"/events", "", authed())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decoded["sent"])

	ack, err := storage.AckStore().GetAck(context.Background(), "jrn-1")
	require.NoError(t, err)
	require.NotNil(t, ack, "delivery should record an ack keyed by journal id")
	assert.Equal(t, models.TopicLedgerPosted, ack.Topic)
	assert.JSONEq(t, `{"journalId":"jrn-1"}`, ack.Payload)
}

func TestEventsAckIdempotent(t *testing.T) {
	ts, storage := newTestServer(t)

	// The payload is an object on the wire, stored as raw text.
	body := `{"journalId":"jrn-1","topic":"LedgerEvent.Posted","payload":{"journalId":"jrn-1"}}`
	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/events", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decoded["duplicate"])

	ack, err := storage.AckStore().GetAck(context.Background(), "jrn-1")
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.JSONEq(t, `{"journalId":"jrn-1"}`, ack.Payload)

	resp, decoded = doJSON(t, http.MethodPost, ts.URL+"/events", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["duplicate"])
}

func TestEventsAckRequiresJournalID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/events", `{"topic":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["dbConnected"])
	assert.Contains(t, decoded, "outboxQueue")
	assert.Contains(t, decoded, "pendingRetries")
	assert.Contains(t, decoded, "metrics")
}
