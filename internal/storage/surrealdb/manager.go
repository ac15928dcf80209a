// Package surrealdb implements the Tally storage contracts on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
)

// schemaStatements is executed at startup. Everything is IF NOT EXISTS so
// restarts are idempotent. The unique indexes back the idempotency
// contract; the secondary indexes back dispatch scanning and history.
var schemaStatements = []string{
	"DEFINE TABLE IF NOT EXISTS accounts SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS journals SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS ledger_entries SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS outbox SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS events_acks SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS uniq_journals_journal_id ON TABLE journals FIELDS journal_id UNIQUE",
	"DEFINE INDEX IF NOT EXISTS uniq_journals_idempotency_key ON TABLE journals FIELDS idempotency_key UNIQUE",
	"DEFINE INDEX IF NOT EXISTS uniq_events_acks_journal_id ON TABLE events_acks FIELDS journal_id UNIQUE",
	"DEFINE INDEX IF NOT EXISTS idx_outbox_due ON TABLE outbox FIELDS status, next_attempt_at",
	"DEFINE INDEX IF NOT EXISTS idx_ledger_entries_account ON TABLE ledger_entries FIELDS account_id, created_at",
}

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	ledgerStore *LedgerStore
	outboxStore *OutboxStore
	ackStore    *AckStore
}

// NewManager connects to SurrealDB and ensures the schema exists.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	if err := defineSchema(ctx, db); err != nil {
		return nil, err
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}
	m.ledgerStore = NewLedgerStore(db, logger)
	m.outboxStore = NewOutboxStore(db, logger)
	m.ackStore = NewAckStore(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// defineSchema creates tables and indexes. Idempotent.
func defineSchema(ctx context.Context, db *surrealdb.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := surrealdb.Query[any](ctx, db, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply schema statement %q: %w", stmt, err)
		}
	}
	return nil
}

func (m *Manager) LedgerStore() interfaces.LedgerStore {
	return m.ledgerStore
}

func (m *Manager) OutboxStore() interfaces.OutboxStore {
	return m.outboxStore
}

func (m *Manager) AckStore() interfaces.AckStore {
	return m.ackStore
}

// Ping verifies the store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[int](ctx, m.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
