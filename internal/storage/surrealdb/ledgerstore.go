package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/models"
)

// Aliased field lists keep the driver's RecordID type out of decoded
// structs: every query selects explicit fields, never *.
const (
	journalSelectFields = "journal_id AS journalId, idempotency_key AS idempotencyKey, lines, status, created_at AS createdAt"
	accountSelectFields = "account_id AS id, currency, buckets, created_at, updated_at"
	entrySelectFields   = "journal_id, line_no, account_id, from_bucket, to_bucket, side, transition, amount, currency, created_at"
)

// LedgerStore implements interfaces.LedgerStore on SurrealDB.
type LedgerStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewLedgerStore(db *surrealdb.DB, logger *common.Logger) *LedgerStore {
	return &LedgerStore{db: db, logger: logger}
}

// PostJournal applies the journal as a single transaction script. The
// script is built statement by statement so every guard, audit append,
// and the outbox enqueue either all commit or all roll back. Aborts use
// THROW with a classifiable marker.
func (s *LedgerStore) PostJournal(ctx context.Context, j *models.Journal, opts interfaces.PostOptions) error {
	sql, vars, err := buildPostScript(j, opts)
	if err != nil {
		return err
	}

	res, qerr := surrealdb.Query[any](ctx, s.db, sql, vars)
	if qerr != nil {
		return classifyTxnError(qerr)
	}
	if res != nil {
		for i := range *res {
			if strings.EqualFold((*res)[i].Status, "ERR") {
				return classifyTxnError(fmt.Errorf("statement %d failed: %v", i, (*res)[i].Result))
			}
		}
	}
	return nil
}

// buildPostScript composes the SurrealQL transaction for a journal.
// Bucket names and line numbers are interpolated only after validation;
// everything caller-supplied travels as bound variables.
func buildPostScript(j *models.Journal, opts interfaces.PostOptions) (string, map[string]any, error) {
	var b strings.Builder
	vars := map[string]any{
		"journal_id":      j.JournalID,
		"idempotency_key": j.IdempotencyKey,
		"lines":           j.Lines,
		"currency":        j.Currency(),
		"topic":           models.TopicLedgerPosted,
		"outbox_id":       uuid.NewString(),
		"payload":         fmt.Sprintf(`{"journalId":%q}`, j.JournalID),
	}

	b.WriteString("BEGIN TRANSACTION;\n")

	// Header first: a unique-index collision on journal_id or
	// idempotency_key aborts before any balance is touched.
	b.WriteString("CREATE journals SET journal_id = $journal_id, idempotency_key = $idempotency_key, lines = $lines, status = 'pending', created_at = time::now();\n")

	for i := range j.Lines {
		line := &j.Lines[i]

		minor, err := models.ToMinorUnits(line.Amount.Amount)
		if err != nil {
			return "", nil, err
		}
		if !minor.IsInt64() {
			return "", nil, models.E(models.ErrInvalidAmount, "amount %s exceeds the representable range", line.Amount.Amount)
		}

		accKey := fmt.Sprintf("acc_%d", i)
		amtKey := fmt.Sprintf("amt_%d", i)
		vars[accKey] = line.AccountID
		vars[amtKey] = minor.Int64()
		vars[fmt.Sprintf("from_%d", i)] = string(line.FromBucket)
		vars[fmt.Sprintf("to_%d", i)] = string(line.ToBucket)
		vars[fmt.Sprintf("side_%d", i)] = string(line.Side)
		vars[fmt.Sprintf("transition_%d", i)] = string(line.Transition)
		vars[fmt.Sprintf("amtstr_%d", i)] = line.Amount.Amount

		// Lazy account creation. ??= leaves existing balances alone.
		fmt.Fprintf(&b, "UPSERT type::thing('accounts', $%s) SET account_id = $%s, currency ??= $currency, "+
			"buckets.available ??= 0, buckets.pending ??= 0, buckets.escrow ??= 0, buckets.outflow ??= 0, "+
			"created_at ??= time::now(), updated_at = time::now();\n", accKey, accKey)

		if line.IsNoOp() {
			// Balance-only line: audited, no bucket movement.
		} else {
			var sets []string
			guard := "currency = $currency"
			if line.FromBucket != "" {
				sets = append(sets, fmt.Sprintf("buckets.%s -= $%s", line.FromBucket, amtKey))
				if !opts.Overdraft[line.AccountID] {
					guard += fmt.Sprintf(" AND buckets.%s >= $%s", line.FromBucket, amtKey)
				}
			}
			if line.ToBucket != "" {
				sets = append(sets, fmt.Sprintf("buckets.%s += $%s", line.ToBucket, amtKey))
			}
			sets = append(sets, "updated_at = time::now()")

			fmt.Fprintf(&b, "LET $upd_%d = (UPDATE type::thing('accounts', $%s) SET %s WHERE %s RETURN AFTER);\n",
				i, accKey, strings.Join(sets, ", "), guard)
			fmt.Fprintf(&b, "IF $upd_%d == [] { THROW '%s: line %d cannot draw from %s on account ' + $%s };\n",
				i, throwInsufficientFunds, i+1, line.FromBucket, accKey)
		}

		fmt.Fprintf(&b, "CREATE ledger_entries SET journal_id = $journal_id, line_no = %d, account_id = $%s, "+
			"from_bucket = $from_%d, to_bucket = $to_%d, side = $side_%d, transition = $transition_%d, "+
			"amount = $amtstr_%d, currency = $currency, created_at = time::now();\n",
			i+1, accKey, i, i, i, i, i)
	}

	// Post-apply sweep over every touched non-overdraft account. Guards
	// above cover single lines; the sweep catches composite effects.
	var sweep []string
	for _, id := range j.TouchedAccounts() {
		if !opts.Overdraft[id] {
			sweep = append(sweep, id)
		}
	}
	if len(sweep) > 0 {
		vars["sweep"] = sweep
		b.WriteString("LET $bad = (SELECT VALUE account_id FROM accounts WHERE account_id IN $sweep AND " +
			"(buckets.available < 0 OR buckets.pending < 0 OR buckets.escrow < 0 OR buckets.outflow < 0));\n")
		fmt.Fprintf(&b, "IF $bad != [] { THROW '%s: accounts ' + <string> $bad + ' would go negative' };\n",
			throwNegativeBalance)
	}

	b.WriteString("CREATE type::thing('outbox', $outbox_id) SET item_id = $outbox_id, journal_id = $journal_id, " +
		"topic = $topic, payload = $payload, status = 'pending', attempts = 0, " +
		"next_attempt_at = time::now(), created_at = time::now(), updated_at = time::now();\n")

	b.WriteString("UPDATE journals SET status = 'posted' WHERE journal_id = $journal_id;\n")

	if opts.Chaos {
		// Fault injection: everything above must vanish on rollback.
		fmt.Fprintf(&b, "THROW '%s';\n", throwChaos)
	}

	b.WriteString("COMMIT TRANSACTION;\n")
	return b.String(), vars, nil
}

// FindJournal looks up a journal by idempotency key or journal id.
func (s *LedgerStore) FindJournal(ctx context.Context, idempotencyKey, journalID string) (*models.Journal, error) {
	sql := fmt.Sprintf("SELECT %s FROM journals WHERE idempotency_key = $key OR journal_id = $jid LIMIT 1", journalSelectFields)
	res, err := surrealdb.Query[[]models.Journal](ctx, s.db, sql, map[string]any{
		"key": idempotencyKey,
		"jid": journalID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find journal: %w", err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, nil
	}
	return &(*res)[0].Result[0], nil
}

// GetAccount returns an account by id, or nil when absent.
func (s *LedgerStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	sql := fmt.Sprintf("SELECT %s FROM accounts WHERE account_id = $id LIMIT 1", accountSelectFields)
	res, err := surrealdb.Query[[]models.Account](ctx, s.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, nil
	}
	return &(*res)[0].Result[0], nil
}

// AccountEntries returns audit entries for an account, oldest first.
func (s *LedgerStore) AccountEntries(ctx context.Context, accountID, currency string) ([]*models.LedgerEntry, error) {
	vars := map[string]any{"account_id": accountID}
	where := "account_id = $account_id"
	if currency != "" {
		where += " AND currency = $currency"
		vars["currency"] = currency
	}
	sql := fmt.Sprintf("SELECT %s FROM ledger_entries WHERE %s ORDER BY created_at ASC, line_no ASC", entrySelectFields, where)

	res, err := surrealdb.Query[[]models.LedgerEntry](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for account %s: %w", accountID, err)
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	entries := make([]*models.LedgerEntry, 0, len((*res)[0].Result))
	for i := range (*res)[0].Result {
		entries = append(entries, &(*res)[0].Result[i])
	}
	return entries, nil
}

var _ interfaces.LedgerStore = (*LedgerStore)(nil)
