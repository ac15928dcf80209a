package surrealdb

import (
	"strings"

	"github.com/tallyhq/tally/internal/models"
)

// Tokens thrown inside transaction scripts to abort with a classifiable
// cause. The driver surfaces THROW as an opaque error string, so each
// abort path embeds one of these markers.
const (
	throwInsufficientFunds = "TALLY:INSUFFICIENT_FUNDS"
	throwNegativeBalance   = "TALLY:NEGATIVE_BALANCE"
	throwChaos             = "TALLY:CHAOS"
)

// Unique index names defined in schemaStatements. Duplicate-key errors
// from SurrealDB name the violated index, which lets us tell an
// idempotency collision apart from everything else.
var uniqueIndexNames = []string{
	"uniq_journals_journal_id",
	"uniq_journals_idempotency_key",
	"uniq_events_acks_journal_id",
}

// isDuplicateKey reports whether err is a unique-index or record-id
// collision on one of our tables.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "already contains") {
		for _, idx := range uniqueIndexNames {
			if strings.Contains(msg, idx) {
				return true
			}
		}
	}
	// Record-id collisions ("already exists") cover tables keyed by a
	// natural id, such as events_acks.
	return strings.Contains(msg, "already exists")
}

// classifyTxnError maps a failed transaction script to a domain error.
// Ordering matters: chaos is checked first because a chaos abort happens
// after all guards passed.
func classifyTxnError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, throwChaos):
		return models.E(models.ErrChaos, "transaction aborted by fault injection")
	case strings.Contains(msg, throwInsufficientFunds):
		return models.E(models.ErrInsufficientFunds, "%s", extractThrowMessage(msg, throwInsufficientFunds))
	case strings.Contains(msg, throwNegativeBalance):
		return models.E(models.ErrNegativeBalance, "%s", extractThrowMessage(msg, throwNegativeBalance))
	case isDuplicateKey(err):
		return models.E(models.ErrDuplicateKey, "journal already recorded")
	}
	return models.E(models.ErrInternal, "transaction failed: %s", msg)
}

// extractThrowMessage pulls the human-readable tail of a thrown marker
// out of the driver's error string.
func extractThrowMessage(msg, token string) string {
	idx := strings.Index(msg, token)
	if idx < 0 {
		return msg
	}
	rest := strings.TrimPrefix(msg[idx:], token)
	rest = strings.TrimLeft(rest, ": ")
	// The driver may append context after the thrown string; cut at the
	// first quote or newline.
	if cut := strings.IndexAny(rest, "'\"\n"); cut >= 0 {
		rest = rest[:cut]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "transaction aborted"
	}
	return rest
}
