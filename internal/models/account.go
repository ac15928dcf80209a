package models

import "time"

// BucketBalances holds the four sub-balances of an account in integer
// minor units.
type BucketBalances struct {
	Available int64 `json:"available"`
	Pending   int64 `json:"pending"`
	Escrow    int64 `json:"escrow"`
	Outflow   int64 `json:"outflow"`
}

// Get returns the balance of the named bucket.
func (b *BucketBalances) Get(bucket Bucket) int64 {
	switch bucket {
	case BucketAvailable:
		return b.Available
	case BucketPending:
		return b.Pending
	case BucketEscrow:
		return b.Escrow
	case BucketOutflow:
		return b.Outflow
	}
	return 0
}

// AnyNegative reports whether any bucket is below zero.
func (b *BucketBalances) AnyNegative() bool {
	return b.Available < 0 || b.Pending < 0 || b.Escrow < 0 || b.Outflow < 0
}

// Account is a named holder of money partitioned into four buckets in one
// currency. Created lazily on first reference by a posting, never deleted.
type Account struct {
	ID        string         `json:"id"`
	Currency  string         `json:"currency"`
	Buckets   BucketBalances `json:"buckets"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LedgerEntry is one append-only audit record per line of a committed
// journal.
type LedgerEntry struct {
	JournalID  string     `json:"journal_id"`
	LineNo     int        `json:"line_no"`
	AccountID  string     `json:"account_id"`
	FromBucket Bucket     `json:"from_bucket,omitempty"`
	ToBucket   Bucket     `json:"to_bucket,omitempty"`
	Side       Side       `json:"side"`
	Transition Transition `json:"transition"`
	Amount     string     `json:"amount"`
	Currency   string     `json:"currency"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HistoryItem is one row of the account-history projection.
type HistoryItem struct {
	Transition Transition `json:"transition"`
	Amount     string     `json:"amount"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AccountHistory is the chronological projection over the audit log for
// one account.
type AccountHistory struct {
	AccountID string        `json:"accountId"`
	Currency  string        `json:"currency"`
	History   []HistoryItem `json:"history"`
}
