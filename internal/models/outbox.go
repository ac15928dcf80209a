package models

import "time"

// TopicLedgerPosted is the single outbox topic: one logical topic per
// journal.
const TopicLedgerPosted = "LedgerEvent.Posted"

// Outbox item statuses. sent is terminal; there is no path out of sent.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusSent       = "sent"
)

// OutboxItem is a durable post-commit event awaiting delivery. Created
// inside the posting transaction; exactly one per journal.
type OutboxItem struct {
	ID            string    `json:"id"`
	JournalID     string    `json:"journal_id"`
	Topic         string    `json:"topic"`
	Payload       string    `json:"payload"` // opaque JSON text
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OutboxRunSummary reports the outcome of one dispatcher run.
type OutboxRunSummary struct {
	Attempted      int `json:"attempted"`
	Sent           int `json:"sent"`
	Retried        int `json:"retried"`
	Pending        int `json:"pending"`
	PendingRetries int `json:"pendingRetries"`
}

// Ack is the consumer-side durable record that it processed an event,
// keyed by journal id.
type Ack struct {
	JournalID string    `json:"journal_id"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"` // opaque JSON text
	AckedAt   time.Time `json:"acked_at"`
}
