package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Side is debit or credit; used only for the balance proof.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// Journal statuses.
const (
	JournalStatusPending = "pending"
	JournalStatusPosted  = "posted"
)

// Money is a decimal amount string paired with its ISO-4217 currency.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// JournalLine is one account, one transition, one amount, one side.
type JournalLine struct {
	AccountID  string     `json:"accountId"`
	Side       Side       `json:"side"`
	Transition Transition `json:"transition"`
	FromBucket Bucket     `json:"fromBucket,omitempty"`
	ToBucket   Bucket     `json:"toBucket,omitempty"`
	Amount     Money      `json:"amount"`
}

// IsNoOp reports whether the line is an explicit balance line with no
// bucket movement.
func (l *JournalLine) IsNoOp() bool {
	return l.FromBucket != "" && l.FromBucket == l.ToBucket
}

// Journal is a set of >= 2 lines posted atomically.
type Journal struct {
	JournalID      string        `json:"journalId"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Lines          []JournalLine `json:"lines"`
	Status         string        `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Currency returns the shared currency of the journal's lines. Valid only
// after Preflight has passed.
func (j *Journal) Currency() string {
	if len(j.Lines) == 0 {
		return ""
	}
	return j.Lines[0].Amount.Currency
}

// TouchedAccounts returns the distinct account ids referenced by the
// journal, in first-touch order.
func (j *Journal) TouchedAccounts() []string {
	seen := make(map[string]bool, len(j.Lines))
	var out []string
	for i := range j.Lines {
		id := j.Lines[i].AccountID
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ParseJournalRequest validates the shape of a raw journal request and
// returns a typed Journal. Issues are collected rather than failing on the
// first violation; a nil issue slice means the request is well-formed.
func ParseJournalRequest(raw []byte) (*Journal, []ValidationIssue) {
	var req struct {
		JournalID      string `json:"journalId"`
		IdempotencyKey string `json:"idempotencyKey"`
		Lines          []struct {
			AccountID  string `json:"accountId"`
			Side       string `json:"side"`
			Transition string `json:"transition"`
			FromBucket string `json:"fromBucket"`
			ToBucket   string `json:"toBucket"`
			Amount     struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"amount"`
		} `json:"lines"`
	}

	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, []ValidationIssue{{Path: "", Message: "invalid JSON: " + err.Error(), Code: "invalid_json"}}
	}

	var issues []ValidationIssue
	add := func(path, message, code string) {
		issues = append(issues, ValidationIssue{Path: path, Message: message, Code: code})
	}

	if strings.TrimSpace(req.JournalID) == "" {
		add("journalId", "journalId is required", "required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		add("idempotencyKey", "idempotencyKey is required", "required")
	}
	if len(req.Lines) < 2 {
		add("lines", "a journal requires at least 2 lines", "min_length")
	}

	j := &Journal{
		JournalID:      strings.TrimSpace(req.JournalID),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}

	for i, l := range req.Lines {
		path := fmt.Sprintf("lines[%d]", i)

		if strings.TrimSpace(l.AccountID) == "" {
			add(path+".accountId", "accountId is required", "required")
		}
		if l.Side != string(SideDebit) && l.Side != string(SideCredit) {
			add(path+".side", fmt.Sprintf("side must be debit or credit, got %q", l.Side), "enum")
		}
		if !ValidTransition(l.Transition) {
			add(path+".transition", fmt.Sprintf("unknown transition %q", l.Transition), "enum")
		}
		if l.FromBucket != "" && !ValidBucket(l.FromBucket) {
			add(path+".fromBucket", fmt.Sprintf("unknown bucket %q", l.FromBucket), "enum")
		}
		if l.ToBucket != "" && !ValidBucket(l.ToBucket) {
			add(path+".toBucket", fmt.Sprintf("unknown bucket %q", l.ToBucket), "enum")
		}
		if !currencyPattern.MatchString(l.Amount.Currency) {
			add(path+".amount.currency", fmt.Sprintf("currency must match ^[A-Z]{3}$, got %q", l.Amount.Currency), "pattern")
		}
		amount := CanonicalAmount(l.Amount.Amount)
		if !amountPattern.MatchString(amount) {
			add(path+".amount.amount", fmt.Sprintf("amount must match ^\\d+(\\.\\d{1,2})?$, got %q", l.Amount.Amount), "pattern")
		}

		j.Lines = append(j.Lines, JournalLine{
			AccountID:  strings.TrimSpace(l.AccountID),
			Side:       Side(l.Side),
			Transition: Transition(l.Transition),
			FromBucket: Bucket(l.FromBucket),
			ToBucket:   Bucket(l.ToBucket),
			Amount:     Money{Amount: amount, Currency: l.Amount.Currency},
		})
	}

	if issues != nil {
		return nil, issues
	}
	return j, nil
}

// Preflight runs the semantic checks that can be decided before opening a
// transaction: currency uniformity, bucket legality per line, and exact
// balance in minor units.
func (j *Journal) Preflight() error {
	currency := j.Lines[0].Amount.Currency
	for i := range j.Lines {
		if j.Lines[i].Amount.Currency != currency {
			return E(ErrCurrencyMismatch, "all lines must share one currency: line %d has %s, expected %s",
				i+1, j.Lines[i].Amount.Currency, currency)
		}
	}

	for i := range j.Lines {
		if err := ValidateLineBuckets(&j.Lines[i]); err != nil {
			return err
		}
	}

	balanced, err := LinesBalance(j.Lines)
	if err != nil {
		return err
	}
	if !balanced {
		return E(ErrUnbalanced, "journal %s is not balanced: debit and credit sums differ", j.JournalID)
	}
	return nil
}
