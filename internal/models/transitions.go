package models

// Bucket is a named sub-balance on an account.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	BucketEscrow    Bucket = "escrow"
	BucketOutflow   Bucket = "outflow"
)

// Buckets lists all buckets in stable order.
var Buckets = []Bucket{BucketAvailable, BucketPending, BucketEscrow, BucketOutflow}

// ValidBucket reports whether s names a known bucket.
func ValidBucket(s string) bool {
	switch Bucket(s) {
	case BucketAvailable, BucketPending, BucketEscrow, BucketOutflow:
		return true
	}
	return false
}

// Transition is a named allowed movement of funds between two buckets.
type Transition string

const (
	TransitionReserve  Transition = "reserve"
	TransitionLock     Transition = "lock"
	TransitionFinalize Transition = "finalize"
	TransitionRelease  Transition = "release"
	TransitionRevert   Transition = "revert"
)

// ValidTransition reports whether s names a known transition.
func ValidTransition(s string) bool {
	switch Transition(s) {
	case TransitionReserve, TransitionLock, TransitionFinalize, TransitionRelease, TransitionRevert:
		return true
	}
	return false
}

// transitionRule defines the legal (from, to) pair for a transition.
// Lock is the only transition with a choice of source bucket.
type transitionRule struct {
	from []Bucket
	to   Bucket
}

// transitionRules is the single source of truth for legal money movements.
var transitionRules = map[Transition]transitionRule{
	TransitionReserve:  {from: []Bucket{BucketAvailable}, to: BucketPending},
	TransitionLock:     {from: []Bucket{BucketPending, BucketAvailable}, to: BucketEscrow},
	TransitionFinalize: {from: []Bucket{BucketEscrow}, to: BucketOutflow},
	TransitionRelease:  {from: []Bucket{BucketPending}, to: BucketAvailable},
	TransitionRevert:   {from: []Bucket{BucketEscrow}, to: BucketAvailable},
}

// ValidateLineBuckets checks a line's (fromBucket, toBucket) against the
// rules table. An explicit fromBucket == toBucket no-op balance line is
// accepted for any transition; its effect on balances is nil.
func ValidateLineBuckets(line *JournalLine) error {
	rule, ok := transitionRules[line.Transition]
	if !ok {
		return E(ErrInvalidTransition, "unknown transition %q on account %s", line.Transition, line.AccountID)
	}

	if line.FromBucket != "" && line.FromBucket == line.ToBucket {
		if !ValidBucket(string(line.FromBucket)) {
			return E(ErrInvalidBucket, "account %s: unknown bucket %q", line.AccountID, line.FromBucket)
		}
		return nil
	}

	if line.FromBucket == "" {
		return E(ErrMissingBucket, "account %s: transition %q requires fromBucket (expected %s)",
			line.AccountID, line.Transition, joinBuckets(rule.from))
	}
	if line.ToBucket == "" {
		return E(ErrMissingBucket, "account %s: transition %q requires toBucket (expected %s)",
			line.AccountID, line.Transition, rule.to)
	}

	fromOK := false
	for _, b := range rule.from {
		if line.FromBucket == b {
			fromOK = true
			break
		}
	}
	if !fromOK {
		return E(ErrInvalidBucket, "account %s: transition %q cannot move from %q (expected %s)",
			line.AccountID, line.Transition, line.FromBucket, joinBuckets(rule.from))
	}
	if line.ToBucket != rule.to {
		return E(ErrInvalidBucket, "account %s: transition %q cannot move to %q (expected %s)",
			line.AccountID, line.Transition, line.ToBucket, rule.to)
	}
	return nil
}

func joinBuckets(bs []Bucket) string {
	out := ""
	for i, b := range bs {
		if i > 0 {
			out += " or "
		}
		out += string(b)
	}
	return out
}
