package models

import (
	"math/big"
	"regexp"
	"strings"
)

// amountPattern matches a non-negative decimal with at most two fraction
// digits. Applied after canonicalization.
var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// CanonicalAmount strips leading zeros and an all-zero fractional part.
// Malformed input is returned unchanged so the schema layer can reject it
// with a proper field path.
func CanonicalAmount(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}

	intPart := t
	fracPart := ""
	if idx := strings.IndexByte(t, '.'); idx >= 0 {
		intPart = t[:idx]
		fracPart = t[idx+1:]
	}

	for _, r := range intPart {
		if r < '0' || r > '9' {
			return s
		}
	}
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return s
		}
	}

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}

	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// ToMinorUnits converts a canonical decimal string into exact integer
// minor units (cents). Fails with InvalidAmount when the input does not
// match the amount grammar.
func ToMinorUnits(s string) (*big.Int, error) {
	c := CanonicalAmount(s)
	if !amountPattern.MatchString(c) {
		return nil, E(ErrInvalidAmount, "invalid amount %q: must match ^\\d+(\\.\\d{1,2})?$", s)
	}

	intPart := c
	fracPart := ""
	if idx := strings.IndexByte(c, '.'); idx >= 0 {
		intPart = c[:idx]
		fracPart = c[idx+1:]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	v, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, E(ErrInvalidAmount, "invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, E(ErrInvalidAmount, "amount %q must not be negative", s)
	}
	return v, nil
}

// LinesBalance sums +amount for debit lines and -amount for credit lines
// in exact minor units. True iff the sum is exactly zero.
func LinesBalance(lines []JournalLine) (bool, error) {
	sum := new(big.Int)
	for i := range lines {
		minor, err := ToMinorUnits(lines[i].Amount.Amount)
		if err != nil {
			return false, err
		}
		if lines[i].Side == SideDebit {
			sum.Add(sum, minor)
		} else {
			sum.Sub(sum, minor)
		}
	}
	return sum.Sign() == 0, nil
}
