// Package drusd provides shared parsing and formatting for relief token
// amounts.
//
// drUSD uses 6 decimal places. All amounts are stored as big.Int in the
// smallest unit (1 drUSD = 1,000,000 units), which is also the scale the
// on-chain contracts expect.
package drusd

import (
	"math/big"
	"strings"
)

const Decimals = 6

// unit is 10^Decimals, the scaling factor between drUSD and minor units.
var unit = big.NewInt(1_000_000)

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (1500000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 6 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 6 decimal places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Add sums two decimal strings without floating-point drift.
// Returns ("", false) if either input is invalid.
func Add(a, b string) (string, bool) {
	x, ok := Parse(a)
	if !ok {
		return "", false
	}
	y, ok := Parse(b)
	if !ok {
		return "", false
	}
	return Format(new(big.Int).Add(x, y)), true
}

// Sub computes a-b as a decimal string. Returns ("", false) on invalid
// input or a negative result.
func Sub(a, b string) (string, bool) {
	x, ok := Parse(a)
	if !ok {
		return "", false
	}
	y, ok := Parse(b)
	if !ok {
		return "", false
	}
	diff := new(big.Int).Sub(x, y)
	if diff.Sign() < 0 {
		return "", false
	}
	return Format(diff), true
}

// Cmp compares two decimal strings (-1, 0, +1). Returns (0, false) if
// either input is invalid.
func Cmp(a, b string) (int, bool) {
	x, ok := Parse(a)
	if !ok {
		return 0, false
	}
	y, ok := Parse(b)
	if !ok {
		return 0, false
	}
	return x.Cmp(y), true
}

// ToFloat converts a smallest-unit big.Int to a float64 drUSD amount.
// Only for statistics and scoring; ledger arithmetic stays on big.Int.
func ToFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		new(big.Float).SetInt(unit),
	).Float64()
	return f
}
