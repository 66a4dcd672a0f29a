// Package amount converts leaderboard balance strings to exact base-unit
// integers. The feed reports balances as base-unit counts at 18 decimals,
// frequently in scientific notation ("1.351984E+25"); on-chain amounts are
// 9-decimal u64s. All scale conversion truncates toward zero, never rounds.
package amount

import (
	"math/big"
	"strings"
)

var ten = big.NewInt(10)

// Parse converts a decimal or scientific-notation amount string from
// sourceScale decimals to a base-unit integer at targetScale decimals.
// Malformed or negative input yields 0 so one bad feed row cannot abort a
// whole batch. Values that do not fit in a uint64 after conversion also
// yield 0.
func Parse(raw string, sourceScale, targetScale uint8) uint64 {
	coeff, exp, ok := decompose(strings.TrimSpace(raw))
	if !ok || coeff.Sign() < 0 {
		return 0
	}

	shift := exp + int(targetScale) - int(sourceScale)
	v := new(big.Int)
	if shift >= 0 {
		v.Mul(coeff, pow10(shift))
	} else {
		v.Quo(coeff, pow10(-shift))
	}

	if !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

// decompose parses raw into coefficient and base-10 exponent such that the
// denoted value equals coeff * 10^exp.
func decompose(raw string) (*big.Int, int, bool) {
	if raw == "" {
		return nil, 0, false
	}

	mantissa := raw
	exp := 0
	if i := strings.IndexAny(raw, "eE"); i >= 0 {
		mantissa = raw[:i]
		e, ok := parseExponent(raw[i+1:])
		if !ok {
			return nil, 0, false
		}
		exp = e
	}

	intPart := mantissa
	fracPart := ""
	if i := strings.IndexByte(mantissa, '.'); i >= 0 {
		intPart = mantissa[:i]
		fracPart = mantissa[i+1:]
	}

	digits := intPart + fracPart
	if digits == "" || digits == "-" || digits == "+" {
		return nil, 0, false
	}

	coeff, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, 0, false
	}
	return coeff, exp - len(fracPart), true
}

func parseExponent(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
		if n > 1_000_000 {
			return 0, false
		}
	}
	if neg {
		n = -n
	}
	return n, true
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// Format renders a base-unit integer as a human-readable decimal string.
// Trailing fractional zeros are stripped; whole values render with no
// decimal point.
func Format(v uint64, scale uint8) string {
	s := new(big.Int).SetUint64(v).String()
	if scale == 0 {
		return s
	}

	if len(s) <= int(scale) {
		s = strings.Repeat("0", int(scale)-len(s)+1) + s
	}
	cut := len(s) - int(scale)
	whole, frac := s[:cut], s[cut:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
