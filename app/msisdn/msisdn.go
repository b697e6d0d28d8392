// Package msisdn normalizes subscriber phone numbers and maps them to the
// mobile-money operator that owns their prefix range.
package msisdn

import (
	"errors"
	"strings"
)

const (
	CountryCode       = "237"
	localNumberLength = 9

	OperatorMTN        = "MTN"
	OperatorOrange     = "ORANGE"
	OperatorUndetected = ""
)

var ErrInvalidNumber = errors.New("invalid phone number")

type prefixRange struct {
	from int
	to   int
}

// Three-digit local prefixes owned by each operator. Ranges are disjoint.
var operatorRanges = map[string][]prefixRange{
	OperatorMTN: {
		{from: 650, to: 654},
		{from: 670, to: 679},
		{from: 680, to: 684},
	},
	OperatorOrange: {
		{from: 640, to: 640},
		{from: 655, to: 659},
		{from: 690, to: 699},
	},
}

// Normalize returns the number in canonical international form (country code
// followed by the local number, digits only).
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "00")

	switch {
	case len(digits) == localNumberLength:
		return CountryCode + digits, nil
	case len(digits) == len(CountryCode)+localNumberLength && strings.HasPrefix(digits, CountryCode):
		return digits, nil
	default:
		return "", ErrInvalidNumber
	}
}

// LocalPart strips the country code from a normalized number.
func LocalPart(normalized string) string {
	return strings.TrimPrefix(normalized, CountryCode)
}

// DetectOperator returns the operator code for raw, or OperatorUndetected when
// the number is malformed or its prefix is outside every known range.
func DetectOperator(raw string) string {
	normalized, err := Normalize(raw)
	if err != nil {
		return OperatorUndetected
	}
	local := LocalPart(normalized)
	prefix := 0
	for _, r := range local[:3] {
		prefix = prefix*10 + int(r-'0')
	}

	for operator, ranges := range operatorRanges {
		for _, rng := range ranges {
			if prefix >= rng.from && prefix <= rng.to {
				return operator
			}
		}
	}
	return OperatorUndetected
}

func IsKnownOperator(code string) bool {
	_, ok := operatorRanges[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}
