package currency

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRate     = errors.New("conversion rate must be > 0")
	ErrUnsupportedPair = errors.New("currency pair is not supported")
)

var minorUnits = map[string]int32{
	"XAF": 0,
	"XOF": 0,
	"JPY": 0,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
}

// MinorUnits returns the number of decimal places used on the wire for code.
// Unknown codes default to 2.
func MinorUnits(code string) int32 {
	if places, ok := minorUnits[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return places
	}
	return 2
}

// Format renders amount with exactly the minor units of code.
func Format(amount decimal.Decimal, code string) string {
	return amount.StringFixed(MinorUnits(code))
}

// Parse reads a decimal string and rejects more precision than code allows.
func Parse(raw string, code string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.Equal(amount.Truncate(MinorUnits(code))) {
		return decimal.Zero, errors.New("amount has more decimals than the currency allows")
	}
	return amount, nil
}

// Converter applies a fixed rate between the platform home currency and a
// rail settlement currency. Rate is the number of home units per settlement unit.
type Converter struct {
	Home       string
	Settlement string
	Rate       decimal.Decimal
}

func NewConverter(home, settlement string, rate decimal.Decimal) (*Converter, error) {
	if !rate.IsPositive() {
		return nil, ErrInvalidRate
	}
	return &Converter{
		Home:       strings.ToUpper(strings.TrimSpace(home)),
		Settlement: strings.ToUpper(strings.TrimSpace(settlement)),
		Rate:       rate,
	}, nil
}

// ToSettlement converts a home amount into the settlement currency, rounding
// up to the settlement minor unit so the payer is never under-charged.
func (c *Converter) ToSettlement(amount decimal.Decimal) decimal.Decimal {
	return amount.DivRound(c.Rate, 16).RoundCeil(MinorUnits(c.Settlement))
}

// ToHome converts a settlement amount back, rounding to the nearest home unit.
func (c *Converter) ToHome(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(c.Rate).Round(MinorUnits(c.Home))
}

// Convert moves amount from currency "from" into the settlement currency.
// Amounts already in the settlement currency are returned unchanged.
func (c *Converter) Convert(amount decimal.Decimal, from string) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	switch from {
	case c.Settlement:
		return amount, nil
	case c.Home:
		return c.ToSettlement(amount), nil
	default:
		return decimal.Zero, ErrUnsupportedPair
	}
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
