package currency

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testConverter(t *testing.T) *Converter {
	t.Helper()
	c, err := NewConverter("xaf", "usd", decimal.NewFromInt(600))
	if err != nil {
		t.Fatalf("new converter failed: %v", err)
	}
	return c
}

func TestToSettlementNeverRoundsDown(t *testing.T) {
	c := testConverter(t)

	cases := []struct {
		home string
		want string
	}{
		{home: "5000", want: "8.34"},
		{home: "6000", want: "10.00"},
		{home: "1", want: "0.01"},
		{home: "601", want: "1.01"},
		{home: "123457", want: "205.77"},
	}
	for _, tc := range cases {
		got := c.ToSettlement(decimal.RequireFromString(tc.home))
		if got.StringFixed(2) != tc.want {
			t.Fatalf("ToSettlement(%s) = %s, want %s", tc.home, got.StringFixed(2), tc.want)
		}
		if got.Mul(c.Rate).LessThan(decimal.RequireFromString(tc.home)) {
			t.Fatalf("ToSettlement(%s) under-charges: %s", tc.home, got)
		}
	}
}

func TestRoundTripStaysWithinOneMinorUnit(t *testing.T) {
	c := testConverter(t)
	bound := c.Rate.Div(decimal.NewFromInt(100)).Ceil()

	for home := int64(1); home <= 20000; home += 37 {
		original := decimal.NewFromInt(home)
		back := c.ToHome(c.ToSettlement(original))
		diff := back.Sub(original)
		if diff.IsNegative() {
			t.Fatalf("round trip of %d dropped below original: %s", home, back)
		}
		if diff.GreaterThan(bound) {
			t.Fatalf("round trip of %d drifted by %s (> %s)", home, diff, bound)
		}
	}
}

func TestToHomeRoundsToNearest(t *testing.T) {
	c, err := NewConverter("XAF", "USD", decimal.RequireFromString("655.957"))
	if err != nil {
		t.Fatalf("new converter failed: %v", err)
	}
	if got := c.ToHome(decimal.RequireFromString("1.00")); got.String() != "656" {
		t.Fatalf("expected 656, got %s", got)
	}
	if got := c.ToHome(decimal.RequireFromString("0.10")); got.String() != "66" {
		t.Fatalf("expected 66, got %s", got)
	}
}

func TestConvert(t *testing.T) {
	c := testConverter(t)

	same, err := c.Convert(decimal.RequireFromString("12.50"), "usd")
	if err != nil || same.String() != "12.5" {
		t.Fatalf("expected settlement amount unchanged, got %s err=%v", same, err)
	}
	if _, err := c.Convert(decimal.NewFromInt(1), "EUR"); err != ErrUnsupportedPair {
		t.Fatalf("expected ErrUnsupportedPair, got %v", err)
	}
}

func TestNewConverterRejectsNonPositiveRate(t *testing.T) {
	if _, err := NewConverter("XAF", "USD", decimal.Zero); err != ErrInvalidRate {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
}

func TestFormatAndParse(t *testing.T) {
	if got := Format(decimal.RequireFromString("5000"), "XAF"); got != "5000" {
		t.Fatalf("unexpected XAF format: %s", got)
	}
	if got := Format(decimal.RequireFromString("8.3"), "USD"); got != "8.30" {
		t.Fatalf("unexpected USD format: %s", got)
	}
	if _, err := Parse("10.5", "XAF"); err == nil {
		t.Fatal("expected fractional XAF to be rejected")
	}
	if v, err := Parse(" 10.25 ", "USD"); err != nil || v.String() != "10.25" {
		t.Fatalf("unexpected parse result %s err=%v", v, err)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("Licence renewal for technician", 22); got != "Licence renewal for te" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := Truncate("Frais é", 6); got != "Frais " {
		t.Fatalf("unexpected rune truncation: %q", got)
	}
	if got := Truncate("short", 22); got != "short" {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}
