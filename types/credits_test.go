package types

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCreditsConstructors(t *testing.T) {
	tests := []struct {
		name    string
		credits Credits
		raw     int64
		display string
	}{
		{"Whole", FromMajor(100), 10000, "100.00 cr"},
		{"Zero", Zero, 0, "0.00 cr"},
		{"Negative", FromMajor(-25), -2500, "-25.00 cr"},
		{"Parsed fraction", MustParseCredits("12.5"), 1250, "12.50 cr"},
		{"Parsed cents", MustParseCredits("0.04"), 4, "0.04 cr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.credits.Hundredths() != tt.raw {
				t.Errorf("Hundredths: got %d, want %d", tt.credits.Hundredths(), tt.raw)
			}
			if tt.credits.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.credits.String(), tt.display)
			}
		})
	}
}

func TestCreditsArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Credits
		expected Credits
	}{
		{"Add", func() Credits { return FromMajor(100).Add(FromMajor(25)) }, FromMajor(125)},
		{"Subtract", func() Credits { return FromMajor(100).Subtract(FromMajor(25)) }, FromMajor(75)},
		{"Multiply", func() Credits { return FromMajor(1).Multiply(4) }, FromMajor(4)},
		{"Negate", func() Credits { return FromMajor(4).Negate() }, FromMajor(-4)},
		{"Abs", func() Credits { return FromMajor(-4).Abs() }, FromMajor(4)},
		{"Times five", func() Credits { return mul(FromMajor(25), decimal.NewFromInt(5)) }, FromMajor(125)},
		{"Times zero", func() Credits { return mul(FromMajor(25), decimal.Zero) }, Zero},
		{"Half even down", func() Credits { return mul(Credits(5), decimal.RequireFromString("0.5")) }, Credits(2)},
		{"Half even up", func() Credits { return mul(Credits(7), decimal.RequireFromString("0.5")) }, Credits(4)},
		{"Sum", func() Credits { return Sum(FromMajor(1), FromMajor(2), Credits(-50)) }, Credits(250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(); got != tt.expected {
				t.Errorf("Got %v, want %v", got, tt.expected)
			}
		})
	}
}

func mul(c Credits, factor decimal.Decimal) Credits {
	got, err := c.MultiplyDecimal(factor)
	if err != nil {
		panic(err)
	}
	return got
}

func TestCreditsOverflow(t *testing.T) {
	max := Credits(math.MaxInt64)

	tests := []struct {
		name string
		op   func() error
	}{
		{"Parse wraps past int64", func() error { _, err := ParseCredits("184467440737095517.16"); return err }},
		{"Parse just past max", func() error { _, err := ParseCredits("92233720368547758.08"); return err }},
		{"Parse just past min", func() error { _, err := ParseCredits("-92233720368547758.09"); return err }},
		{"Decimal out of range", func() error { _, err := FromDecimal(decimal.RequireFromString("1e30")); return err }},
		{"Multiply past max", func() error { _, err := max.MultiplyDecimal(decimal.NewFromInt(2)); return err }},
		{"Add past max", func() error { _, err := max.CheckedAdd(Credits(1)); return err }},
		{"Add past min", func() error { _, err := Credits(math.MinInt64).CheckedAdd(Credits(-1)); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrOverflow) {
				t.Errorf("expected ErrOverflow, got %v", err)
			}
		})
	}

	if c, err := ParseCredits("92233720368547758.07"); err != nil || c != max {
		t.Errorf("largest amount: got %v, %v", c, err)
	}
	if c, err := max.CheckedAdd(Credits(-1)); err != nil || c != max-1 {
		t.Errorf("CheckedAdd within range: got %v, %v", c, err)
	}

	var decoded struct {
		Amount Credits `json:"amount"`
	}
	if err := json.Unmarshal([]byte(`{"amount":184467440737095517.16}`), &decoded); !errors.Is(err, ErrOverflow) {
		t.Errorf("Unmarshal: expected ErrOverflow, got %v", err)
	}
}

func TestParseCreditsRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.005", "1e-3"} {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseCredits(in); err == nil {
				t.Errorf("ParseCredits(%q): expected error", in)
			}
		})
	}
}

func TestCreditsComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Credits
		less    bool
		greater bool
	}{
		{"Equal", FromMajor(1), FromMajor(1), false, false},
		{"Less", FromMajor(1), FromMajor(2), true, false},
		{"Greater", FromMajor(2), FromMajor(1), false, true},
		{"Negative less", FromMajor(-1), Zero, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.GreaterThan(tt.b); got != tt.greater {
				t.Errorf("GreaterThan: got %v, want %v", got, tt.greater)
			}
		})
	}
}

func TestCreditsJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Credits `json:"amount"`
	}{FromMajor(-25)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"amount":"-25.00"}` {
		t.Errorf("Marshal: got %s", data)
	}

	var decoded struct {
		A Credits `json:"a"`
		B Credits `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":12.5,"b":"3"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.A != Credits(1250) || decoded.B != FromMajor(3) {
		t.Errorf("Unmarshal: got %v %v", decoded.A, decoded.B)
	}
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2026, 3, 17, 13, 4, 5, 6, time.UTC))
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("MonthStart: got %v, want %v", got, want)
	}
}
