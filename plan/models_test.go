package plan

import (
	"testing"

	"github.com/xraph/coffer/types"
)

func TestSplit(t *testing.T) {
	capped := Plan{Tier: "free", MonthlyAllowance: 100, OverageUnitCost: types.FromMajor(1)}
	unlimited := Plan{Tier: "ent", MonthlyAllowance: Unlimited}

	tests := []struct {
		name        string
		plan        Plan
		used, count int64
		covered     int64
		overage     int64
	}{
		{"All covered", capped, 10, 5, 5, 0},
		{"Straddles allowance", capped, 99, 5, 1, 4},
		{"Exhausted", capped, 100, 3, 0, 3},
		{"Over-used", capped, 120, 2, 0, 2},
		{"Zero allowance", Plan{Tier: "payg"}, 0, 2, 0, 2},
		{"Unlimited", unlimited, 1 << 40, 7, 7, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			covered, overage := tt.plan.Split(tt.used, tt.count)
			if covered != tt.covered || overage != tt.overage {
				t.Errorf("Split: got (%d, %d), want (%d, %d)", covered, overage, tt.covered, tt.overage)
			}
		})
	}
}

func TestNewCatalog(t *testing.T) {
	if _, err := NewCatalog(Plan{Tier: "a"}, Plan{Tier: "a"}); err == nil {
		t.Error("expected duplicate tier error")
	}
	if _, err := NewCatalog(Plan{Tier: "a", MonthlyAllowance: -2}); err == nil {
		t.Error("expected allowance error")
	}
	if _, err := NewCatalog(Plan{Tier: "a", OverageUnitCost: types.FromMajor(-1)}); err == nil {
		t.Error("expected cost error")
	}

	c := DefaultCatalog()
	if _, ok := c.Get("free"); !ok {
		t.Error("default catalog should include free")
	}
	if got := len(c.List()); got != 3 {
		t.Errorf("List: got %d plans, want 3", got)
	}
}
