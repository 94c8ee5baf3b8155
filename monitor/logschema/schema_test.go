package logschema

import "testing"

func TestValidate(t *testing.T) {
	err := Validate("grid_rearm", map[string]interface{}{
		"strategyId": "g-1",
		"level":      "3",
		"side":       "SELL",
		"price":      "115",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = Validate("grid_rearm", map[string]interface{}{
		"strategyId": "g-1",
		"level":      "",
	})
	if err == nil {
		t.Fatalf("expected error for missing fields")
	}
	if err := Validate("not_registered", nil); err != nil {
		t.Fatalf("unknown events are not validated: %v", err)
	}
}

func TestKnownEvents(t *testing.T) {
	names := Known()
	if len(names) == 0 {
		t.Fatalf("expected non-empty schema list")
	}
	found := false
	for _, n := range names {
		if n == "strategy_status" {
			found = true
		}
	}
	if !found {
		t.Fatalf("strategy_status not found in schemas")
	}
}
