package security

import (
	"testing"

	"signalgraph-mm/pkg/types"
)

func secs(pairs ...string) []types.Security {
	out := make([]types.Security, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, types.Security{Product: pairs[i], Exchange: pairs[i+1]})
	}
	return out
}

func TestCreateAndLookup(t *testing.T) {
	ResetForTesting()
	defer ResetForTesting()

	list := secs("BTC-USD", "coinbase", "ETH-USD", "coinbase", "BTC-USD", "bitmex")
	m, err := Create(list)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}
	for i, sec := range list {
		idx, ok := m.ToIndex(sec)
		if !ok {
			t.Fatalf("ToIndex(%v) not found", sec)
		}
		if idx != Index(i) {
			t.Errorf("ToIndex(%v) = %d, want %d", sec, idx, i)
		}
		if got := m.Security(idx); got != sec {
			t.Errorf("Security(%d) = %v, want %v", idx, got, sec)
		}
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	ResetForTesting()
	defer ResetForTesting()

	_, err := Create(secs("BTC-USD", "coinbase", "BTC-USD", "coinbase"))
	if err == nil {
		t.Fatal("expected error for duplicate security")
	}
}

func TestCreateOnlyOncePerProcess(t *testing.T) {
	ResetForTesting()
	defer ResetForTesting()

	if _, err := Create(secs("BTC-USD", "coinbase")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := Create(secs("ETH-USD", "coinbase")); err == nil {
		t.Fatal("expected second Create in the same process to fail")
	}
}

func TestToIndexMissing(t *testing.T) {
	ResetForTesting()
	defer ResetForTesting()

	m, err := Create(secs("BTC-USD", "coinbase"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := m.ToIndex(types.Security{Product: "ETH-USD", Exchange: "coinbase"}); ok {
		t.Fatal("expected ToIndex to fail for security not in map")
	}
}
