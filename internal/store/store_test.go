package store

import (
	"testing"

	"signalgraph-mm/internal/inventory"
	"signalgraph-mm/pkg/types"
)

var testSec = types.Security{Product: "BTC-USD", Exchange: "test"}

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := inventory.Position{
		Qty:         10.5,
		AvgEntry:    55,
		RealizedPnL: 1.23,
	}

	if err := s.SavePosition(testSec, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPosition(testSec)
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadPosition returned nil")
	}

	if loaded.Qty != pos.Qty {
		t.Errorf("Qty = %v, want %v", loaded.Qty, pos.Qty)
	}
	if loaded.AvgEntry != pos.AvgEntry {
		t.Errorf("AvgEntry = %v, want %v", loaded.AvgEntry, pos.AvgEntry)
	}
	if loaded.RealizedPnL != pos.RealizedPnL {
		t.Errorf("RealizedPnL = %v, want %v", loaded.RealizedPnL, pos.RealizedPnL)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPosition(types.Security{Product: "NOPE", Exchange: "nowhere"})
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos1 := inventory.Position{Qty: 10}
	pos2 := inventory.Position{Qty: 20}

	_ = s.SavePosition(testSec, pos1)
	_ = s.SavePosition(testSec, pos2)

	loaded, err := s.LoadPosition(testSec)
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded.Qty != 20 {
		t.Errorf("Qty = %v, want 20 (latest save)", loaded.Qty)
	}
}
