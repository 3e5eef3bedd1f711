package book

import (
	"math/rand"
	"sort"
	"testing"
)

func TestLadderAscendingOrderAfterRandomInserts(t *testing.T) {
	t.Parallel()

	l := newLadder(false)
	prices := rand.New(rand.NewSource(1)).Perm(500)
	for _, p := range prices {
		l.Upsert(int64(p), float64(p))
	}

	var got []int64
	l.Ascend(func(price int64, size float64) bool {
		got = append(got, price)
		return true
	})

	if len(got) != len(prices) {
		t.Fatalf("got %d levels, want %d", len(got), len(prices))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("not ascending at index %d: %d <= %d", i, got[i], got[i-1])
		}
	}
}

func TestLadderDescendingBestTracksMax(t *testing.T) {
	t.Parallel()

	l := newLadder(true)
	values := []int64{10, 50, 30, 90, 20}
	for _, v := range values {
		l.Upsert(v, 1)
	}
	price, _, ok := l.Best()
	if !ok || price != 90 {
		t.Fatalf("Best() = (%d, ok=%v), want 90", price, ok)
	}

	l.Delete(90)
	price, _, ok = l.Best()
	if !ok || price != 50 {
		t.Fatalf("after deleting max, Best() = (%d, ok=%v), want 50", price, ok)
	}
}

func TestLadderUpsertUpdatesExistingLevel(t *testing.T) {
	t.Parallel()

	l := newLadder(false)
	l.Upsert(100, 5)
	l.Upsert(100, 9)
	if size, ok := l.Get(100); !ok || size != 9 {
		t.Fatalf("Get(100) = (%v, %v), want (9, true)", size, ok)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestLadderMatchesSortOrder(t *testing.T) {
	t.Parallel()

	src := rand.New(rand.NewSource(42))
	n := 300
	prices := make([]int64, n)
	seen := map[int64]bool{}
	for i := 0; i < n; i++ {
		var p int64
		for {
			p = src.Int63n(100000)
			if !seen[p] {
				seen[p] = true
				break
			}
		}
		prices[i] = p
	}

	l := newLadder(false)
	for _, p := range prices {
		l.Upsert(p, 1)
	}

	want := append([]int64(nil), prices...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	var got []int64
	l.Ascend(func(price int64, size float64) bool {
		got = append(got, price)
		return true
	})

	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
