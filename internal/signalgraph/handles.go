package signalgraph

import (
	"math/bits"

	"signalgraph-mm/internal/book"
	"signalgraph-mm/pkg/types"
)

// MaxAggregateSize is the largest number of members an aggregate input may
// fan in. It bounds the aggregate-changed mask to a single uint64 so
// IterChanged can walk it with TrailingZeros64 instead of a general
// multi-word scan.
const MaxAggregateSize = 64

// bitsetWordBits is the word width of the valid/written bitsets.
const bitsetWordBits = 64

// padWords is appended to every bitset beyond what output slots require.
// The original engine reserved this so word-at-a-time bulk clears could
// safely overread past the last live slot; this port keeps the same
// reservation even though Go's clear loop is scalar, so the arena's shape
// still matches the source design.
const padWords = 32

func wordIndex(slot uint16) int { return int(slot) / bitsetWordBits }
func bitMask(slot uint16) uint64 { return uint64(1) << (uint(slot) % bitsetWordBits) }

func getBit(bitset []uint64, slot uint16) bool {
	return bitset[wordIndex(slot)]&bitMask(slot) != 0
}

func setBit(bitset []uint64, slot uint16) {
	bitset[wordIndex(slot)] |= bitMask(slot)
}

func clearBit(bitset []uint64, slot uint16) {
	bitset[wordIndex(slot)] &^= bitMask(slot)
}

// Mem is the graph's arena: one flat value array shared by every node,
// plus two parallel bitsets recording which slots currently hold a value,
// i.e. whose last write was a Set rather than a MarkInvalid (valid), and
// which were written during the current walk (written). Consumer/Aggregate
// handles hold only a slot index or a range into aggregateMapping, and
// every access takes the *Mem explicitly, so node structs never hold the
// arena directly.
type Mem struct {
	values           []float64
	valid            []uint64
	written          []uint64
	books            []*book.Book // indexed by security.Index
	aggregateMapping []uint16     // shared backing array for all AggregateInput ranges
}

func NewMem(numSlots int, numSecurities int) *Mem {
	words := (numSlots+bitsetWordBits-1)/bitsetWordBits + padWords
	books := make([]*book.Book, numSecurities)
	for i := range books {
		books[i] = book.New()
	}
	return &Mem{
		values:  make([]float64, numSlots),
		valid:   make([]uint64, words),
		written: make([]uint64, words),
		books:   books,
	}
}

// ConsumerInput reads a single upstream output's value for the duration
// of one graph walk.
type ConsumerInput struct {
	which uint16
}

// Get returns the value at the referenced slot, and whether the slot is
// currently valid (its last write was a value, not an invalidation).
func (c ConsumerInput) Get(m *Mem) (float64, bool) {
	if !getBit(m.valid, c.which) {
		return 0, false
	}
	return m.values[c.which], true
}

// IsValid reports whether the referenced slot currently holds a value.
func (c ConsumerInput) IsValid(m *Mem) bool { return getBit(m.valid, c.which) }

// WasWritten reports whether the referenced slot was written during the
// current walk (as opposed to holding a stale value from a prior walk).
func (c ConsumerInput) WasWritten(m *Mem) bool { return getBit(m.written, c.which) }

// And reads two consumer inputs together, succeeding only if both are
// currently valid. This mirrors the common pattern of a binary node that
// only produces a result when every input has a value.
func (c ConsumerInput) And(other ConsumerInput, m *Mem) (a, b float64, ok bool) {
	av, aok := c.Get(m)
	bv, bok := other.Get(m)
	if !aok || !bok {
		return 0, 0, false
	}
	return av, bv, true
}

// ConsumerOutput is the write side of a node's declared output slot.
type ConsumerOutput struct {
	which uint16
}

// Get reads the output's own current value, the way a downstream
// Consumer input would see it. Used by nodes (like Ema) that need their
// own previous value to compute the next one.
func (c ConsumerOutput) Get(m *Mem) (float64, bool) {
	if !getBit(m.valid, c.which) {
		return 0, false
	}
	return m.values[c.which], true
}

// Set writes v to the slot and marks it valid and written for this walk.
func (c ConsumerOutput) Set(m *Mem, v float64) {
	m.values[c.which] = v
	setBit(m.valid, c.which)
	setBit(m.written, c.which)
}

// SetFrom writes v if ok is true, and invalidates the slot otherwise:
// a node with no result this walk must not leave a stale valid reading
// for downstream consumers to pick up.
func (c ConsumerOutput) SetFrom(m *Mem, v float64, ok bool) {
	if ok {
		c.Set(m, v)
	} else {
		c.MarkInvalid(m)
	}
}

// MarkValid marks the slot valid without changing its value or the
// written bit. Used by nodes that write through a side channel outside
// the normal Set/SetFrom path.
func (c ConsumerOutput) MarkValid(m *Mem) { setBit(m.valid, c.which) }

// MarkInvalid clears the valid bit and sets the written bit: the slot
// was visited this walk but produced no usable value, so downstream
// consumers must stop treating its old value as current.
func (c ConsumerOutput) MarkInvalid(m *Mem) {
	clearBit(m.valid, c.which)
	setBit(m.written, c.which)
}

// ConsumerWatcher reads a slot from outside the call list — e.g. an
// observer callback invoked after a walk completes — without
// participating in reachability/topological-sort as a dependency edge.
type ConsumerWatcher struct {
	which uint16
}

func (c ConsumerWatcher) Get(m *Mem) (float64, bool) {
	if !getBit(m.valid, c.which) {
		return 0, false
	}
	return m.values[c.which], true
}

func (c ConsumerWatcher) IsValid(m *Mem) bool    { return getBit(m.valid, c.which) }
func (c ConsumerWatcher) WasWritten(m *Mem) bool { return getBit(m.written, c.which) }

// AggregateInput fans in a bounded set of upstream outputs. It stores
// only the [start, end) range into the graph's single shared
// aggregateMapping array, never a private copy — the mapping array lives
// once on Mem and every AggregateInput just indexes into it.
type AggregateInput struct {
	start, end uint16
}

// Len returns the number of members wired to this aggregate input.
func (a AggregateInput) Len() int { return int(a.end - a.start) }

// AggregateIter walks the subset of an aggregate's members that were
// written during the current walk, in ascending member-position order.
type AggregateIter struct {
	m     *Mem
	base  uint16
	mask  uint64
}

// IterChanged returns an iterator over the members of a that were
// written during the current walk. Building the mask costs O(members);
// advancing the iterator is O(1) amortized via TrailingZeros64.
func (a AggregateInput) IterChanged(m *Mem) AggregateIter {
	var mask uint64
	n := a.Len()
	for i := 0; i < n; i++ {
		slot := m.aggregateMapping[int(a.start)+i]
		if getBit(m.written, slot) {
			mask |= uint64(1) << uint(i)
		}
	}
	return AggregateIter{m: m, base: a.start, mask: mask}
}

// Get returns the value of the i-th member regardless of whether it was
// written during the current walk — useful for nodes that need every
// member's last-known value (e.g. a size-weighted cross-security
// average), not just the ones that moved this walk.
func (a AggregateInput) Get(i int, m *Mem) (float64, bool) {
	slot := m.aggregateMapping[int(a.start)+i]
	if !getBit(m.valid, slot) {
		return 0, false
	}
	return m.values[slot], true
}

// Next returns the next changed member's value, or ok=false once
// exhausted.
func (it *AggregateIter) Next() (float64, bool) {
	if it.mask == 0 {
		return 0, false
	}
	i := bits.TrailingZeros64(it.mask)
	it.mask &= it.mask - 1
	slot := it.m.aggregateMapping[int(it.base)+i]
	return it.m.values[slot], true
}

// BookViewer is the read-only handle a node uses to inspect the order
// book of the security it is attached to.
type BookViewer struct {
	b *book.Book
}

func (v BookViewer) Bbo() book.BBO { return v.b.Bbo() }

func (v BookViewer) AscendBids(fn func(price types.PriceCents, size float64) bool) {
	v.b.AscendBids(fn)
}

func (v BookViewer) AscendAsks(fn func(price types.PriceCents, size float64) bool) {
	v.b.AscendAsks(fn)
}
