package quic

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// diet is a Discrete Interval Encoding Tree: an ordered set of disjoint,
// non-adjacent closed intervals [lo,hi] over uint64 keys, each interval
// carrying the time of its most recent insert.
//
// Backed by a sorted slice and binary search rather than a splay tree,
// following golang.org/x/net/internal/quic's rangeset.go: the number of
// disjoint ranges in practice is small (bounded by reordering depth, not
// by the total number of packets ever received), so a slice beats
// pointer-chasing without sacrificing near-logarithmic lookup.
type diet struct {
	ivals []Interval
}

type Interval struct {
	lo, hi uint64
	t      time.Time
}

func (iv Interval) String() string {
	if iv.lo == iv.hi {
		return fmt.Sprintf("%d", iv.lo)
	}
	return fmt.Sprintf("%d..%d", iv.lo, iv.hi)
}

// find returns the index of the interval containing n, and true, or the
// index at which an interval containing n would be inserted, and false.
func (d *diet) find(n uint64) (int, bool) {
	i := sort.Search(len(d.ivals), func(i int) bool {
		return d.ivals[i].hi >= n
	})
	if i < len(d.ivals) && d.ivals[i].lo <= n {
		return i, true
	}
	return i, false
}

// insert ensures n is a member of the set, stamping the touched interval
// with t, and returns the (possibly merged) interval now containing n.
func (d *diet) insert(n uint64, t time.Time) Interval {
	i, ok := d.find(n)
	if ok {
		d.ivals[i].t = t
		return d.ivals[i]
	}

	// Does n extend the interval immediately before insertion point i?
	extendsLeft := i > 0 && d.ivals[i-1].hi+1 == n
	// Does n extend the interval immediately at/after insertion point i?
	extendsRight := i < len(d.ivals) && d.ivals[i].lo == n+1

	switch {
	case extendsLeft && extendsRight:
		d.ivals[i-1].hi = d.ivals[i].hi
		d.ivals[i-1].t = t
		d.ivals = append(d.ivals[:i], d.ivals[i+1:]...)
		return d.ivals[i-1]
	case extendsLeft:
		d.ivals[i-1].hi = n
		d.ivals[i-1].t = t
		return d.ivals[i-1]
	case extendsRight:
		d.ivals[i].lo = n
		d.ivals[i].t = t
		return d.ivals[i]
	default:
		niv := Interval{lo: n, hi: n, t: t}
		d.ivals = append(d.ivals, Interval{})
		copy(d.ivals[i+1:], d.ivals[i:])
		d.ivals[i] = niv
		return niv
	}
}

// remove ensures n is not a member of the set. No-op if absent.
func (d *diet) remove(n uint64) {
	i, ok := d.find(n)
	if !ok {
		return
	}
	iv := d.ivals[i]
	switch {
	case iv.lo == iv.hi:
		d.ivals = append(d.ivals[:i], d.ivals[i+1:]...)
	case n == iv.lo:
		d.ivals[i].lo = n + 1
	case n == iv.hi:
		d.ivals[i].hi = n - 1
	default:
		left := Interval{lo: iv.lo, hi: n - 1, t: iv.t}
		right := Interval{lo: n + 1, hi: iv.hi, t: iv.t}
		d.ivals = append(d.ivals, Interval{})
		copy(d.ivals[i+2:], d.ivals[i+1:])
		d.ivals[i] = left
		d.ivals[i+1] = right
	}
}

// removeRange removes every element of [lo,hi] from the set in one pass,
// used on the ACK-processing hot path when retiring an acked packet's own
// carried ACK ranges; equivalent to, but far cheaper than, calling remove
// for every element of the range.
func (d *diet) removeRange(lo, hi uint64) {
	if lo > hi || len(d.ivals) == 0 {
		return
	}
	out := make([]Interval, 0, len(d.ivals)+1)
	for _, iv := range d.ivals {
		if iv.hi < lo || iv.lo > hi {
			out = append(out, iv)
			continue
		}
		if iv.lo < lo {
			out = append(out, Interval{lo: iv.lo, hi: lo - 1, t: iv.t})
		}
		if iv.hi > hi {
			out = append(out, Interval{lo: hi + 1, hi: iv.hi, t: iv.t})
		}
	}
	d.ivals = out
}

// findIval returns the interval containing n, if any.
func (d *diet) findIval(n uint64) (Interval, bool) {
	i, ok := d.find(n)
	if !ok {
		return Interval{}, false
	}
	return d.ivals[i], true
}

func (d *diet) contains(n uint64) bool {
	_, ok := d.find(n)
	return ok
}

func (d *diet) empty() bool { return len(d.ivals) == 0 }

func (d *diet) min() (uint64, bool) {
	if d.empty() {
		return 0, false
	}
	return d.ivals[0].lo, true
}

func (d *diet) max() (uint64, bool) {
	if d.empty() {
		return 0, false
	}
	return d.ivals[len(d.ivals)-1].hi, true
}

// count returns the total number of elements represented across all
// intervals, Σ(hi-lo+1).
func (d *diet) count() uint64 {
	var n uint64
	for _, iv := range d.ivals {
		n += iv.hi - iv.lo + 1
	}
	return n
}

// ranges returns the intervals in ascending order of lo. The returned
// slice must not be mutated by the caller.
func (d *diet) ranges() []Interval {
	return d.ivals
}

// String renders the set as comma-separated ranges ("lo..hi") or bare
// numbers for singletons, matching the original diet_to_str rendering
// used to assist ACK-frame serialization and debugging.
func (d *diet) String() string {
	parts := make([]string, len(d.ivals))
	for i, iv := range d.ivals {
		parts[i] = iv.String()
	}
	return strings.Join(parts, ",")
}
