package quic

import (
	"testing"
	"time"

	"github.com/go-test/deep"
)

func TestDietMergeS6(t *testing.T) {
	// §8 Scenario S6: insert 5, then 7, then 6 into an empty DIET.
	var d diet
	now := time.Unix(0, 0)

	d.insert(5, now)
	if diff := deep.Equal(d.ranges(), []Interval{{lo: 5, hi: 5, t: now}}); diff != nil {
		t.Fatalf("after insert(5): %v", diff)
	}

	d.insert(7, now)
	if diff := deep.Equal(d.ranges(), []Interval{{lo: 5, hi: 5, t: now}, {lo: 7, hi: 7, t: now}}); diff != nil {
		t.Fatalf("after insert(7): %v", diff)
	}

	d.insert(6, now)
	if len(d.ranges()) != 1 || d.ranges()[0].lo != 5 || d.ranges()[0].hi != 7 {
		t.Fatalf("after insert(6): got %v, want single merged [5,7]", d.ranges())
	}
}

func TestDietNoAdjacentIntervals(t *testing.T) {
	var d diet
	now := time.Now()
	for _, n := range []uint64{1, 2, 3, 10, 11, 20} {
		d.insert(n, now)
	}
	assertInvariants(t, &d)
	if d.String() != "1..3,10..11,20" {
		t.Fatalf("String() = %q", d.String())
	}
}

func TestDietInsertOrderIndependent(t *testing.T) {
	orders := [][]uint64{
		{1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1},
		{3, 1, 5, 2, 4},
	}
	var want *diet
	for _, order := range orders {
		var d diet
		now := time.Now()
		for _, n := range order {
			d.insert(n, now)
		}
		if want == nil {
			want = &d
			continue
		}
		if len(d.ranges()) != len(want.ranges()) {
			t.Fatalf("order %v: got %v ranges, want %v", order, d.ranges(), want.ranges())
		}
		for i := range d.ranges() {
			if d.ranges()[i].lo != want.ranges()[i].lo || d.ranges()[i].hi != want.ranges()[i].hi {
				t.Fatalf("order %v: got %v, want %v", order, d.ranges(), want.ranges())
			}
		}
	}
}

func TestDietInsertRemoveRoundTrip(t *testing.T) {
	var d diet
	now := time.Now()
	for _, n := range []uint64{1, 2, 3, 10} {
		d.insert(n, now)
	}
	before := append([]Interval(nil), d.ranges()...)

	d.insert(50, now)
	d.remove(50)

	if diff := deep.Equal(d.ranges(), before); diff != nil {
		t.Fatalf("insert-then-remove changed the set: %v", diff)
	}
}

func TestDietRemoveSplitsInterior(t *testing.T) {
	var d diet
	now := time.Now()
	d.insert(1, now)
	d.insert(2, now)
	d.insert(3, now)
	d.insert(4, now)
	d.insert(5, now) // {[1,5]}

	d.remove(3) // interior split

	if len(d.ranges()) != 2 {
		t.Fatalf("got %v, want two intervals after splitting at 3", d.ranges())
	}
	if d.ranges()[0].lo != 1 || d.ranges()[0].hi != 2 {
		t.Fatalf("left half = %v", d.ranges()[0])
	}
	if d.ranges()[1].lo != 4 || d.ranges()[1].hi != 5 {
		t.Fatalf("right half = %v", d.ranges()[1])
	}
}

func TestDietRemoveRange(t *testing.T) {
	var d diet
	now := time.Now()
	for _, n := range []uint64{1, 2, 3, 4, 5, 10, 11, 12} {
		d.insert(n, now)
	}
	d.removeRange(3, 11)
	assertInvariants(t, &d)
	if got, want := d.String(), "1..2,12"; got != want {
		t.Fatalf("removeRange: got %q, want %q", got, want)
	}
}

func TestDietCount(t *testing.T) {
	var d diet
	now := time.Now()
	for _, n := range []uint64{1, 2, 3, 10, 11, 20} {
		d.insert(n, now)
	}
	if got, want := d.count(), uint64(6); got != want {
		t.Fatalf("count() = %d, want %d", got, want)
	}
}

func TestDietMinMaxEmpty(t *testing.T) {
	var d diet
	if !d.empty() {
		t.Fatal("new diet should be empty")
	}
	if _, ok := d.min(); ok {
		t.Fatal("min() on empty diet should report !ok")
	}
	now := time.Now()
	d.insert(10, now)
	d.insert(20, now)
	if lo, _ := d.min(); lo != 10 {
		t.Fatalf("min() = %d, want 10", lo)
	}
	if hi, _ := d.max(); hi != 20 {
		t.Fatalf("max() = %d, want 20", hi)
	}
}

// assertInvariants checks §8 invariant 3: adjacent intervals never
// present, and count equals the sum of interval widths.
func assertInvariants(t *testing.T, d *diet) {
	t.Helper()
	var sum uint64
	for i, iv := range d.ranges() {
		if iv.lo > iv.hi {
			t.Fatalf("interval %d has lo > hi: %v", i, iv)
		}
		sum += iv.hi - iv.lo + 1
		if i > 0 && d.ranges()[i-1].hi+1 >= iv.lo {
			t.Fatalf("adjacent or overlapping intervals at %d: %v, %v", i, d.ranges()[i-1], iv)
		}
	}
	if sum != d.count() {
		t.Fatalf("count() = %d, want %d (sum of widths)", d.count(), sum)
	}
}
