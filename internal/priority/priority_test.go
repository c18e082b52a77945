package priority

import "testing"

func TestNewDefaultOrder(t *testing.T) {
	c := NewDefault()
	if !c.IsKnown(PositionPrior) || !c.IsKnown(Regular) {
		t.Fatalf("expected default buckets to be known")
	}
	if c.IsKnown(Bucket("nope")) {
		t.Fatalf("unknown bucket reported known")
	}
}

func TestCompareOrdering(t *testing.T) {
	c := NewDefault()
	if c.Compare(Cron4h, TF5m) >= 0 {
		t.Fatalf("expected 4h-cron to outrank 5m")
	}
	if c.Compare(Position, Cron4h) >= 0 {
		t.Fatalf("expected position to outrank 4h-cron")
	}
	if c.Compare(Regular, Regular) != 0 {
		t.Fatalf("expected equal buckets to compare equal")
	}
}

func TestNextNonEmptySkipsPausedAndEmpty(t *testing.T) {
	c := NewDefault()
	sizes := map[Bucket]int{
		TF5m:   2,
		Cron4h: 1,
	}
	sizeOf := func(b Bucket) int { return sizes[b] }

	b, ok := NextNonEmpty(c.Order(), sizeOf, nil)
	if !ok || b != Cron4h {
		t.Fatalf("expected 4h-cron selected first, got %q ok=%v", b, ok)
	}

	paused := map[Bucket]struct{}{Cron4h: {}}
	b, ok = NextNonEmpty(c.Order(), sizeOf, paused)
	if !ok || b != TF5m {
		t.Fatalf("expected 5m selected when 4h-cron paused, got %q ok=%v", b, ok)
	}

	b, ok = NextNonEmpty(c.Order(), func(Bucket) int { return 0 }, nil)
	if ok {
		t.Fatalf("expected no bucket selected when all empty, got %q", b)
	}
}

func TestReorderValidatesPermutation(t *testing.T) {
	c := NewDefault()
	if err := c.Reorder([]Bucket{Regular, PositionPrior}); err == nil {
		t.Fatalf("expected error for incomplete reorder")
	}
	if err := c.Reorder(append([]Bucket{"bogus"}, DefaultOrder[1:]...)); err == nil {
		t.Fatalf("expected error for unknown bucket in reorder")
	}

	reversed := make([]Bucket, len(DefaultOrder))
	for i, b := range DefaultOrder {
		reversed[len(DefaultOrder)-1-i] = b
	}
	if err := c.Reorder(reversed); err != nil {
		t.Fatalf("unexpected error reordering to a valid permutation: %v", err)
	}
	if c.Compare(Regular, PositionPrior) >= 0 {
		t.Fatalf("expected reorder to take effect")
	}
}
