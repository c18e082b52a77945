// Package priority defines the fixed, ordered set of dispatch bucket labels
// and the helpers the dispatcher worker uses to pick the next bucket to
// drain.
package priority

import "fmt"

// Bucket is a dispatch priority class. The zero value is not a valid bucket.
type Bucket string

// Known buckets, most to least priority. Order matches the PHP-side
// PrioInTemporal enum this dispatcher was built to interoperate with.
const (
	PositionPrior Bucket = "position_prior"
	Position      Bucket = "position"
	Balance       Bucket = "balance"
	Cron4h        Bucket = "4h-cron"
	Cron1h        Bucket = "1h-cron"
	Cron15m       Bucket = "15m-cron"
	Cron5m        Bucket = "5m-cron"
	Cron1m        Bucket = "1m-cron"
	TF1m          Bucket = "1m"
	TF5m          Bucket = "5m"
	TF15m         Bucket = "15m"
	TF1h          Bucket = "1h"
	TF4h          Bucket = "4h"
	Regular       Bucket = "regular"
)

// DefaultOrder is the built-in, most-to-least priority ordering.
var DefaultOrder = []Bucket{
	PositionPrior, Position, Balance,
	Cron4h, Cron1h, Cron15m, Cron5m, Cron1m,
	TF1m, TF5m, TF15m, TF1h, TF4h,
	Regular,
}

// Config holds an active ordering over a fixed set of known buckets. The set
// of known buckets never changes after construction; the active order may be
// replaced wholesale by Reorder, as long as the replacement is a permutation
// of the known set.
type Config struct {
	order []Bucket
	index map[Bucket]int
	known map[Bucket]struct{}
}

// New builds a Config from an initial ordering. The set of known buckets is
// fixed to the buckets named in order.
func New(order []Bucket) *Config {
	c := &Config{}
	c.setOrder(order)
	c.known = make(map[Bucket]struct{}, len(order))
	for _, b := range order {
		c.known[b] = struct{}{}
	}
	return c
}

// NewDefault builds a Config over the 14 buckets named in spec.md §3.
func NewDefault() *Config {
	return New(append([]Bucket(nil), DefaultOrder...))
}

func (c *Config) setOrder(order []Bucket) {
	c.order = append([]Bucket(nil), order...)
	c.index = make(map[Bucket]int, len(order))
	for i, b := range order {
		c.index[b] = i
	}
}

// Order returns the active ordering, highest priority first. The returned
// slice is a defensive copy.
func (c *Config) Order() []Bucket {
	return append([]Bucket(nil), c.order...)
}

// IsKnown reports whether label was part of the set the Config was
// constructed with.
func (c *Config) IsKnown(b Bucket) bool {
	_, ok := c.known[b]
	return ok
}

// IndexOf returns the priority index of b (0 = highest priority). The second
// return value is false if b is not known.
func (c *Config) IndexOf(b Bucket) (int, bool) {
	i, ok := c.index[b]
	return i, ok
}

// Compare returns the sign of IndexOf(a) - IndexOf(b): negative if a
// outranks b, positive if b outranks a, zero if equal. Both buckets must be
// known or Compare panics — callers are expected to validate with IsKnown
// first, exactly like the signal handlers in dispatcher.Worker do.
func (c *Config) Compare(a, b Bucket) int {
	ia, ok := c.IndexOf(a)
	if !ok {
		panic(fmt.Sprintf("priority: unknown bucket %q", a))
	}
	ib, ok := c.IndexOf(b)
	if !ok {
		panic(fmt.Sprintf("priority: unknown bucket %q", b))
	}
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}

// NextNonEmpty returns the highest-priority bucket that is present (with a
// non-empty length) in sizeOf and not in paused. It returns ("", false) when
// no such bucket exists.
func NextNonEmpty(order []Bucket, sizeOf func(Bucket) int, paused map[Bucket]struct{}) (Bucket, bool) {
	for _, b := range order {
		if _, skip := paused[b]; skip {
			continue
		}
		if sizeOf(b) > 0 {
			return b, true
		}
	}
	return "", false
}

// Reorder replaces the active order. newOrder must be a permutation of the
// known bucket set; any known bucket missing from newOrder is an error, as
// is any label in newOrder that isn't known.
func (c *Config) Reorder(newOrder []Bucket) error {
	if len(newOrder) != len(c.known) {
		return fmt.Errorf("priority: reorder has %d buckets, want %d", len(newOrder), len(c.known))
	}
	seen := make(map[Bucket]struct{}, len(newOrder))
	for _, b := range newOrder {
		if !c.IsKnown(b) {
			return fmt.Errorf("priority: unknown bucket %q in reorder", b)
		}
		if _, dup := seen[b]; dup {
			return fmt.Errorf("priority: duplicate bucket %q in reorder", b)
		}
		seen[b] = struct{}{}
	}
	c.setOrder(newOrder)
	return nil
}
