package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRecordRoundTripPreservesDecimals(t *testing.T) {
	entry := decimal.RequireFromString("40000.5")
	qty := decimal.RequireFromString("2.5")
	now := time.Now().UTC().Truncate(time.Second)

	p := &Position{
		ContractSymbol: "BTCUSDT",
		Side:           Long,
		Status:         Open,
		Exchange:       Exchange,
		AmountUSDT:     decimal.RequireFromString("100001.25"),
		EntryPrice:     &entry,
		QtyContract:    &qty,
		OpenedAt:       &now,
		TimeInForce:    DefaultTimeInForce,
		LastSyncAt:     now,
	}

	rec := toRecord(p)
	back := fromRecord(rec)

	if back.ContractSymbol != p.ContractSymbol || back.Side != p.Side {
		t.Fatalf("expected identity fields preserved, got %+v", back)
	}
	if !back.AmountUSDT.Equal(p.AmountUSDT) {
		t.Fatalf("expected amount preserved, got %s want %s", back.AmountUSDT, p.AmountUSDT)
	}
	if back.EntryPrice == nil || !back.EntryPrice.Equal(*p.EntryPrice) {
		t.Fatalf("expected entry price preserved, got %v", back.EntryPrice)
	}
	if back.QtyContract == nil || !back.QtyContract.Equal(*p.QtyContract) {
		t.Fatalf("expected qty preserved, got %v", back.QtyContract)
	}
	if back.StopLoss != nil {
		t.Fatalf("expected nil stop loss to remain nil, got %v", back.StopLoss)
	}
}

func TestDecimalPtrNilRoundTrip(t *testing.T) {
	if decimalPtrToString(nil) != nil {
		t.Fatalf("expected nil decimal pointer to map to nil string pointer")
	}
	if stringPtrToDecimal(nil) != nil {
		t.Fatalf("expected nil string pointer to map to nil decimal pointer")
	}
}

func TestMustDecimalFallsBackToZeroOnGarbage(t *testing.T) {
	d := mustDecimal("not-a-number")
	if !d.Equal(decimal.Zero) {
		t.Fatalf("expected zero fallback, got %s", d)
	}
}

// fakeStore is an in-memory Store for this package's tests, exercising the
// Store interface without a real MySQL connection. possync's tests keep their
// own copy.
type fakeStore struct {
	rows map[string]*Position
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]*Position{}} }

func (f *fakeStore) Upsert(_ context.Context, p *Position) error {
	cp := *p
	f.rows[p.Key()] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, symbol string, side Side) (*Position, bool, error) {
	p, ok := f.rows[Key(symbol, side)]
	return p, ok, nil
}

func (f *fakeStore) Active(_ context.Context) ([]*Position, error) {
	var out []*Position
	for _, p := range f.rows {
		if p.Status == Open {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) Close(_ context.Context, symbol string, side Side, closedAt time.Time) error {
	if p, ok := f.rows[Key(symbol, side)]; ok {
		p.Status = Closed
		p.ClosedAt = &closedAt
	}
	return nil
}

func TestFakeStoreSatisfiesStoreInterface(t *testing.T) {
	var _ Store = (*fakeStore)(nil)
}

func TestFakeStoreUpsertThenClose(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	p, _ := Normalize(map[string]any{"symbol": "BTCUSDT", "side": 1, "size": "1", "entry_price": "100"})
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok, err := s.Get(ctx, "BTCUSDT", Long)
	if err != nil || !ok {
		t.Fatalf("expected row found, ok=%v err=%v", ok, err)
	}
	if got.Status != Open {
		t.Fatalf("expected OPEN, got %q", got.Status)
	}
	if err := s.Close(ctx, "BTCUSDT", Long, time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _, _ = s.Get(ctx, "BTCUSDT", Long)
	if got.Status != Closed {
		t.Fatalf("expected CLOSED after Close, got %q", got.Status)
	}
}
