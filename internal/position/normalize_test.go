package position

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeS4Scenario(t *testing.T) {
	raw := map[string]any{
		"symbol":         "btcusdt",
		"hold_side":      1,
		"size":           "2.5",
		"entry_price":    "40000",
		"unrealised_pnl": "100",
	}

	p, ok := Normalize(raw)
	if !ok {
		t.Fatalf("expected normalization to succeed")
	}
	if p.ContractSymbol != "BTCUSDT" {
		t.Fatalf("expected upper-cased symbol, got %q", p.ContractSymbol)
	}
	if p.Side != Long {
		t.Fatalf("expected LONG for hold_side=1, got %q", p.Side)
	}
	if p.QtyContract == nil || !p.QtyContract.Equal(decimalFromString(t, "2.5")) {
		t.Fatalf("expected qty 2.5, got %v", p.QtyContract)
	}
	if p.EntryPrice == nil || !p.EntryPrice.Equal(decimalFromString(t, "40000")) {
		t.Fatalf("expected entry price 40000, got %v", p.EntryPrice)
	}
	if !p.AmountUSDT.Equal(decimalFromString(t, "100000")) {
		t.Fatalf("expected amount 100000, got %v", p.AmountUSDT)
	}
	if p.PnLUSDT == nil || !p.PnLUSDT.Equal(decimalFromString(t, "100")) {
		t.Fatalf("expected pnl 100, got %v", p.PnLUSDT)
	}
	if p.Status != Open {
		t.Fatalf("expected OPEN status, got %q", p.Status)
	}
}

func TestNormalizeSideNumericNegativeOneIsShort(t *testing.T) {
	p, ok := Normalize(map[string]any{"symbol": "ETHUSDT", "side": -1, "size": "1"})
	if !ok {
		t.Fatalf("expected normalization to succeed")
	}
	if p.Side != Short {
		t.Fatalf("expected SHORT for side=-1, got %q", p.Side)
	}
}

func TestNormalizeSideTextTable(t *testing.T) {
	cases := map[string]Side{
		"buy": Long, "sell": Short, "open_long": Long, "open_short": Short,
	}
	for text, want := range cases {
		p, ok := Normalize(map[string]any{"symbol": "BTCUSDT", "side": text, "size": "1"})
		if !ok {
			t.Fatalf("expected normalization to succeed for side %q", text)
		}
		if p.Side != want {
			t.Fatalf("side %q: expected %q, got %q", text, want, p.Side)
		}
	}
}

func TestNormalizeMissingSymbolFails(t *testing.T) {
	_, ok := Normalize(map[string]any{"size": "1"})
	if ok {
		t.Fatalf("expected normalization to fail without a symbol")
	}
}

func TestNormalizeZeroQtyIsClosed(t *testing.T) {
	p, ok := Normalize(map[string]any{"symbol": "BTCUSDT", "side": "LONG", "size": "0"})
	if !ok {
		t.Fatalf("expected normalization to succeed")
	}
	if p.Status != Closed {
		t.Fatalf("expected CLOSED status for zero qty, got %q", p.Status)
	}
	if !p.IsClosed() {
		t.Fatalf("expected IsClosed true")
	}
}

func TestNormalizeEpochMillisHeuristic(t *testing.T) {
	p, ok := Normalize(map[string]any{
		"symbol":     "BTCUSDT",
		"side":       "LONG",
		"size":       "1",
		"open_time":  "1700000000000",
		"close_time": float64(1700000000),
	})
	if !ok {
		t.Fatalf("expected normalization to succeed")
	}
	if p.OpenedAt == nil {
		t.Fatalf("expected OpenedAt to be set")
	}
	if p.OpenedAt.Unix() != 1700000000 {
		t.Fatalf("expected millis heuristic to downscale to seconds, got unix=%d", p.OpenedAt.Unix())
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := map[string]any{
		"symbol": "BTCUSDT", "side": 1, "size": "2.5", "entry_price": "40000",
	}
	first, _ := Normalize(raw)
	second, _ := Normalize(raw)

	if first.ContractSymbol != second.ContractSymbol ||
		first.Side != second.Side ||
		first.Status != second.Status ||
		!first.AmountUSDT.Equal(second.AmountUSDT) ||
		!first.QtyContract.Equal(*second.QtyContract) ||
		!first.EntryPrice.Equal(*second.EntryPrice) {
		t.Fatalf("expected idempotent normalization, got %+v vs %+v", first, second)
	}
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}
