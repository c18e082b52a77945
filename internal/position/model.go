// Package position implements the canonical position record, the wire
// normalizer that builds one from a heterogeneous exchange payload, and the
// durable store that dedup-upserts records keyed by (symbol, side).
package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the canonical position side.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Status is the canonical position lifecycle status.
type Status string

const (
	Open   Status = "OPEN"
	Closed Status = "CLOSED"
)

// DefaultTimeInForce is applied when the wire record doesn't specify one.
const DefaultTimeInForce = "GTC"

// Exchange is the constant exchange name this normalizer targets.
const Exchange = "bitmart"

// Position is the canonical position record described in spec.md §3.
// Identity is (ContractSymbol, Side).
type Position struct {
	ContractSymbol string
	Side           Side
	Status         Status
	Exchange       string
	AmountUSDT     decimal.Decimal

	EntryPrice      *decimal.Decimal
	QtyContract     *decimal.Decimal
	Leverage        *decimal.Decimal
	ExternalOrderID string

	OpenedAt *time.Time
	ClosedAt *time.Time

	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	PnLUSDT    *decimal.Decimal

	TimeInForce    string
	ExpiresAt      *time.Time
	ExternalStatus string
	LastSyncAt     time.Time

	Meta map[string]any
}

// Key returns the (symbol, side) identity key used by both the store and
// the in-memory reconciliation map, e.g. "BTCUSDT::LONG".
func (p *Position) Key() string {
	return Key(p.ContractSymbol, p.Side)
}

// Key builds the identity key for a given symbol/side pair, e.g.
// "BTCUSDT::LONG".
func Key(symbol string, side Side) string {
	return symbol + "::" + string(side)
}

// IsClosed reports whether the record should be considered closed: either
// its Status says so, or its quantity is zero/absent.
func (p *Position) IsClosed() bool {
	if p.Status == Closed {
		return true
	}
	if p.QtyContract == nil {
		return false
	}
	return p.QtyContract.IsZero()
}
