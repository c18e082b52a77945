package position

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candidate key lists, tried in order, per spec.md §4.4 step 3–4. Kept as
// package vars (not consts) so a future wire revision can extend them
// without touching Normalize itself.
var (
	symbolKeys = []string{"symbol", "contract", "contract_symbol"}
	qtyKeys    = []string{"size", "current_amount", "hold_volume", "position_volume", "open_size", "available"}
	entryKeys  = []string{"entry_price", "avg_entry_price", "average_price", "avg_price"}
	leverKeys  = []string{"leverage", "position_leverage", "open_leverage"}
	slKeys     = []string{"stop_loss", "sl_price", "preset_stop_loss_price"}
	tpKeys     = []string{"take_profit", "tp_price", "preset_take_profit_price"}
	pnlKeys    = []string{
		"realised_pnl", "unrealised_pnl", "pnl", "unrealised_profit", "unrealisedProfit",
		"unrealized_pnl", "unrealized_profit", "unrealizedProfit", "unrealisedPnl", "unrealizedPnl",
		"realized_pnl", "realizedPnl", "realized_profit", "realisedProfit",
	}
	openTimeKeys  = []string{"open_time", "created_at", "createdTime", "open_timestamp"}
	closeTimeKeys = []string{"close_time", "updated_at", "closedTime"}
	orderIDKeys   = []string{"order_id", "clOrdId", "client_oid", "clientOrderId"}
)

var sideNumeric = map[int64]Side{1: Long, 2: Short, -1: Short}

var sideText = map[string]Side{
	"LONG": Long, "BUY": Long, "BID": Long, "OPEN_LONG": Long, "HOLD_LONG": Long,
	"SHORT": Short, "SELL": Short, "ASK": Short, "OPEN_SHORT": Short, "HOLD_SHORT": Short,
}

// Normalize maps a heterogeneous wire record (from either the WebSocket
// stream or the REST snapshot) into a canonical Position. It returns
// (nil, false) when the record has no extractable symbol.
//
// Normalize is pure and idempotent: applying it twice to the same input
// produces field-for-field identical output (modulo LastSyncAt, which is a
// wall-clock stamp — see normalize_test.go for how idempotence is actually
// checked).
func Normalize(raw map[string]any) (*Position, bool) {
	symbol := extractSymbol(raw)
	if symbol == "" {
		return nil, false
	}

	side := extractSide(raw)
	if side == "" {
		side = Long
	}

	qty := extractDecimal(raw, qtyKeys)
	entryPrice := extractDecimal(raw, entryKeys)
	leverage := extractDecimal(raw, leverKeys)
	stopLoss := extractDecimal(raw, slKeys)
	takeProfit := extractDecimal(raw, tpKeys)
	pnl := extractDecimal(raw, pnlKeys)

	openedAt := extractTime(raw, openTimeKeys)
	closedAt := extractTime(raw, closeTimeKeys)

	status := Open
	if qty == nil || qty.IsZero() {
		status = Closed
	} else if s, ok := raw["status"]; ok && s != nil {
		status = Status(strings.ToUpper(stringify(s)))
	}

	amount := decimal.Zero
	if qty != nil && entryPrice != nil {
		amount = qty.Mul(*entryPrice)
	}

	now := time.Now().UTC()

	p := &Position{
		ContractSymbol:  symbol,
		Side:            side,
		Status:          status,
		Exchange:        Exchange,
		AmountUSDT:      amount,
		EntryPrice:      entryPrice,
		QtyContract:     qty,
		Leverage:        leverage,
		ExternalOrderID: firstNonEmpty(raw, orderIDKeys),
		OpenedAt:        openedAt,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		PnLUSDT:         pnl,
		TimeInForce:     strings.ToUpper(stringOrDefault(raw["time_in_force"], DefaultTimeInForce)),
		ExternalStatus:  externalStatus(raw),
		LastSyncAt:      now,
		Meta:            raw,
	}
	if status == Closed {
		p.ClosedAt = closedAt
	}
	return p, true
}

func extractSymbol(raw map[string]any) string {
	for _, k := range symbolKeys {
		if v, ok := raw[k]; ok && v != nil {
			if s := stringify(v); s != "" {
				return strings.ToUpper(s)
			}
		}
	}
	return ""
}

func extractSide(raw map[string]any) Side {
	var value any
	if v, ok := raw["side"]; ok && v != nil {
		value = v
	} else if v, ok := raw["hold_side"]; ok && v != nil {
		value = v
	} else if v, ok := raw["position_side"]; ok && v != nil {
		value = v
	} else if v, ok := raw["holdSide"]; ok && v != nil {
		value = v
	}
	if value == nil {
		return ""
	}

	if n, ok := asInt64(value); ok {
		return sideNumeric[n]
	}

	normalized := strings.ToUpper(strings.TrimSpace(stringify(value)))
	if mapped, ok := sideText[normalized]; ok {
		return mapped
	}
	if normalized == string(Long) || normalized == string(Short) {
		return Side(normalized)
	}
	return ""
}

func extractDecimal(raw map[string]any, keys []string) *decimal.Decimal {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil || v == "" {
			continue
		}
		d, err := decimal.NewFromString(stringify(v))
		if err != nil {
			continue
		}
		return &d
	}
	return nil
}

func extractTime(raw map[string]any, keys []string) *time.Time {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil || v == "" {
			continue
		}
		if n, ok := asFloat64(v); ok {
			t := fromEpoch(n)
			return &t
		}
		if s, ok := v.(string); ok {
			trimmed := strings.TrimSpace(s)
			if isAllDigits(trimmed) {
				n, err := strconv.ParseFloat(trimmed, 64)
				if err == nil {
					t := fromEpoch(n)
					return &t
				}
				continue
			}
			if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
				return &t
			}
		}
	}
	return nil
}

func fromEpoch(n float64) time.Time {
	if n > 10_000_000_000 {
		n = n / 1000
	}
	sec := int64(n)
	nsec := int64((n - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func externalStatus(raw map[string]any) string {
	if v, ok := raw["state"]; ok && v != nil {
		if s := stringify(v); s != "" {
			return strings.ToUpper(s)
		}
	}
	if v, ok := raw["external_status"]; ok && v != nil {
		if s := stringify(v); s != "" {
			return strings.ToUpper(s)
		}
	}
	return ""
}

func firstNonEmpty(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringOrDefault(v any, def string) string {
	if v == nil {
		return def
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
