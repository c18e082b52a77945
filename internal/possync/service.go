package possync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pivox/tradingV3/internal/bitmart"
	"github.com/pivox/tradingV3/internal/metrics"
	"github.com/pivox/tradingV3/internal/position"
)

// WSListener matches bitmart.WSClient's Listen signature plus its dynamic
// subscription controls, kept as an interface so the service can be
// exercised against a fake in tests.
type WSListener interface {
	Listen(ctx context.Context, handle func(bitmart.Message))
	Subscribe(channel string) error
	Unsubscribe(channel string) error
	Channels() []string
}

// RESTFetcher matches bitmart.RESTClient's FetchPositions, likewise kept
// abstract for testing.
type RESTFetcher interface {
	FetchPositions(symbol string) ([]map[string]any, error)
}

// Service drives the websocket listen loop and the REST polling loop,
// reconciles both feeds against an authoritative in-memory map, persists
// every mutation, and fans changes out through a Hub.
type Service struct {
	ws    WSListener
	rest  RESTFetcher
	store position.Store
	log   zerolog.Logger

	pollInterval time.Duration
	baseChannel  string

	hub *Hub

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stateMu sync.Mutex
	state   map[string]*position.Position
	seq     uint64

	loadOnce sync.Once
	loadErr  error
}

// NewService wires the reconciliation engine together. pollInterval should
// normally come from bitmart.Config.PollInterval(), which already applies
// the production floor — left uncapped here so tests can drive a fast poll
// loop.
func NewService(ws WSListener, rest RESTFetcher, store position.Store, pollInterval time.Duration, log zerolog.Logger) *Service {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Service{
		ws:           ws,
		rest:         rest,
		store:        store,
		log:          log.With().Str("component", "possync").Logger(),
		pollInterval: pollInterval,
		baseChannel:  detectBaseChannel(ws.Channels()),
		hub:          NewHub(),
		state:        make(map[string]*position.Position),
	}
}

// detectBaseChannel mirrors service.py's _detect_base_channel: the first
// configured channel without a ":" scope suffix, defaulting to
// "futures/position" when none qualifies.
func detectBaseChannel(channels []string) string {
	for _, ch := range channels {
		if !strings.Contains(ch, ":") {
			return ch
		}
	}
	return "futures/position"
}

// channelForSymbol mirrors service.py's _channel_for_symbol: the base
// channel scoped to a single symbol, e.g. "futures/position:BTCUSDT".
func (s *Service) channelForSymbol(symbol string) string {
	return s.baseChannel + ":" + symbol
}

// SubscribeSymbol dynamically adds a per-symbol channel to the live
// websocket feed, mirroring service.py's subscribe_symbol.
func (s *Service) SubscribeSymbol(symbol string) error {
	return s.ws.Subscribe(s.channelForSymbol(symbol))
}

// UnsubscribeSymbol removes a per-symbol channel from the live websocket
// feed, mirroring service.py's unsubscribe_symbol.
func (s *Service) UnsubscribeSymbol(symbol string) error {
	return s.ws.Unsubscribe(s.channelForSymbol(symbol))
}

// Channels reports the websocket client's currently tracked channel set.
func (s *Service) Channels() []string {
	return s.ws.Channels()
}

// Start is idempotent; it returns whether it actually transitioned the
// service from stopped to running.
func (s *Service) Start(ctx context.Context) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return false
	}

	s.ensureStateLoaded(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.ws.Listen(runCtx, s.handleWSMessage)
	}()
	go func() {
		defer s.wg.Done()
		s.pollLoop(runCtx)
	}()
	return true
}

// Stop cancels both loops and waits for them to finish. Returns false if
// the service was not running.
func (s *Service) Stop() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return false
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	return true
}

func (s *Service) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Service) handleWSMessage(msg bitmart.Message) {
	entries := bitmart.ExtractPositions(msg)
	if len(entries) == 0 {
		return
	}
	updates := s.normalizeAll(entries)
	if len(updates) == 0 {
		return
	}
	s.applyUpdates(context.Background(), updates, true)
}

func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	raw, err := s.rest.FetchPositions("")
	if err != nil {
		s.log.Warn().Err(err).Msg("rest poll failed")
		return
	}
	updates := s.normalizeAll(raw)
	s.applySnapshot(ctx, updates)
}

func (s *Service) normalizeAll(entries []map[string]any) []*position.Position {
	out := make([]*position.Position, 0, len(entries))
	for _, e := range entries {
		if p, ok := position.Normalize(e); ok {
			out = append(out, p)
		}
	}
	return out
}

// ensureStateLoaded performs the one-time blocking initial sync: a REST
// fetch applied with notify=false, then force-close of missing actives,
// also with notify=false. Guarded by sync.Once so later calls are no-ops —
// the dedicated load lock from the original design.
func (s *Service) ensureStateLoaded(ctx context.Context) {
	s.loadOnce.Do(func() {
		raw, err := s.rest.FetchPositions("")
		if err != nil {
			s.log.Warn().Err(err).Msg("initial rest sync failed")
			s.loadErr = err
			return
		}
		updates := s.normalizeAll(raw)
		s.applyUpdates(ctx, updates, false)
		observed := make(map[string]struct{}, len(updates))
		for _, u := range updates {
			observed[u.Key()] = struct{}{}
		}
		s.closeMissing(ctx, observed, false)
	})
}

func (s *Service) applyUpdates(ctx context.Context, updates []*position.Position, notify bool) {
	for _, u := range updates {
		s.persist(ctx, u)
		s.updateState(u, notify)
	}
}

// applySnapshot applies every update from a REST snapshot, then force-closes
// any previously-active key absent from the observed set.
func (s *Service) applySnapshot(ctx context.Context, updates []*position.Position) {
	observed := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		observed[u.Key()] = struct{}{}
	}
	if len(updates) > 0 {
		s.applyUpdates(ctx, updates, true)
	}
	s.closeMissing(ctx, observed, true)
}

func (s *Service) persist(ctx context.Context, p *position.Position) {
	if s.store == nil {
		return
	}
	if err := s.store.Upsert(ctx, p); err != nil {
		s.log.Error().Err(err).Str("key", p.Key()).Msg("failed to persist position")
	}
}

// updateState applies p under the state lock, determines the reconciliation
// event (if any) per the decision table, and publishes outside the lock.
func (s *Service) updateState(p *position.Position, notify bool) {
	s.stateMu.Lock()
	previous := s.state[p.Key()]
	s.state[p.Key()] = p
	var eventType string
	var seq uint64
	if notify {
		eventType = determineEvent(previous, p)
		if eventType != "" {
			s.seq++
			seq = s.seq
		}
	}
	trackedCount := len(s.state)
	s.stateMu.Unlock()

	metrics.PossyncTrackedPositions.Set(float64(trackedCount))

	if !notify || eventType == "" {
		return
	}
	s.hub.Publish(Event{
		Type:      eventType,
		Seq:       seq,
		Position:  p,
		Previous:  previous,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, p.ContractSymbol, p.Status, p.Side)
}

// determineEvent implements the decision table from spec.md §4.5.
func determineEvent(previous, current *position.Position) string {
	switch {
	case previous == nil && current.IsClosed():
		return "position.closed"
	case previous == nil:
		return "position.opened"
	case current.IsClosed():
		if !previous.IsClosed() {
			return "position.closed"
		}
		return "position.updated"
	case !decimalPtrEqual(previous.QtyContract, current.QtyContract):
		return "position.quantity_changed"
	case previous.Status != current.Status:
		return "position.updated"
	case !decimalPtrEqual(previous.EntryPrice, current.EntryPrice) || !decimalPtrEqual(previous.PnLUSDT, current.PnLUSDT):
		return "position.updated"
	default:
		return ""
	}
}

// decimalPtrEqual treats nil and zero as distinct but compares present
// values by decimal equality rather than string/representation equality.
func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func zeroDecimal() decimal.Decimal { return decimal.Zero }

func (s *Service) closeMissing(ctx context.Context, observed map[string]struct{}, notify bool) {
	if s.store == nil {
		return
	}
	active, err := s.store.Active(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch active positions for forced-close reconciliation")
		return
	}

	now := time.Now().UTC()
	var forced []*position.Position
	for _, row := range active {
		if _, ok := observed[row.Key()]; ok {
			continue
		}
		forced = append(forced, buildForcedClose(row, now))
	}
	if len(forced) > 0 {
		s.applyUpdates(ctx, forced, notify)
	}
}

func buildForcedClose(row *position.Position, closedAt time.Time) *position.Position {
	zero := zeroDecimal()
	meta := make(map[string]any, len(row.Meta)+2)
	for k, v := range row.Meta {
		meta[k] = v
	}
	if !row.AmountUSDT.IsZero() {
		meta["last_known_amount_usdt"] = row.AmountUSDT.String()
	}
	if row.QtyContract != nil {
		meta["last_known_qty_contract"] = row.QtyContract.String()
	}
	meta["sync_status"] = "closed_by_snapshot"
	meta["sync_closed_at"] = closedAt.Format(time.RFC3339)

	return &position.Position{
		ContractSymbol:  row.ContractSymbol,
		Side:            row.Side,
		Status:          position.Closed,
		Exchange:        row.Exchange,
		AmountUSDT:      zero,
		EntryPrice:      row.EntryPrice,
		QtyContract:     &zero,
		Leverage:        row.Leverage,
		ExternalOrderID: row.ExternalOrderID,
		OpenedAt:        row.OpenedAt,
		ClosedAt:        &closedAt,
		StopLoss:        row.StopLoss,
		TakeProfit:      row.TakeProfit,
		PnLUSDT:         row.PnLUSDT,
		TimeInForce:     row.TimeInForce,
		ExternalStatus:  "CLOSED",
		LastSyncAt:      closedAt,
		Meta:            meta,
	}
}

// Snapshot returns every tracked position matching filter, sorted by
// (symbol, side) ascending.
func (s *Service) Snapshot(filter Filter) []*position.Position {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	out := make([]*position.Position, 0, len(s.state))
	for _, p := range s.state {
		if filter.Matches(p.ContractSymbol, p.Status, p.Side) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContractSymbol != out[j].ContractSymbol {
			return out[i].ContractSymbol < out[j].ContractSymbol
		}
		return out[i].Side < out[j].Side
	})
	return out
}

func (s *Service) CurrentSequence() uint64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.seq
}

// Subscribe returns a bounded-queue handle over this service's Hub.
func (s *Service) Subscribe(filter Filter) *Handle { return s.hub.Subscribe(filter) }

func (s *Service) Hub() *Hub { return s.hub }
