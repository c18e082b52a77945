package bitmart

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pivox/tradingV3/internal/metrics"
)

// Message is a decoded websocket frame, already stripped of subscribe/login
// control acks (those are dropped by decode, never reach the caller).
type Message map[string]any

// WSClient maintains a reconnecting Bitmart websocket subscription. Listen
// blocks, pushing decoded messages to handle, until ctx is cancelled.
type WSClient struct {
	cfg    Config
	signer Signer
	log    zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]struct{}
}

func NewWSClient(cfg Config, log zerolog.Logger) *WSClient {
	channels := make(map[string]struct{}, len(cfg.WSChannels))
	for _, ch := range cfg.WSChannels {
		channels[ch] = struct{}{}
	}
	return &WSClient{
		cfg:      cfg,
		signer:   cfg.Signer(),
		log:      log.With().Str("component", "bitmart_ws").Logger(),
		channels: channels,
	}
}

// Channels returns the currently tracked channel set, sorted for stable
// reporting (e.g. the /status endpoint).
func (c *WSClient) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Subscribe adds channel to the tracked set and, if a session is live, sends
// the subscribe frame immediately. The channel survives reconnects either
// way since resubscribe() replays the full tracked set.
func (c *WSClient) Subscribe(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = struct{}{}
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteJSON(map[string]any{"op": "subscribe", "args": []string{channel}})
}

// Unsubscribe removes channel from the tracked set and, if a session is
// live, sends the unsubscribe frame immediately.
func (c *WSClient) Unsubscribe(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteJSON(map[string]any{"op": "unsubscribe", "args": []string{channel}})
}

// Listen runs the reconnect loop until ctx is cancelled. Each connected
// session authenticates, (re)subscribes every configured channel, then
// reads until idle timeout or disconnect, at which point it reconnects
// with exponential backoff (5s floor, 60s ceiling — per cenkalti/backoff's
// ExponentialBackOff with a capped MaxInterval).
func (c *WSClient) Listen(ctx context.Context, handle func(Message)) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = 60 * time.Second
	bo.RandomizationFactor = 0 // keep every wait inside [5s, 60s]
	bo.MaxElapsedTime = 0      // retry forever

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.session(ctx, handle); err != nil {
			wait := bo.NextBackOff()
			metrics.PossyncReconnectTotal.Inc()
			c.log.Warn().Err(err).Dur("backoff", wait).Msg("websocket session ended, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

func (c *WSClient) session(ctx context.Context, handle func(Message)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("bitmart: dial failed: %w", err)
	}
	c.log.Info().Str("url", c.cfg.WSURL).Msg("connected to bitmart websocket")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if err := c.authenticate(conn); err != nil {
		return err
	}
	if err := c.resubscribe(conn); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(sessionCtx, conn)
	}()
	defer wg.Wait()

	idleTimeout := c.cfg.IdleTimeout()
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bitmart: read failed: %w", err)
		}
		if msg, ok := decode(raw); ok {
			handle(msg)
		}
	}
}

func (c *WSClient) authenticate(conn *websocket.Conn) error {
	timestampMs := fmt.Sprintf("%d", time.Now().UnixMilli())
	signature := c.signer.SignWSLogin(timestampMs, c.cfg.WSLoginPayload())
	frame := map[string]any{
		"op": "login",
		"args": map[string]any{
			"apiKey":    c.cfg.APIKey,
			"timestamp": timestampMs,
			"sign":      signature,
			"memo":      c.cfg.APIMemo,
		},
	}
	return conn.WriteJSON(frame)
}

func (c *WSClient) resubscribe(conn *websocket.Conn) error {
	channels := c.Channels()
	if len(channels) == 0 {
		c.log.Warn().Msg("no websocket channels configured; skipping subscribe")
		return nil
	}
	return conn.WriteJSON(map[string]any{"op": "subscribe", "args": channels})
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	interval := c.cfg.WSPingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteJSON(map[string]any{"op": "ping"})
			c.mu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// decode parses a raw frame and drops subscribe/login control acks, as
// signalled by an "event" field of "subscribe" or "login".
func decode(raw []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}
	if ev, ok := msg["event"].(string); ok && (ev == "subscribe" || ev == "login") {
		return nil, false
	}
	return msg, true
}

// ExtractPositions applies the payload-shape heuristic: field "data" when it
// is a list, else "data.positions", else top-level "positions", else the
// message itself when it carries a "symbol" key.
func ExtractPositions(msg Message) []map[string]any {
	if data, ok := msg["data"]; ok {
		if list, ok := data.([]any); ok {
			return toMapSlice(list)
		}
		if obj, ok := data.(map[string]any); ok {
			if positions, ok := obj["positions"].([]any); ok {
				return toMapSlice(positions)
			}
		}
	}
	if positions, ok := msg["positions"].([]any); ok {
		return toMapSlice(positions)
	}
	if _, ok := msg["symbol"]; ok {
		return []map[string]any{msg}
	}
	return nil
}

func toMapSlice(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
