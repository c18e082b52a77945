package bitmart

import "time"

const (
	DefaultWSURL          = "wss://openapi-ws-v2.bitmart.com/api?protocol=1.1"
	DefaultRESTURL        = "https://api-cloud-v2.bitmart.com"
	DefaultPollSeconds    = 120
	DefaultWSPingSeconds  = 20
	DefaultWSLoginPayload = "login"
)

// DefaultWSChannels is used when no BITMART_WS_CHANNELS is configured.
var DefaultWSChannels = []string{"futures/position"}

// Config holds the exchange credentials and connection parameters, loaded
// from the BITMART_* environment variables documented in SPEC_FULL.md §6.
type Config struct {
	APIKey    string
	APISecret string
	APIMemo   string

	WSURL         string
	WSChannels    []string
	WSPingSeconds int
	WSLogin       string

	RESTURL     string
	RESTTimeout time.Duration
	PollSeconds int
}

// WSLoginPayload returns the configured login payload, defaulting to "login"
// to match the original client.
func (c Config) WSLoginPayload() string {
	if c.WSLogin == "" {
		return DefaultWSLoginPayload
	}
	return c.WSLogin
}

// PollInterval floors poll_interval at 30s per spec.md §4.5.
func (c Config) PollInterval() time.Duration {
	seconds := c.PollSeconds
	if seconds < 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// WSPingInterval returns the configured ping interval, floored at 10s to
// match the original client's `max(ws_ping_interval, 10)`.
func (c Config) WSPingInterval() time.Duration {
	seconds := c.WSPingSeconds
	if seconds < 10 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// IdleTimeout is twice the ping interval or 30s, whichever is larger.
func (c Config) IdleTimeout() time.Duration {
	idle := 2 * c.WSPingInterval()
	if idle < 30*time.Second {
		return 30 * time.Second
	}
	return idle
}

func (c Config) Signer() Signer {
	return Signer{APISecret: c.APISecret, APIMemo: c.APIMemo}
}
