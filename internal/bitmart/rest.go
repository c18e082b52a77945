package bitmart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// RESTClient issues signed REST calls against the Bitmart contract API.
type RESTClient struct {
	cfg    Config
	signer Signer
	client *http.Client
	log    zerolog.Logger
}

func NewRESTClient(cfg Config, log zerolog.Logger) *RESTClient {
	timeout := cfg.RESTTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		cfg:    cfg,
		signer: cfg.Signer(),
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "bitmart_rest").Logger(),
	}
}

// FetchPositions calls GET /contract/private/position-v2, optionally scoped
// to a single symbol, and returns the raw "data" array of position mappings.
func (c *RESTClient) FetchPositions(symbol string) ([]map[string]any, error) {
	var params map[string]string
	if symbol != "" {
		params = map[string]string{"symbol": symbol}
	}

	payload, err := c.request(http.MethodGet, "/contract/private/position-v2", params, nil)
	if err != nil {
		return nil, err
	}

	list, ok := payload["data"].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *RESTClient) request(method, path string, params map[string]string, jsonBody map[string]any) (map[string]any, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	payload, bodyString := c.signer.BuildRESTComponents(method, path, params, jsonBody)
	signature := c.signer.Sign(timestamp, payload)

	fullURL := c.cfg.RESTURL + path
	if len(params) > 0 {
		v := url.Values{}
		for k, val := range params {
			v.Set(k, val)
		}
		fullURL += "?" + v.Encode()
	}

	var bodyReader io.Reader
	if bodyString != "" {
		bodyReader = bytes.NewReader([]byte(bodyString))
	}

	req, err := http.NewRequest(method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("bitmart: failed to build request: %w", err)
	}
	req.Header.Set("X-BM-KEY", c.cfg.APIKey)
	req.Header.Set("X-BM-TIMESTAMP", timestamp)
	req.Header.Set("X-BM-SIGN", signature)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitmart: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bitmart: failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("bitmart http request failed")
		return nil, fmt.Errorf("bitmart: http %d: %s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("bitmart: failed to decode response: %w", err)
	}

	code := 0
	switch v := parsed["code"].(type) {
	case float64:
		code = int(v)
	}
	if code != 1000 {
		message, _ := parsed["message"].(string)
		if message == "" {
			message = "unknown error"
		}
		return nil, fmt.Errorf("bitmart: api error %d: %s", code, message)
	}
	return parsed, nil
}
