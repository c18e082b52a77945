// Package bitmart implements the exchange-facing WebSocket and REST clients
// for the Bitmart contract-trading API: HMAC-SHA256 request signing,
// reconnecting websocket subscriptions, and signed position snapshot polls.
package bitmart

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Signer produces the HMAC-SHA256 signatures Bitmart requires on both the
// WebSocket login frame and every private REST call.
type Signer struct {
	APISecret string
	APIMemo   string
}

// Sign computes hex(HMAC-SHA256(secret, "<timestampMs>#<memo>#<payload>")).
func (s Signer) Sign(timestampMs, payload string) string {
	message := fmt.Sprintf("%s#%s#%s", timestampMs, s.APIMemo, payload)
	mac := hmac.New(sha256.New, []byte(s.APISecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignWSLogin signs the websocket login payload; identical scheme to Sign.
func (s Signer) SignWSLogin(timestampMs, payload string) string {
	return s.Sign(timestampMs, payload)
}

// BuildRESTComponents builds the "<METHOD>\n<path>[?query]\n<body>" payload
// string REST calls are signed over, plus the compact JSON body (if any).
func (s Signer) BuildRESTComponents(method, path string, params map[string]string, jsonBody map[string]any) (payload string, body string) {
	target := path
	if qs := encodeQuery(params); qs != "" {
		target = path + "?" + qs
	}
	if len(jsonBody) > 0 {
		body = compactJSON(jsonBody)
	}
	payload = fmt.Sprintf("%s\n%s\n%s", strings.ToUpper(method), target, body)
	return payload, body
}

func encodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	v := url.Values{}
	for _, k := range keys {
		v.Set(k, params[k])
	}
	return v.Encode()
}

func compactJSON(body map[string]any) string {
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(data)
}
