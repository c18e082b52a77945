// Package httpactivity implements the stateless outbound HTTP callback the
// dispatcher hands each popped envelope to. It owns no state across calls —
// every invocation opens, uses, and discards its own client, matching the
// per-call resource lifecycle described for the dispatcher's activities.
package httpactivity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const timeout = 10 * time.Second

// Result mirrors the dispatch activity's result mapping.
type Result struct {
	Status      string `json:"status"`
	Code        int    `json:"code,omitempty"`
	Body        string `json:"body,omitempty"`
	Message     string `json:"message,omitempty"`
	CallbackURL string `json:"callback_url"`
}

// Dispatch resolves a full URL from url_callback/base_url, then issues a GET
// (params as query) or POST (params as JSON body) with a 10s timeout.
func Dispatch(ctx context.Context, payload map[string]any) Result {
	urlCallback, _ := payload["url_callback"].(string)
	baseURL, _ := payload["base_url"].(string)
	method, _ := payload["method"].(string)
	if method == "" {
		method = "POST"
	}
	method = strings.ToUpper(method)
	params, _ := payload["params"].(map[string]any)

	if urlCallback == "" {
		return Result{Status: "error", Message: "url_callback missing"}
	}

	fullURL := resolveURL(urlCallback, baseURL)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := buildRequest(ctx, method, fullURL, params)
	if err != nil {
		return Result{Status: "error", Message: err.Error(), CallbackURL: fullURL}
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Status: "error", Message: err.Error(), CallbackURL: fullURL}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: "error", Message: err.Error(), CallbackURL: fullURL, Code: resp.StatusCode}
	}

	status := "error"
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status = "ok"
	}
	return Result{Status: status, Code: resp.StatusCode, Body: string(body), CallbackURL: fullURL}
}

func resolveURL(urlCallback, baseURL string) string {
	if strings.HasPrefix(urlCallback, "http://") || strings.HasPrefix(urlCallback, "https://") {
		return urlCallback
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(urlCallback, "/")
}

func buildRequest(ctx context.Context, method, fullURL string, params map[string]any) (*http.Request, error) {
	if method == "GET" {
		u, err := url.Parse(fullURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, stringify(v))
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
