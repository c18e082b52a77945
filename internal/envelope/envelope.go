// Package envelope normalizes an opaque caller-supplied mapping into a
// dispatchable outbound-callback request.
package envelope

import (
	"fmt"
	"strings"
)

// Envelope is an immutable, normalized outbound-callback request.
type Envelope struct {
	URLCallback string
	BaseURL     string
	Method      string
	Encoding    string
	Params      map[string]any
}

var urlKeys = []string{"url_callback", "endpoint", "url"}
var paramsKeys = []string{"params", "payload", "data"}

// metaKeys are the recognized keys that are never folded into Params when
// none of paramsKeys is present.
var metaKeys = map[string]struct{}{
	"url_callback": {}, "endpoint": {}, "url": {},
	"base_url": {}, "base": {},
	"method":   {},
	"encoding": {},
	"params":   {}, "payload": {}, "data": {},
}

// BadInputError reports a malformed signal payload or envelope source.
type BadInputError struct {
	Msg string
}

func (e *BadInputError) Error() string { return e.Msg }

// FromMapping validates m and builds an Envelope. m must be non-nil; a nil
// map fails with BadInputError since there is nothing to normalize.
func FromMapping(m map[string]any) (*Envelope, error) {
	if m == nil {
		return nil, &BadInputError{Msg: "envelope: source mapping is nil"}
	}

	// Defensive copy so mutation of the caller's map can't retroactively
	// change an already-built envelope.
	src := make(map[string]any, len(m))
	for k, v := range m {
		src[k] = v
	}

	e := &Envelope{
		URLCallback: firstString(src, urlKeys),
		BaseURL:     stringOr(src["base_url"], stringOr(src["base"], "")),
		Method:      strings.ToUpper(stringOr(src["method"], "POST")),
		Encoding:    strings.ToLower(stringOr(src["encoding"], "form")),
	}

	if params := firstMapping(src, paramsKeys); params != nil {
		e.Params = params
	} else {
		e.Params = residual(src)
	}

	return e, nil
}

// ToDispatchPayload resolves the envelope into a fresh map ready to be
// handed to the outbound HTTP dispatch activity. An empty URLCallback is
// permitted here — it is the downstream activity's job to report that as a
// dispatch-time error, per spec.md §4.2.
func (e *Envelope) ToDispatchPayload() map[string]any {
	out := map[string]any{
		"url_callback": e.URLCallback,
		"base_url":     e.BaseURL,
		"method":       strings.ToUpper(e.Method),
		"encoding":     strings.ToLower(e.Encoding),
		"params":       e.Params,
	}
	return out
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := stringOr(v, ""); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstMapping(m map[string]any, keys []string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if mm, ok := v.(map[string]any); ok {
				return mm
			}
		}
	}
	return nil
}

// residual builds Params from everything in src that isn't a recognized meta
// key, per spec.md §3: "if neither is present, params is the source mapping
// minus the recognized meta keys".
func residual(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		if _, known := metaKeys[k]; known {
			continue
		}
		out[k] = v
	}
	return out
}

func stringOr(v any, def string) string {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
