package httpactivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDispatchMissingURLCallbackIsError(t *testing.T) {
	res := Dispatch(context.Background(), map[string]any{"method": "POST"})
	if res.Status != "error" {
		t.Fatalf("expected error status, got %q", res.Status)
	}
}

func TestDispatchPOSTSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res := Dispatch(context.Background(), map[string]any{
		"url_callback": srv.URL,
		"method":       "POST",
		"params":       map[string]any{"symbol": "BTCUSDT"},
	})
	if res.Status != "ok" {
		t.Fatalf("expected ok status, got %+v", res)
	}
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestDispatchGETSendsParamsAsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Query().Get("symbol") != "ETHUSDT" {
			t.Errorf("expected query param symbol=ETHUSDT, got %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := Dispatch(context.Background(), map[string]any{
		"url_callback": srv.URL,
		"method":       "GET",
		"params":       map[string]any{"symbol": "ETHUSDT"},
	})
	if res.Status != "ok" {
		t.Fatalf("expected ok status, got %+v", res)
	}
}

func TestDispatchNonSuccessCodeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := Dispatch(context.Background(), map[string]any{
		"url_callback": srv.URL,
		"method":       "POST",
		"params":       map[string]any{},
	})
	if res.Status != "error" {
		t.Fatalf("expected error status for 500, got %q", res.Status)
	}
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected code 500, got %d", res.Code)
	}
}

func TestDispatchRelativeURLJoinedWithBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback/foo" {
			t.Errorf("expected joined path /callback/foo, got %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := Dispatch(context.Background(), map[string]any{
		"url_callback": "/callback/foo",
		"base_url":     srv.URL,
		"method":       "POST",
		"params":       map[string]any{},
	})
	if res.Status != "ok" {
		t.Fatalf("expected ok status, got %+v", res)
	}
}
