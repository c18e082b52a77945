package bitmart

import "testing"

func TestSignIsDeterministicHexHMAC(t *testing.T) {
	s := Signer{APISecret: "secret", APIMemo: "memo"}
	sig1 := s.Sign("1700000000000", "GET\n/contract/private/position-v2\n")
	sig2 := s.Sign("1700000000000", "GET\n/contract/private/position-v2\n")
	if sig1 != sig2 {
		t.Fatalf("expected deterministic signature, got %q vs %q", sig1, sig2)
	}
	if len(sig1) != 64 {
		t.Fatalf("expected 64-char hex sha256 digest, got len=%d", len(sig1))
	}
}

func TestSignChangesWithPayload(t *testing.T) {
	s := Signer{APISecret: "secret", APIMemo: "memo"}
	sig1 := s.Sign("1700000000000", "GET\n/a\n")
	sig2 := s.Sign("1700000000000", "GET\n/b\n")
	if sig1 == sig2 {
		t.Fatalf("expected different signatures for different payloads")
	}
}

func TestBuildRESTComponentsShape(t *testing.T) {
	s := Signer{APISecret: "secret", APIMemo: "memo"}
	payload, body := s.BuildRESTComponents("get", "/contract/private/position-v2", map[string]string{"symbol": "BTCUSDT"}, nil)
	want := "GET\n/contract/private/position-v2?symbol=BTCUSDT\n"
	if payload != want {
		t.Fatalf("payload = %q, want %q", payload, want)
	}
	if body != "" {
		t.Fatalf("expected empty body for GET with no json, got %q", body)
	}
}

func TestBuildRESTComponentsWithJSONBody(t *testing.T) {
	s := Signer{APISecret: "secret", APIMemo: "memo"}
	payload, body := s.BuildRESTComponents("POST", "/contract/private/submit", nil, map[string]any{"symbol": "BTCUSDT"})
	if body != `{"symbol":"BTCUSDT"}` {
		t.Fatalf("unexpected compact body: %q", body)
	}
	want := "POST\n/contract/private/submit\n" + body
	if payload != want {
		t.Fatalf("payload = %q, want %q", payload, want)
	}
}
