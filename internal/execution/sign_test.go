package execution

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSignerStampsTimestampAndSignsBody(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Signer{Secret: []byte("secret"), Now: func() time.Time { return at }}

	req, err := s.Sign(Payload{SignalID: 9, Asset: "BTC", Qty: d("0.012")})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if req.Timestamp != at.UnixMilli() {
		t.Fatalf("timestamp: %d", req.Timestamp)
	}
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["qty"] != "0.012" || int64(body["timestamp"].(float64)) != at.UnixMilli() {
		t.Fatalf("unexpected body %v", body)
	}
	if !Verify([]byte("secret"), req.Body, req.Signature) {
		t.Fatalf("signature does not verify")
	}
	if Verify([]byte("other"), req.Body, req.Signature) {
		t.Fatalf("signature verified with wrong secret")
	}
}

func TestSignerRequiresSecret(t *testing.T) {
	if _, err := (Signer{}).Sign(Payload{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
