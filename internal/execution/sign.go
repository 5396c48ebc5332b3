package execution

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
)

// Payload is the canonical request body sent to the execution endpoint.
type Payload struct {
	SignalID    uint64           `json:"signal_id"`
	Asset       string           `json:"asset"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Qty         decimal.Decimal  `json:"qty"`
	OrderType   string           `json:"order_type"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	SL          *decimal.Decimal `json:"sl,omitempty"`
	TP          *decimal.Decimal `json:"tp,omitempty"`
	BrokerID    uint64           `json:"broker_id"`
	UserID      string           `json:"user_id"`
	Credentials json.RawMessage  `json:"credentials,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// SignedRequest is one signed attempt. It is rebuilt on every attempt so a
// retry always carries a fresh timestamp.
type SignedRequest struct {
	Body      []byte
	Signature string
	Timestamp int64
}

type Signer struct {
	Secret []byte
	Now    func() time.Time
}

// Sign stamps the payload with the current millisecond time and signs the
// serialized body.
func (s Signer) Sign(p Payload) (SignedRequest, error) {
	if len(s.Secret) == 0 {
		return SignedRequest{}, fmt.Errorf("hmac secret is empty")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	p.Timestamp = now().UTC().UnixMilli()
	body, err := json.Marshal(p)
	if err != nil {
		return SignedRequest{}, fmt.Errorf("marshal payload: %w", err)
	}
	return SignedRequest{Body: body, Signature: Sign(s.Secret, body), Timestamp: p.Timestamp}, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret, body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
