package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signer produces the HMAC-SHA256 request signature Bybit/Binance-style
// venues require on private REST calls: sign(timestamp + apiKey + recvWindow
// + queryOrBody) with the account's API secret.
type Signer struct {
	apiKey     string
	secret     []byte
	recvWindow string
}

// NewSigner builds a Signer for one account's API key pair.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secret:     []byte(apiSecret),
		recvWindow: "5000",
	}
}

// Sign returns the headers a private REST call must carry, signing the
// literal concatenation of timestamp, API key, recv window, and payload
// (query string for GET, JSON body for POST).
func (s *Signer) Sign(payload string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := timestamp + s.apiKey + s.recvWindow + payload

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	sig := hex.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-API-KEY":   s.apiKey,
		"X-TIMESTAMP": timestamp,
		"X-RECV-WINDOW": s.recvWindow,
		"X-SIGNATURE": sig,
	}
}
