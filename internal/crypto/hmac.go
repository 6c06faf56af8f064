package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth signs venue REST requests the way Binance-style APIs expect:
// the query string carries timestamp, recvWindow and a hex HMAC-SHA256 of
// everything before it, and the key travels in a header.
type HMACAuth struct {
	Key        string
	Secret     string
	RecvWindow time.Duration
}

// KeyHeader is the header carrying the API key.
const KeyHeader = "X-MBX-APIKEY"

// Sign returns the hex HMAC-SHA256 of payload.
func (h *HMACAuth) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery adds timestamp, recvWindow and signature to params and
// returns the encoded query.
func (h *HMACAuth) SignedQuery(params url.Values, now time.Time) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if h.RecvWindow > 0 {
		q.Set("recvWindow", strconv.FormatInt(h.RecvWindow.Milliseconds(), 10))
	}
	payload := q.Encode()
	return payload + "&signature=" + h.Sign(payload)
}

// Headers returns the authentication headers.
func (h *HMACAuth) Headers() map[string]string {
	return map[string]string{KeyHeader: h.Key}
}

// Configured reports whether both key and secret are set.
func (h *HMACAuth) Configured() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
