// Package signature provides HMAC-SHA256 signing for outbound webhook
// deliveries and subscription secret generation.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign generates the HMAC-SHA256 signature for an outbound payload.
// The content to sign is "{timestamp}.{payload}" and the result is the hex
// digest. Clients recompute this with their subscription secret.
func Sign(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return hex.EncodeToString(mac.Sum(nil))
}
