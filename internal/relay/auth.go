package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/callzhang/hypo/internal/protocol"
)

// ComputeAuthToken derives the X-Auth-Token value a device must present
// when the relay runs with a shared secret: base64 of
// HMAC-SHA256(secret, lowercased device id).
func ComputeAuthToken(secret, deviceID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(deviceID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyAuthToken checks a presented token in constant time. An empty
// or undecodable token never verifies.
func VerifyAuthToken(secret, deviceID, token string) bool {
	if token == "" {
		return false
	}
	presented, err := protocol.DecodeBase64(token)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(deviceID))
	return hmac.Equal(presented, mac.Sum(nil))
}
