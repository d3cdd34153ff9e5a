package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

func hmacHex(secret, message []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC compares signature with hex(HMAC-SHA256(secret, payload)) in
// constant time. prefix, when set, is expected in front of the hex digest.
func VerifyHMAC(secret, payload []byte, signature, prefix string) bool {
	if len(secret) == 0 {
		return false
	}
	expected := prefix + hmacHex(secret, payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignHMAC returns prefix + hex(HMAC-SHA256(secret, payload)).
func SignHMAC(secret, payload []byte, prefix string) string {
	return prefix + hmacHex(secret, payload)
}
