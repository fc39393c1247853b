package sender

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// GenerateSignature computes an HMAC-SHA256 over the payload bytes and
// returns it formatted as "sha256=<hex_digest>".
func GenerateSignature(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil))), nil
}

// VerifySignature checks a received signature against the payload using
// constant-time comparison. Signatures of mismatched length are rejected
// before any comparison is attempted.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected, err := GenerateSignature(payload, secret)
	if err != nil {
		return false
	}
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}
