package signing

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Sign produces the authentication signature over the canonical request
// bytes. Signing is pure: for a fixed credential and payload the output
// is identical on every call, and the payload is never mutated.
//
//   - rsa-sha256:  Base64(RSASSA-PKCS1-v1_5(privateKey, SHA256(payload)))
//   - hmac-sha512: Hex(HMAC-SHA512(secret, payload))
func (c *Credential) Sign(payload []byte) (string, error) {
	switch c.scheme {
	case SchemeRSA:
		digest := sha256.Sum256(payload)
		sig, err := rsa.SignPKCS1v15(nil, c.rsaKey, crypto.SHA256, digest[:])
		if err != nil {
			return "", fmt.Errorf("rsa sign: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), nil
	case SchemeHMAC:
		mac := hmac.New(sha512.New, c.secret)
		mac.Write(payload)
		return hex.EncodeToString(mac.Sum(nil)), nil
	default:
		return "", fmt.Errorf("unknown signing scheme %q", c.scheme)
	}
}

// Verify checks a signature produced by Sign. Used by the diagnostics
// CLI for a local self-check; the upstream does the real verification.
func (c *Credential) Verify(payload []byte, signature string) bool {
	switch c.scheme {
	case SchemeRSA:
		raw, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return false
		}
		digest := sha256.Sum256(payload)
		return rsa.VerifyPKCS1v15(&c.rsaKey.PublicKey, crypto.SHA256, digest[:], raw) == nil
	case SchemeHMAC:
		want, err := c.Sign(payload)
		if err != nil {
			return false
		}
		return hmac.Equal([]byte(want), []byte(signature))
	default:
		return false
	}
}
