package signing

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"swap-quote/internal/core"
)

// Scheme selects the request-signing algorithm. The two schemes are
// mutually exclusive per upstream endpoint; the choice comes from
// configuration, never from auto-detection.
type Scheme string

const (
	SchemeRSA  Scheme = "rsa-sha256"
	SchemeHMAC Scheme = "hmac-sha512"
)

// Options describes where one scheme's key material comes from.
// Exactly one scheme is loaded per deployment.
type Options struct {
	Scheme         Scheme
	APIKey         string
	PrivateKeyPEM  string
	PrivateKeyPath string
	Secret         string
}

// Credential holds the signing key material for the process lifetime.
// Fields stay unexported: the material must never be logged or
// serialized, and nothing outside this package mutates it.
type Credential struct {
	scheme Scheme
	apiKey string
	rsaKey *rsa.PrivateKey
	secret []byte
}

// Load reads and validates the configured scheme's key material.
// Absent or malformed material is a startup configuration error, not a
// transient fault: it fails immediately with no fallback and no retry.
func Load(opts Options) (*Credential, error) {
	scheme := Scheme(strings.ToLower(strings.TrimSpace(string(opts.Scheme))))
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is required", core.ErrCredentialMissing)
	}
	switch scheme {
	case SchemeRSA:
		key, err := loadRSAPrivateKey(opts.PrivateKeyPEM, opts.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		return &Credential{scheme: SchemeRSA, apiKey: apiKey, rsaKey: key}, nil
	case SchemeHMAC:
		secret := strings.TrimSpace(opts.Secret)
		if secret == "" {
			return nil, fmt.Errorf("%w: hmac secret is required", core.ErrCredentialMissing)
		}
		return &Credential{scheme: SchemeHMAC, apiKey: apiKey, secret: []byte(secret)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown signing scheme %q", core.ErrCredentialMissing, opts.Scheme)
	}
}

func loadRSAPrivateKey(inline, path string) (*rsa.PrivateKey, error) {
	data := []byte(inline)
	if len(bytes.TrimSpace(data)) == 0 && path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read private key: %v", core.ErrCredentialMissing, err)
		}
		data = fileData
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: rsa private key is required", core.ErrCredentialMissing)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: rsa private key is not PEM", core.ErrCredentialMissing)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse rsa private key: %v", core.ErrCredentialMissing, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", core.ErrCredentialMissing)
	}
	return rsaKey, nil
}

func (c *Credential) Scheme() Scheme { return c.scheme }

func (c *Credential) APIKey() string { return c.apiKey }

// KeyHeader is the header carrying the API-key identifier. The upstream
// expects different names per scheme.
func (c *Credential) KeyHeader() string {
	if c.scheme == SchemeRSA {
		return "X-Api-Key"
	}
	return "api-key"
}

// SignatureHeader is the header carrying the request signature.
func (c *Credential) SignatureHeader() string {
	if c.scheme == SchemeRSA {
		return "X-Api-Signature"
	}
	return "sign"
}

// String keeps key material out of accidental %v logging.
func (c *Credential) String() string {
	return "signing credential (" + string(c.scheme) + ")"
}
