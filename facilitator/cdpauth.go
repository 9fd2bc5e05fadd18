package facilitator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// cdpTokenLifetime is how long a bearer token for one request stays valid.
const cdpTokenLifetime = 2 * time.Minute

// CDPAuth signs short-lived JWT bearer tokens for the Coinbase Developer
// Platform facilitator. It is immutable after construction and safe for
// concurrent use.
type CDPAuth struct {
	keyName    string
	privateKey any
	now        func() time.Time
}

// cdpClaims are the JWT claims the CDP API expects.
type cdpClaims struct {
	*jwt.Claims
	// URI is "{METHOD} {host}{path}" of the authorized request.
	URI string `json:"uri"`
}

// NewCDPAuth parses a PEM-encoded ECDSA (SEC1 or PKCS8) or Ed25519 key.
func NewCDPAuth(keyName, keySecret string) (*CDPAuth, error) {
	if keyName == "" {
		return nil, fmt.Errorf("CDP API key name must not be empty")
	}

	block, _ := pem.Decode([]byte(keySecret))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block: invalid PEM format")
	}

	var privateKey any
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		privateKey, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	switch privateKey.(type) {
	case *ecdsa.PrivateKey, crypto.Signer:
	default:
		return nil, fmt.Errorf("unsupported private key type: must be ECDSA or Ed25519")
	}

	return &CDPAuth{keyName: keyName, privateKey: privateKey, now: time.Now}, nil
}

// Authorization implements AuthorizationProvider with a fresh bearer token per request.
func (a *CDPAuth) Authorization(method, host, path string) (string, error) {
	token, err := a.token(method, host, path)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

func (a *CDPAuth) token(method, host, path string) (string, error) {
	alg := jose.EdDSA
	if _, ok := a.privateKey.(*ecdsa.PrivateKey); ok {
		alg = jose.ES256
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.keyName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := &cdpClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(cdpTokenLifetime)),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}
