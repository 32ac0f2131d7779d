// Package signature signs and verifies queue callback deliveries. The
// signature is an HS256 JWT whose claims bind the SHA-256 of the request
// body, verified against a current/next signing-key pair so key rotation
// never invalidates in-flight deliveries.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "clipshelf-queue"

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Keys holds the current and next signing keys. Next may be empty before the
// first rotation.
type Keys struct {
	Current string
	Next    string
}

func (k Keys) Configured() bool {
	return k.Current != ""
}

type bodyClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Sign produces the signature token for a payload body using the current key.
func Sign(keys Keys, body []byte) (string, error) {
	if !keys.Configured() {
		return "", fmt.Errorf("no signing key configured")
	}
	now := time.Now()
	claims := bodyClaims{
		Body: bodyDigest(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(keys.Current))
}

// Verify checks a delivery signature against the body, trying the current
// key first, then the next key to tolerate rotation.
func Verify(keys Keys, token string, body []byte) error {
	if token == "" {
		return ErrMissingSignature
	}
	if !keys.Configured() {
		return fmt.Errorf("no signing key configured")
	}

	if err := verifyWithKey(keys.Current, token, body); err == nil {
		return nil
	}
	if keys.Next != "" {
		if err := verifyWithKey(keys.Next, token, body); err == nil {
			return nil
		}
	}
	return ErrInvalidSignature
}

func verifyWithKey(key, token string, body []byte) error {
	parsed, err := jwt.ParseWithClaims(token, &bodyClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(key), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return err
	}
	claims, ok := parsed.Claims.(*bodyClaims)
	if !ok || claims.Body != bodyDigest(body) {
		return ErrInvalidSignature
	}
	return nil
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
