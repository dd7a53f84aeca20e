// Package signing implements the webhook payload signature: a short-lived
// HS256 JWT whose body claim is the base64url sha-256 of the request body.
// Verification accepts the current or next signing key so keys can rotate
// without dropping in-flight deliveries.
package signing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const Issuer = "discovery-relay"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrBodyMismatch     = errors.New("signature does not match request body")
)

type claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign produces the signature token for a request body.
func Sign(body []byte, key string) (string, error) {
	now := time.Now()
	c := claims{
		Body: bodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
}

// Verify checks the token against the body with the current key, falling back
// to the next key during rotation.
func Verify(token string, body []byte, currentKey, nextKey string) error {
	err := verifyWith(token, body, currentKey)
	if err == nil {
		return nil
	}
	if nextKey != "" && nextKey != currentKey {
		if err2 := verifyWith(token, body, nextKey); err2 == nil {
			return nil
		}
	}
	return err
}

func verifyWith(token string, body []byte, key string) error {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(key), nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(c.Body), []byte(bodyHash(body))) != 1 {
		return ErrBodyMismatch
	}
	return nil
}
