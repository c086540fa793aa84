// Package auth issues and validates the optional HS256 stream tokens the
// carrier presents when connecting to the media-stream websocket.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StreamClaims binds a stream token to one call.
type StreamClaims struct {
	CallSID string `json:"call_sid"`
	jwt.RegisteredClaims
}

// GenerateStreamToken creates a short-lived token for one call. The TTL
// only needs to cover the window between the connect callback and the
// websocket dial.
func GenerateStreamToken(callSID, jwtSecret, issuer, audience string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	claims := StreamClaims{
		CallSID: callSID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Audience:  []string{audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign stream token: %w", err)
	}
	return tokenString, nil
}

// ValidateStreamToken parses the token and checks it authorizes the given
// call.
func ValidateStreamToken(tokenString, callSID, jwtSecret, issuer, audience string) (*StreamClaims, error) {
	claims := &StreamClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(audience))

	if err != nil {
		return nil, fmt.Errorf("failed to parse stream token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid stream token")
	}
	if claims.CallSID != callSID {
		return nil, fmt.Errorf("stream token issued for a different call")
	}

	return claims, nil
}
