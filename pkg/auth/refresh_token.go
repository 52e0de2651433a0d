package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// RefreshTokenPrefix marks refresh tokens issued by the local authenticator
const RefreshTokenPrefix = "tenancy_rt_"

// refreshTokenBytes is the amount of entropy in a refresh token
const refreshTokenBytes = 32

// newRefreshToken returns an opaque refresh token and the digest it is
// stored under. Only the digest ever reaches the database.
func newRefreshToken() (token, digest string, err error) {
	secret := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	token = RefreshTokenPrefix + base64.RawURLEncoding.EncodeToString(secret)
	return token, refreshTokenDigest(token), nil
}

func refreshTokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// checkRefreshToken rejects strings that could not have come from
// newRefreshToken, so they are refused without a database lookup.
func checkRefreshToken(token string) error {
	encoded, ok := strings.CutPrefix(token, RefreshTokenPrefix)
	if !ok {
		return fmt.Errorf("refresh token must start with %q", RefreshTokenPrefix)
	}
	secret, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid refresh token encoding: %w", err)
	}
	if len(secret) != refreshTokenBytes {
		return fmt.Errorf("refresh token has %d bytes of entropy, want %d", len(secret), refreshTokenBytes)
	}
	return nil
}
