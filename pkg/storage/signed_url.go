package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner mints and validates HMAC-signed download tokens for stored
// files (uploaded receipts and generated exports). Tokens are self-contained:
// resource ID, expiry and path travel inside the token, so no server-side
// state is needed to validate a download link.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl}
}

func (s *SignedURLSigner) sign(prefix string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(prefix))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Generate returns a signed token referencing the resource and file path.
// Token layout: <resourceID>.<unix expiry>.<base64 path>.<signature>, where
// the signature covers the first three segments.
func (s *SignedURLSigner) Generate(resourceID, relPath string) (string, time.Time, error) {
	if resourceID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("resourceID and relPath required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	prefix := strings.Join([]string{
		resourceID,
		strconv.FormatInt(expiresAt.Unix(), 10),
		base64.RawURLEncoding.EncodeToString([]byte(relPath)),
	}, ".")
	return prefix + "." + s.sign(prefix), expiresAt, nil
}

// Parse validates a token and returns the embedded metadata. The signature
// is always verified; with allowExpired the expiry check is skipped, which
// cleanup routines use to locate files behind stale links.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (resourceID, relPath string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	prefix := strings.Join(parts[:3], ".")
	if !hmac.Equal([]byte(s.sign(prefix)), []byte(parts[3])) {
		return "", "", time.Time{}, fmt.Errorf("invalid token signature")
	}

	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt = time.Unix(expUnix, 0)
	if !allowExpired && time.Now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("token expired")
	}

	rawPath, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode path: %w", err)
	}
	return parts[0], string(rawPath), expiresAt, nil
}
