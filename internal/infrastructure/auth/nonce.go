package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// NonceService issues and verifies short-lived request nonces bound to
// an action and a user. A nonce is an HMAC over the action, the user and
// a coarse time bucket; verification accepts the current and previous
// bucket, so a nonce stays valid for between one and two lifetimes.
type NonceService struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewNonceService creates a nonce service with the given secret and
// per-bucket lifetime
func NewNonceService(secret string, lifetime time.Duration) *NonceService {
	return &NonceService{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Create issues a nonce for an action and user
func (s *NonceService) Create(action, userID string) string {
	return s.tokenForBucket(action, userID, s.bucket(0))
}

// Verify reports whether a nonce is valid for an action and user
func (s *NonceService) Verify(token, action, userID string) bool {
	for _, bucket := range []int64{s.bucket(0), s.bucket(-1)} {
		expected := s.tokenForBucket(action, userID, bucket)
		if hmac.Equal([]byte(token), []byte(expected)) {
			return true
		}
	}
	return false
}

// bucket returns the time bucket offset from the current one
func (s *NonceService) bucket(offset int64) int64 {
	return s.now().Unix()/int64(s.lifetime.Seconds()) + offset
}

func (s *NonceService) tokenForBucket(action, userID string, bucket int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%d", action, userID, bucket)
	// The first 10 hex chars are enough to make forgery impractical
	// while keeping the token short for headers
	return hex.EncodeToString(mac.Sum(nil))[:10]
}
