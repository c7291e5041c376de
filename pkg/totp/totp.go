// Package totp implements RFC 6238 time-based one-time passwords for
// optional account 2FA. Hand-rolled against the standard library rather
// than a third-party authenticator package: no TOTP/2FA library was
// retrieved anywhere in the example corpus, and the algorithm is a dozen
// lines of HMAC-SHA1 over a counter, well within what the standard
// library already exercises for other hashing needs in this codebase.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	period    = 30 * time.Second
	digits    = 6
	secretLen = 20 // 160 bits, matches the HMAC-SHA1 block recommendation
)

// GenerateSecret creates a new random base32-encoded TOTP secret, suitable
// for rendering into an otpauth:// URI for an authenticator app.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// Code computes the 6-digit TOTP for secret at the given instant.
func Code(secret string, at time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	counter := uint64(at.Unix()) / uint64(period.Seconds())
	return fmt.Sprintf("%0*d", digits, hotp(key, counter)), nil
}

// Verify checks code against secret, allowing the adjacent time step on
// either side to tolerate clock drift between server and authenticator.
func Verify(secret, code string) bool {
	now := time.Now()
	for _, skew := range []time.Duration{0, -period, period} {
		expected, err := Code(secret, now.Add(skew))
		if err != nil {
			return false
		}
		if hmac.Equal([]byte(expected), []byte(code)) {
			return true
		}
	}
	return false
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return key, nil
}

func hotp(key []byte, counter uint64) int {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return int(truncated % mod)
}
