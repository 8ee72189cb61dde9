package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const totpSecretBytes = 20

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager generates and verifies RFC 6238 time-based one-time
// passwords. Digits, period and skew come from MFAConfig.
type totpManager struct {
	issuer string
	digits int
	period int // seconds
	skew   int
}

func newTOTPManager(cfg MFAConfig) *totpManager {
	return &totpManager{
		issuer: cfg.Issuer,
		digits: cfg.Digits,
		period: cfg.Period,
		skew:   cfg.Skew,
	}
}

// GenerateSecret returns a fresh random shared secret.
func (t *totpManager) GenerateSecret() ([]byte, error) {
	secret := make([]byte, totpSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return secret, nil
}

// ProvisionURI builds the otpauth:// URI that authenticator apps scan
// during enrollment.
func (t *totpManager) ProvisionURI(secret []byte, accountLabel string) string {
	label := url.PathEscape(t.issuer + ":" + accountLabel)

	q := url.Values{}
	q.Set("secret", base32NoPad.EncodeToString(secret))
	q.Set("issuer", t.issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(t.digits))
	q.Set("period", strconv.Itoa(t.period))

	return "otpauth://totp/" + label + "?" + q.Encode()
}

// VerifyCode checks a submitted code against the secret, accepting codes
// from the current time step and skew steps on either side.
func (t *totpManager) VerifyCode(secret []byte, code string, now time.Time) bool {
	if len(secret) == 0 || len(code) != t.digits || !isNumericString(code) {
		return false
	}

	counter := now.Unix() / int64(t.period)
	match := false

	// Check every window in the skew range unconditionally so the
	// comparison count does not depend on which window matches.
	for offset := -t.skew; offset <= t.skew; offset++ {
		c := counter + int64(offset)
		if c < 0 {
			continue
		}
		expected := hotpCode(secret, uint64(c), t.digits)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			match = true
		}
	}

	return match
}

// hotpCode computes the RFC 4226 HOTP value for a counter.
func hotpCode(secret []byte, counter uint64, digits int) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	code := strconv.FormatUint(uint64(value%mod), 10)
	for len(code) < digits {
		code = "0" + code
	}
	return code
}

func isNumericString(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
