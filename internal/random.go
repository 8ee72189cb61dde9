package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strings"
)

const opaqueTokenBytes = 32

// Charset for backup codes. Ambiguous glyphs (0/O, 1/I/L) are excluded so
// codes survive being read aloud or retyped from paper.
const backupCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewOpaqueToken returns a fresh 256-bit random token encoded as unpadded
// base64url.
func NewOpaqueToken() (string, error) {
	raw := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the SHA-256 of a raw opaque token. Stores persist
// only this hash.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// NewBackupCode returns a random backup code of the given length drawn
// from an unambiguous uppercase alphabet.
func NewBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(backupCodeCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeCharset[n.Int64()])
	}

	return b.String(), nil
}

// CanonicalizeBackupCode normalizes user input before hashing: uppercase,
// with separators and whitespace stripped.
func CanonicalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// HashBackupCode derives the stored hash for a backup code. The account
// ID is mixed in so identical codes for different accounts never share a
// hash.
func HashBackupCode(accountID, canonicalCode string) [32]byte {
	return sha256.Sum256([]byte(accountID + ":" + canonicalCode))
}
