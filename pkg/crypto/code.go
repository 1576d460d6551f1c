package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
)

// BackupCodeAlphabet is the character set for MFA backup codes:
// uppercase letters and digits only, so codes survive being read
// aloud or written down.
const BackupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomCode returns n characters drawn uniformly from alphabet using
// crypto/rand.
func RandomCode(n int, alphabet string) (string, error) {
	if n <= 0 || alphabet == "" {
		return "", errors.New("invalid code parameters")
	}

	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// MAC returns the hex HMAC-SHA256 of value under key. Backup codes are
// stored only in this form so the persistence layer cannot yield them
// back in plaintext.
func MAC(key []byte, value string) string {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(value))
	return hex.EncodeToString(m.Sum(nil))
}

// ConstantTimeContains reports whether needle is a member of set,
// comparing every element to avoid leaking the match position.
func ConstantTimeContains(set []string, needle string) bool {
	found := 0
	for _, s := range set {
		if len(s) == len(needle) {
			found |= subtle.ConstantTimeCompare([]byte(s), []byte(needle))
		}
	}
	return found == 1
}
