package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
)

// claimKeyAlphabet omits easily-confused characters (0/O, 1/I/L) so a key
// survives being read off a phone screen and typed into a radio app.
const claimKeyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// HashSecret returns the SHA-256 hex digest of a secret. API keys and user
// tokens are stored in this form only.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretEqual compares a presented secret against a stored hash in
// constant time.
func SecretEqual(secret, storedHash string) bool {
	h := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}

// RandomHex generates a random hexadecimal string of n bytes.
func RandomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// NewAPIKeySecret mints a fresh relay credential.
func NewAPIKeySecret() (string, error) {
	return RandomHex(20)
}

// NewClaimKey generates a claim key of the given length. Long enough that
// guessing is infeasible within the claim window, short enough for a human
// to relay over a radio DM.
func NewClaimKey(length int) (string, error) {
	if length < 6 {
		length = 6
	}
	max := big.NewInt(int64(len(claimKeyAlphabet)))
	key := make([]byte, length)
	for i := range key {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		key[i] = claimKeyAlphabet[n.Int64()]
	}
	return string(key), nil
}
