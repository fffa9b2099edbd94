package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations matches hashes produced by the legacy admin console, stored
// as "<hex salt>:<hex key>" where the salt text itself is the PBKDF2 salt.
const pbkdf2Iterations = 100000

// HashPassword produces a salt:key PBKDF2-SHA256 hash.
func HashPassword(password string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	salt := hex.EncodeToString(raw)
	return salt + ":" + derive(password, salt), nil
}

func derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, sha256.Size, sha256.New)
	return hex.EncodeToString(key)
}

// Passwords checks an operator password against a PBKDF2 hash, or a plain
// value when no hash is configured.
type Passwords struct {
	hash  string
	plain string
}

func NewPasswords(hash, plain string) Passwords {
	return Passwords{hash: strings.TrimSpace(hash), plain: plain}
}

// Configured reports whether any credential is set; login is refused otherwise.
func (p Passwords) Configured() bool {
	return p.hash != "" || p.plain != ""
}

func (p Passwords) Check(password string) bool {
	if password == "" {
		return false
	}
	if p.hash != "" {
		salt, stored, ok := strings.Cut(p.hash, ":")
		if !ok || salt == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(derive(password, salt)), []byte(strings.ToLower(stored))) == 1
	}
	if p.plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(p.plain)) == 1
}
