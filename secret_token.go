package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/goliatone/go-errors"
)

// DefaultSecretValidity is the window applied to verification and reset
// secrets when the config does not provide one.
const DefaultSecretValidity = 5 * time.Minute

// secretByteLen gives 256 bits of entropy per secret
const secretByteLen = 32

// IssuedSecret is the result of minting a single-use secret. Plaintext is
// returned exactly once for out-of-band delivery; only Hash is persisted,
// so possession of the plaintext is the sole proof of legitimacy.
type IssuedSecret struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// SecretService mints and checks single-use, time-bounded secrets used for
// email verification and password resets.
type SecretService interface {
	Issue(validity time.Duration) (IssuedSecret, error)
	Verify(storedHash, candidate string, expiresAt *time.Time, now time.Time) bool
}

// HashSecret returns the irreversible storage form of a secret. The system
// can never recover or re-display the plaintext.
func HashSecret(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

type secretService struct {
	now func() time.Time
}

// NewSecretService returns the default SecretService backed by crypto/rand.
func NewSecretService() SecretService {
	return &secretService{now: time.Now}
}

func (s *secretService) Issue(validity time.Duration) (IssuedSecret, error) {
	if validity <= 0 {
		validity = DefaultSecretValidity
	}

	buf := make([]byte, secretByteLen)
	if _, err := rand.Read(buf); err != nil {
		return IssuedSecret{}, errors.Wrap(err, errors.CategoryInternal, "failed to draw secret entropy")
	}

	plaintext := hex.EncodeToString(buf)

	return IssuedSecret{
		Plaintext: plaintext,
		Hash:      HashSecret(plaintext),
		ExpiresAt: s.now().Add(validity),
	}, nil
}

// Verify recomputes the candidate hash and compares it to the stored hash
// in constant time, and requires now to be at or before the expiry. A
// mismatch and an expired secret both yield false; callers must not
// distinguish the two. Verification success must be paired by the caller
// with clearing the stored secret to enforce single use.
func (s *secretService) Verify(storedHash, candidate string, expiresAt *time.Time, now time.Time) bool {
	if storedHash == "" || candidate == "" || expiresAt == nil {
		return false
	}

	if now.After(*expiresAt) {
		return false
	}

	return SecretsEqual(storedHash, HashSecret(candidate))
}

// SecretsEqual compares two secret hashes without leaking their content
// through timing.
func SecretsEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
