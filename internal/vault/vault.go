// Package vault implements the AES-256-GCM token vault described in
// spec.md §4.2. The wire format requires exact control over IV placement,
// tag framing, and base64 segmentation that a higher-level crypto wrapper
// would hide — see DESIGN.md for why this is one of the few components
// built directly on the standard library rather than a pack dependency.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	version = "v1"
	ivLen   = 12 // 96-bit GCM nonce
)

// Vault encrypts/decrypts opaque secrets with a key derived from a single
// process secret. Configuring the secret is mandatory before first use —
// failure to do so is fatal on first call, not at boot, per spec.md §4.2.
type Vault struct {
	key [32]byte
}

// New derives a 256-bit key from secret via SHA-256. An empty secret is
// accepted here (construction never fails); Encrypt/Decrypt reject use of
// an unconfigured vault at call time.
func New(secret string) *Vault {
	v := &Vault{}
	if secret != "" {
		v.key = sha256.Sum256([]byte(secret))
	}
	return v
}

func (v *Vault) configured() bool {
	var zero [32]byte
	return v.key != zero
}

// Encrypt returns the colon-joined string v1:<iv>:<tag>:<ciphertext>, all
// base64-standard-encoded, for the given plaintext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if !v.configured() {
		return "", fmt.Errorf("vault: encryption secret not configured")
	}
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return "", fmt.Errorf("vault: new gcm: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagLen := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		version,
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. It rejects any payload whose version tag is
// not "v1" or whose three segments are not all present.
func (v *Vault) Decrypt(payload string) (string, error) {
	if !v.configured() {
		return "", fmt.Errorf("vault: encryption secret not configured")
	}

	parts := strings.Split(payload, ":")
	if len(parts) != 4 || parts[0] != version {
		return "", fmt.Errorf("vault: malformed payload")
	}

	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("vault: decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("vault: decode tag: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("vault: decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return "", fmt.Errorf("vault: new gcm: %w", err)
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	return string(plaintext), nil
}
