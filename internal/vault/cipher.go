package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

// Cipher encrypts token material with XChaCha20-Poly1305 under a
// versioned key ring. New writes always use the highest key version;
// reads accept any version still on the ring, so keys rotate without a
// flag-day re-encryption.
type Cipher struct {
	keys    map[uint8][]byte
	current uint8
}

// ciphertext layout: [1 byte key version][24 byte nonce][sealed data].
const nonceSize = chacha20poly1305.NonceSizeX

// NewCipher parses a key ring of the form "v1:<base64>,v2:<base64>"
// where each key decodes to exactly 32 bytes.
func NewCipher(keyRing string) (*Cipher, error) {
	keys := make(map[uint8][]byte)
	var versions []int
	for _, entry := range strings.Split(keyRing, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, encoded, found := strings.Cut(entry, ":")
		if !found || !strings.HasPrefix(name, "v") {
			return nil, fmt.Errorf("malformed key entry %q, want v<N>:<base64>", name)
		}
		version, err := strconv.Atoi(strings.TrimPrefix(name, "v"))
		if err != nil || version < 1 || version > 255 {
			return nil, fmt.Errorf("key version %q out of range 1-255", name)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", name, err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key %s must be %d bytes, got %d", name, chacha20poly1305.KeySize, len(key))
		}
		if _, exists := keys[uint8(version)]; exists {
			return nil, fmt.Errorf("duplicate key version %s", name)
		}
		keys[uint8(version)] = key
		versions = append(versions, version)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("key ring is empty")
	}
	sort.Ints(versions)
	return &Cipher{keys: keys, current: uint8(versions[len(versions)-1])}, nil
}

// Encrypt seals plaintext under the current key.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.keys[c.current])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+aead.Overhead())
	out[0] = c.current
	if _, err := rand.Read(out[1 : 1+nonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(out, out[1:1+nonceSize], plaintext, nil), nil
}

// Decrypt opens ciphertext produced by any key still on the ring.
// Unknown versions, truncation, and authentication failures all map to
// ErrTokenIntegrity so callers surface them loudly instead of treating
// them as "not connected".
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 1+nonceSize {
		return nil, fmt.Errorf("%w: ciphertext truncated", domain.ErrTokenIntegrity)
	}
	key, ok := c.keys[ciphertext[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %d", domain.ErrTokenIntegrity, ciphertext[0])
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, ciphertext[1:1+nonceSize], ciphertext[1+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenIntegrity, err)
	}
	return plaintext, nil
}

// CurrentVersion exposes the write-key version for diagnostics.
func (c *Cipher) CurrentVersion() uint8 { return c.current }
