package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const nonceSize = 12 // 96 bits for GCM

// ErrDecryptFailed marks an integrity failure: tag mismatch, malformed
// base64, or wrong key. Callers must surface it distinctly, never treat the
// message as empty plaintext.
var ErrDecryptFailed = errors.New("message decryption failed")

// Cipher encrypts and decrypts message bodies with the per-room keys from a
// KeyManager. The room id is bound as associated data so ciphertext from one
// room cannot be replayed as another's.
type Cipher struct {
	keys *KeyManager
}

func NewCipher(keys *KeyManager) *Cipher {
	return &Cipher{keys: keys}
}

// Encrypt seals plaintext under the room's current-epoch key. It returns the
// base64 ciphertext, base64 nonce and the key epoch to store alongside them.
func (c *Cipher) Encrypt(plaintext, roomID string) (string, string, int64, error) {
	epoch := c.keys.CurrentEpoch()

	aead, err := c.keys.Suite(roomID, epoch)
	if err != nil {
		return "", "", 0, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", 0, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), []byte(roomID))

	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce),
		epoch,
		nil
}

// Decrypt opens base64 ciphertext with the key for the recorded epoch.
func (c *Cipher) Decrypt(ciphertext, nonce, roomID string, epoch int64) (string, error) {
	aead, err := c.keys.Suite(roomID, epoch)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding: %v", ErrDecryptFailed, err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding: %v", ErrDecryptFailed, err)
	}
	if len(nonceBytes) != nonceSize {
		return "", fmt.Errorf("%w: nonce must be %d bytes", ErrDecryptFailed, nonceSize)
	}

	plaintext, err := aead.Open(nil, nonceBytes, sealed, []byte(roomID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	return string(plaintext), nil
}
