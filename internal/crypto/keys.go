// Package crypto derives per-room symmetric keys from a process-wide master
// secret and provides authenticated encryption of message bodies.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength     = 32
	kdfIterations = 100000
)

// KeyManager derives and caches per-room AEAD keys. Derivation is
// deterministic per (room, epoch), so every process holding the same master
// secret derives identical keys without coordination. The epoch advances once
// per rotation interval; ciphertext records its epoch so old content stays
// decryptable after rotation.
type KeyManager struct {
	master   []byte
	rotation time.Duration

	mu    sync.RWMutex
	suite map[string]cipher.AEAD
}

func NewKeyManager(master []byte, rotation time.Duration) *KeyManager {
	if rotation <= 0 {
		rotation = 7 * 24 * time.Hour
	}
	return &KeyManager{
		master:   master,
		rotation: rotation,
		suite:    make(map[string]cipher.AEAD),
	}
}

// CurrentEpoch returns the rotation window containing now.
func (k *KeyManager) CurrentEpoch() int64 {
	return k.EpochAt(time.Now())
}

// EpochAt returns the rotation window containing t.
func (k *KeyManager) EpochAt(t time.Time) int64 {
	return t.Unix() / int64(k.rotation.Seconds())
}

// DeriveRoomKey runs the KDF over the master secret with the room id and
// epoch as salt.
func (k *KeyManager) DeriveRoomKey(roomID string, epoch int64) []byte {
	salt := []byte(saltFor(roomID, epoch))
	return pbkdf2.Key(k.master, salt, kdfIterations, keyLength, sha256.New)
}

// Suite returns a cached AEAD for (roomID, epoch), deriving one on first use.
func (k *KeyManager) Suite(roomID string, epoch int64) (cipher.AEAD, error) {
	cacheKey := saltFor(roomID, epoch)

	k.mu.RLock()
	aead, ok := k.suite[cacheKey]
	k.mu.RUnlock()
	if ok {
		return aead, nil
	}

	key := k.DeriveRoomKey(roomID, epoch)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher for room %s: %w", roomID, err)
	}
	aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM for room %s: %w", roomID, err)
	}

	k.mu.Lock()
	k.suite[cacheKey] = aead
	k.mu.Unlock()

	return aead, nil
}

func saltFor(roomID string, epoch int64) string {
	// Epoch 0 keeps the legacy salt so content written before epochs were
	// stamped still decrypts.
	if epoch == 0 {
		return roomID
	}
	return fmt.Sprintf("%s|%d", roomID, epoch)
}
