// Package compress applies a reversible zstd transform to message bodies
// before encryption, and undoes it (after decryption) for delivery.
package compress

import (
	"encoding/base64"

	"github.com/klauspost/compress/zstd"

	"github.com/MrBlankCoding/ChannelChat/internal/crypto"
	"github.com/MrBlankCoding/ChannelChat/internal/domain"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
)

// Sentinel strings returned in place of content that could not be recovered.
// One bad record degrades to a placeholder instead of failing its batch.
const (
	DecompressFailed = "[Decompression failed]"
	ProcessFailed    = "[Processing failed]"
)

// DefaultMinSize is the smallest input worth compressing; below it the
// base64 framing overhead would net-lose.
const DefaultMinSize = 100

// Compressor is safe for concurrent use. EncodeAll/DecodeAll on shared
// encoder/decoder instances are concurrency-safe per the zstd package.
type Compressor struct {
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	minSize int
}

// New creates a Compressor with the given zstd level (1-22 zstd scale) and
// minimum input size. Zero values fall back to level 3 and DefaultMinSize.
func New(level, minSize int) (*Compressor, error) {
	if level <= 0 {
		level = 3
	}
	if minSize <= 0 {
		minSize = DefaultMinSize
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Compressor{enc: enc, dec: dec, minSize: minSize}, nil
}

// MinSize returns the compression threshold.
func (c *Compressor) MinSize() int {
	return c.minSize
}

// Compress returns the base64 compressed form of content and true, or the
// original content and false when the input is too small or compression
// would not save space.
func (c *Compressor) Compress(content string) (string, bool) {
	if len(content) < c.minSize {
		return content, false
	}

	compressed := c.enc.EncodeAll([]byte(content), nil)
	encoded := base64.StdEncoding.EncodeToString(compressed)

	// Only keep compression if it actually saves space.
	if len(encoded) < len(content) {
		return encoded, true
	}
	return content, false
}

// Decompress inverts Compress. It is the identity when isCompressed is
// false, and returns a sentinel failure string (not an error) on corruption.
func (c *Compressor) Decompress(content string, isCompressed bool) string {
	if !isCompressed || content == "" {
		return content
	}

	l := log.L()

	compressed, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		l.Warn().Err(err).Msg("decompression failed: bad base64")
		return DecompressFailed
	}

	decompressed, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		l.Warn().Err(err).Msg("decompression failed")
		return DecompressFailed
	}

	return string(decompressed)
}

// ProcessBatch rewrites each stored record's content in place to plaintext:
// decrypt first (when flagged and both ciphertext and nonce are present),
// then decompress. Non-text records are skipped and per-record failures are
// isolated with a placeholder rather than aborting the batch.
func (c *Compressor) ProcessBatch(messages []*domain.Message, roomID string, cipher *crypto.Cipher) {
	l := log.L()
	for _, msg := range messages {
		if msg == nil || msg.Kind == domain.KindImage {
			continue
		}

		if msg.Encrypted && msg.Content != "" && msg.Nonce != "" {
			plaintext, err := cipher.Decrypt(msg.Content, msg.Nonce, roomID, msg.KeyEpoch)
			if err != nil {
				l.Warn().
					Err(err).
					Str(log.FieldMessageID, msg.ID).
					Str(log.FieldRoomID, roomID).
					Msg("failed to process stored message")
				msg.Content = ProcessFailed
				continue
			}
			msg.Content = plaintext
		}

		if msg.Compressed {
			msg.Content = c.Decompress(msg.Content, true)
		}
	}
}
