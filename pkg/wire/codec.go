// Package wire turns protocol messages into bytes and back. A message
// is CBOR encoded, compressed with zstd when it is large, sealed with
// the ring key when one is configured, and wrapped in an Envelope.
package wire

import (
	"crypto/rand"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/ryandielhenn/butterfly/internal/codec"
)

const (
	// NonceSize is the secretbox nonce length.
	NonceSize = 24
	// CompressThreshold is the payload size above which payloads are
	// zstd compressed.
	CompressThreshold = 1024
	// MaxDecompressedSize bounds what a single envelope may expand to.
	MaxDecompressedSize = 16 << 20
)

// Envelope is the outermost wire structure.
type Envelope struct {
	Payload    []byte `cbor:"payload"`
	Encrypted  bool   `cbor:"encrypted,omitempty"`
	Nonce      []byte `cbor:"nonce,omitempty"`
	Compressed bool   `cbor:"compressed,omitempty"`
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// Codec encodes and decodes envelopes for one ring. A nil ring key
// means plaintext. Codec is safe for concurrent use.
type Codec struct {
	key *RingKey
}

// NewCodec returns a codec sealing with key, or plaintext if key is nil.
func NewCodec(key *RingKey) *Codec {
	return &Codec{key: key}
}

// Encrypted reports whether the codec seals payloads.
func (c *Codec) Encrypted() bool { return c.key != nil }

// Seal wraps payload in a serialized Envelope.
func (c *Codec) Seal(payload []byte) ([]byte, error) {
	env := Envelope{Payload: payload}

	if len(payload) > CompressThreshold {
		compressed := zstdEncoder.EncodeAll(payload, nil)
		if len(compressed) < len(payload) {
			env.Payload = compressed
			env.Compressed = true
		}
	}

	if c.key != nil {
		var nonce [NonceSize]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("generating nonce: %w", err)
		}
		env.Payload = secretbox.Seal(nil, env.Payload, &nonce, &c.key.Key)
		env.Nonce = nonce[:]
		env.Encrypted = true
	}

	return codec.Marshal(env)
}

// Open parses a serialized Envelope and returns its plaintext payload.
func (c *Codec) Open(data []byte) ([]byte, error) {
	var env Envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return c.OpenEnvelope(env)
}

// OpenEnvelope returns the plaintext payload of env.
func (c *Codec) OpenEnvelope(env Envelope) ([]byte, error) {
	if len(env.Payload) == 0 {
		return nil, mismatch("payload")
	}

	payload := env.Payload
	if env.Encrypted {
		if len(env.Nonce) != NonceSize {
			return nil, mismatch("nonce")
		}
		if c.key == nil {
			return nil, ErrNoRingKey
		}
		var nonce [NonceSize]byte
		copy(nonce[:], env.Nonce)
		opened, ok := secretbox.Open(nil, payload, &nonce, &c.key.Key)
		if !ok {
			return nil, ErrDecrypt
		}
		payload = opened
	} else if c.key != nil {
		// A keyed ring never accepts plaintext.
		return nil, mismatch("encrypted")
	}

	if env.Compressed {
		out, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing payload: %w", err)
		}
		payload = out
	}
	return payload, nil
}

// EncodeMessage serializes and seals m.
func (c *Codec) EncodeMessage(m *Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	payload, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Type, err)
	}
	return c.Seal(payload)
}

// DecodeMessage opens and parses a message. Rumor records are left
// encoded; callers decode them one by one so that a single bad rumor
// does not cost the whole message.
func (c *Codec) DecodeMessage(data []byte) (*Message, error) {
	payload, err := c.Open(data)
	if err != nil {
		return nil, err
	}
	var m Message
	if err := codec.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
