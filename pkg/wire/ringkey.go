package wire

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	ringKeyHeader = "SYM-SEC-1"
	// RingKeySize is the secretbox key length.
	RingKeySize = 32
)

// RingKey is the symmetric key shared by every member of a ring. The
// text form is
//
//	SYM-SEC-1
//	<name>-<revision>
//
//	<base64 key>
type RingKey struct {
	Name     string
	Revision string
	Key      [RingKeySize]byte
}

// GenerateRingKey returns a fresh random key whose revision is the
// current UTC time.
func GenerateRingKey(name string) (*RingKey, error) {
	if name == "" || strings.ContainsAny(name, "\n") {
		return nil, fmt.Errorf("invalid ring name %q", name)
	}
	k := &RingKey{Name: name, Revision: time.Now().UTC().Format("20060102150405")}
	if _, err := rand.Read(k.Key[:]); err != nil {
		return nil, fmt.Errorf("generating ring key: %w", err)
	}
	return k, nil
}

// ParseRingKey parses the text form of a ring key.
func ParseRingKey(text string) (*RingKey, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if len(lines) < 4 || lines[0] != ringKeyHeader || lines[2] != "" {
		return nil, fmt.Errorf("ring key: expected %s header, name line, blank line, key", ringKeyHeader)
	}

	nameRev := lines[1]
	i := strings.LastIndexByte(nameRev, '-')
	if i <= 0 || i == len(nameRev)-1 {
		return nil, fmt.Errorf("ring key: malformed name-revision %q", nameRev)
	}

	raw, err := base64.StdEncoding.DecodeString(lines[3])
	if err != nil {
		return nil, fmt.Errorf("ring key: decoding key: %w", err)
	}
	if len(raw) != RingKeySize {
		return nil, fmt.Errorf("ring key: key is %d bytes, want %d", len(raw), RingKeySize)
	}

	k := &RingKey{Name: nameRev[:i], Revision: nameRev[i+1:]}
	copy(k.Key[:], raw)
	return k, nil
}

// LoadRingKey reads and parses a ring key file.
func LoadRingKey(path string) (*RingKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ring key: %w", err)
	}
	return ParseRingKey(string(data))
}

// NameWithRevision is the key's "<name>-<revision>" line.
func (k *RingKey) NameWithRevision() string {
	return k.Name + "-" + k.Revision
}

// String renders the text form accepted by ParseRingKey.
func (k *RingKey) String() string {
	return ringKeyHeader + "\n" + k.NameWithRevision() + "\n\n" +
		base64.StdEncoding.EncodeToString(k.Key[:]) + "\n"
}

// Fingerprint identifies the key material without revealing it. Safe
// to log.
func (k *RingKey) Fingerprint() string {
	sum := blake3.Sum256(k.Key[:])
	return hex.EncodeToString(sum[:8])
}
