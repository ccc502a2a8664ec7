package rumor

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// ServiceFile is a named file delivered to every member of a service
// group. Checksum is the hex blake3 digest of Body.
type ServiceFile struct {
	FromID       string `cbor:"from_id" json:"from_id"`
	ServiceGroup string `cbor:"service_group" json:"service_group"`
	Incarnation  uint64 `cbor:"incarnation" json:"incarnation"`
	Encrypted    bool   `cbor:"encrypted,omitempty" json:"encrypted"`
	Filename     string `cbor:"filename" json:"filename"`
	Body         []byte `cbor:"body" json:"body"`
	Checksum     string `cbor:"checksum,omitempty" json:"checksum"`
}

// NewServiceFile builds a file rumor and computes its checksum.
func NewServiceFile(fromID, group, filename string, incarnation uint64, body []byte, encrypted bool) *ServiceFile {
	return &ServiceFile{
		FromID:       fromID,
		ServiceGroup: group,
		Incarnation:  incarnation,
		Encrypted:    encrypted,
		Filename:     filename,
		Body:         body,
		Checksum:     Checksum(body),
	}
}

// Checksum is the hex blake3-256 digest of body.
func Checksum(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (f *ServiceFile) Kind() Kind  { return KindServiceFile }
func (f *ServiceFile) Key() string { return f.ServiceGroup }
func (f *ServiceFile) ID() string  { return f.Filename }

func (f *ServiceFile) Merge(incoming Rumor) (Rumor, bool) {
	o, ok := incoming.(*ServiceFile)
	if !ok || KeyOf(o) != KeyOf(f) {
		return f, false
	}
	if supersedes(f, o, f.Incarnation, o.Incarnation) {
		return o, true
	}
	return f, false
}

func (f *ServiceFile) validate() error {
	if f.Filename == "" {
		return invalid(KindServiceFile, "filename")
	}
	if err := validateGroup(KindServiceFile, f.ServiceGroup); err != nil {
		return err
	}
	if f.Checksum != "" && f.Checksum != Checksum(f.Body) {
		return fmt.Errorf("%w: service file %s/%s checksum mismatch", ErrInvalid, f.ServiceGroup, f.Filename)
	}
	return nil
}
