package handshake

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"github.com/ares-project/aresnet/internal/protocol"
)

// Checksum folds the BLAKE3 digest of r into 32 bits.
func Checksum(r io.Reader) (uint32, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("failed to hash scenario: %w", err)
	}
	return fold(h.Sum(nil)), nil
}

// ChecksumBytes is Checksum over an in-memory scenario.
func ChecksumBytes(data []byte) uint32 {
	sum := blake3.Sum256(data)
	return fold(sum[:])
}

func fold(digest []byte) uint32 {
	var v uint32
	for i := 0; i+4 <= len(digest); i += 4 {
		v ^= binary.LittleEndian.Uint32(digest[i:])
	}
	return v
}

// ScenarioFromFile builds the identity of a scenario file.
func ScenarioFromFile(path, url string, version uint32) (protocol.ScenarioIdentity, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.ScenarioIdentity{}, fmt.Errorf("failed to open scenario: %w", err)
	}
	defer f.Close()

	sum, err := Checksum(f)
	if err != nil {
		return protocol.ScenarioIdentity{}, err
	}
	return protocol.ScenarioIdentity{
		Filename: filepath.Base(path),
		URL:      url,
		Version:  version,
		Checksum: sum,
	}, nil
}

// MismatchError describes diverging scenario identities.
type MismatchError struct {
	Local  protocol.ScenarioIdentity
	Remote protocol.ScenarioIdentity
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("scenario mismatch: local %s v%d (%08x), remote %s v%d (%08x)",
		e.Local.Filename, e.Local.Version, e.Local.Checksum,
		e.Remote.Filename, e.Remote.Version, e.Remote.Checksum)
}

func (e *MismatchError) Unwrap() error {
	return ErrScenarioMismatch
}
