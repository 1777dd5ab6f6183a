package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketReader consumes little-endian fields from a message body. Every
// short read reports io.ErrUnexpectedEOF and leaves the cursor in place.
type PacketReader struct {
	data []byte
	off  int
}

// NewPacketReader wraps a body for reading.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

func (p *PacketReader) take(n int) ([]byte, error) {
	if n < 0 || p.Remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	s := p.data[p.off : p.off+n]
	p.off += n
	return s, nil
}

// ReadByte reads one byte.
func (p *PacketReader) ReadByte() (byte, error) {
	s, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return s[0], nil
}

// ReadUint16 reads a little-endian uint16.
func (p *PacketReader) ReadUint16() (uint16, error) {
	s, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(s), nil
}

// ReadUint32 reads a little-endian uint32.
func (p *PacketReader) ReadUint32() (uint32, error) {
	s, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

// ReadUint64 reads a little-endian uint64.
func (p *PacketReader) ReadUint64() (uint64, error) {
	s, err := p.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(s), nil
}

// ReadString reads a string behind a one-byte length.
func (p *PacketReader) ReadString() (string, error) {
	start := p.off
	n, err := p.ReadByte()
	if err != nil {
		return "", err
	}
	s, err := p.take(int(n))
	if err != nil {
		p.off = start
		return "", err
	}
	return string(s), nil
}

// ReadWords reads a command word pair.
func (p *PacketReader) ReadWords() (Words, error) {
	s, err := p.take(8)
	if err != nil {
		return Words{}, err
	}
	return Words{
		W1: binary.LittleEndian.Uint32(s[:4]),
		W2: binary.LittleEndian.Uint32(s[4:]),
	}, nil
}

// ReadBytes reads exactly n bytes into a fresh slice.
func (p *PacketReader) ReadBytes(n int) ([]byte, error) {
	s, err := p.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s...), nil
}

// Remaining returns the number of unread bytes.
func (p *PacketReader) Remaining() int {
	return len(p.data) - p.off
}

func parseErr(what string, err error) error {
	return fmt.Errorf("failed to parse %s: %w", what, err)
}
