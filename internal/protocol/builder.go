package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// MaxStringLen is the longest string a one-byte length prefix can carry.
const MaxStringLen = 255

// PacketBuilder appends little-endian fields to a message body. Methods
// chain so a body reads in wire order.
type PacketBuilder struct {
	buf []byte
}

// NewPacketBuilder creates a builder with room for a typical tick body.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{buf: make([]byte, 0, 64)}
}

// Reset empties the builder and keeps its storage.
func (b *PacketBuilder) Reset() {
	b.buf = b.buf[:0]
}

// WriteByte appends one byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf = append(b.buf, v)
	return b
}

// WriteUint16 appends v in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

// WriteUint32 appends v in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

// WriteUint64 appends v in little-endian order.
func (b *PacketBuilder) WriteUint64(v uint64) *PacketBuilder {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
	return b
}

// WriteWords appends a command word pair, W1 first.
func (b *PacketBuilder) WriteWords(w Words) *PacketBuilder {
	return b.WriteUint32(w.W1).WriteUint32(w.W2)
}

// WriteString appends s behind a one-byte length. Strings longer than
// MaxStringLen bytes are cut at the last whole rune that fits.
//
//	[length:1][bytes...]
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	if len(s) > MaxStringLen {
		cut := MaxStringLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	b.buf = append(b.buf, byte(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// WriteBytes appends data unchanged.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf = append(b.buf, data...)
	return b
}

// Build returns the body. The slice aliases the builder until Reset.
func (b *PacketBuilder) Build() []byte {
	return b.buf
}

// Len returns the body size so far.
func (b *PacketBuilder) Len() int {
	return len(b.buf)
}
