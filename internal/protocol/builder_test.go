package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPacketBuilder_FieldsRoundTrip(t *testing.T) {
	b := NewPacketBuilder().
		WriteByte(7).
		WriteUint16(0xbeef).
		WriteUint32(0x01020304).
		WriteUint64(1 << 40).
		WriteString("Nebula").
		WriteWords(Words{W1: 11, W2: 22})

	want := []byte{7, 0xef, 0xbe, 0x04, 0x03, 0x02, 0x01}
	if got := b.Build()[:len(want)]; string(got) != string(want) {
		t.Fatalf("prefix = % x, want % x", got, want)
	}

	r := NewPacketReader(b.Build())
	if v, _ := r.ReadByte(); v != 7 {
		t.Fatalf("byte = %d", v)
	}
	if v, _ := r.ReadUint16(); v != 0xbeef {
		t.Fatalf("uint16 = %#x", v)
	}
	if v, _ := r.ReadUint32(); v != 0x01020304 {
		t.Fatalf("uint32 = %#x", v)
	}
	if v, _ := r.ReadUint64(); v != 1<<40 {
		t.Fatalf("uint64 = %d", v)
	}
	if s, _ := r.ReadString(); s != "Nebula" {
		t.Fatalf("string = %q", s)
	}
	if w, _ := r.ReadWords(); w != (Words{W1: 11, W2: 22}) {
		t.Fatalf("words = %+v", w)
	}
	if r.Remaining() != 0 {
		t.Fatalf("remaining = %d", r.Remaining())
	}
}

func TestPacketBuilder_LongStringCutOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", MaxStringLen-1) + "é"
	data := NewPacketBuilder().WriteString(s).Build()
	if int(data[0]) != MaxStringLen-1 {
		t.Fatalf("length prefix = %d", data[0])
	}
	if !utf8.Valid(data[1:]) {
		t.Fatal("truncated string is not valid UTF-8")
	}
}

func TestPacketReader_ShortString(t *testing.T) {
	r := NewPacketReader([]byte{5, 'a', 'b'})
	if _, err := r.ReadString(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v", err)
	}
	if r.Remaining() != 3 {
		t.Fatalf("cursor moved on failed read: remaining %d", r.Remaining())
	}
}
