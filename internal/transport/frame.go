package transport

import (
	"errors"
	"fmt"

	"github.com/ares-project/aresnet/internal/protocol"
)

// UDP frame layout:
//
//	[magic:1][kind:1][flags:1][seq:4][from:1][to:1][len:2][payload...]
const (
	frameMagic     byte = 0xa7
	frameHeaderLen      = 11
	flagRegistered byte = 0x01
)

var errBadMagic = errors.New("bad frame magic")

type frame struct {
	kind    protocol.Kind
	flags   byte
	seq     uint32
	from    PlayerID
	to      PlayerID
	payload []byte
}

func (f frame) registered() bool {
	return f.flags&flagRegistered != 0
}

func encodeFrame(f frame) []byte {
	b := protocol.NewPacketBuilder()
	b.WriteByte(frameMagic).
		WriteByte(byte(f.kind)).
		WriteByte(f.flags).
		WriteUint32(f.seq).
		WriteByte(byte(f.from)).
		WriteByte(byte(f.to)).
		WriteUint16(uint16(len(f.payload))).
		WriteBytes(f.payload)
	return b.Build()
}

func decodeFrame(data []byte) (frame, error) {
	if len(data) < frameHeaderLen {
		return frame{}, fmt.Errorf("short frame (%d bytes)", len(data))
	}
	if data[0] != frameMagic {
		return frame{}, errBadMagic
	}

	r := protocol.NewPacketReader(data[1:])
	kind, _ := r.ReadByte()
	flags, _ := r.ReadByte()
	seq, _ := r.ReadUint32()
	from, _ := r.ReadByte()
	to, _ := r.ReadByte()
	n, _ := r.ReadUint16()
	if int(n) > r.Remaining() {
		return frame{}, fmt.Errorf("frame payload truncated: want %d, have %d", n, r.Remaining())
	}
	payload, err := r.ReadBytes(int(n))
	if err != nil {
		return frame{}, err
	}

	return frame{
		kind:    protocol.Kind(kind),
		flags:   flags,
		seq:     seq,
		from:    PlayerID(from),
		to:      PlayerID(to),
		payload: payload,
	}, nil
}
