package protocol

import (
	"fmt"

	"github.com/ares-project/aresnet/internal/gametime"
)

// TickPayload is the body of KindTick and KindResend messages.
type TickPayload struct {
	Words   Words
	Backups []Words
}

// BuildTick encodes a tick payload.
// Format: [w1:4][w2:4][count:1][backup w1:4 w2:4]...
func BuildTick(p TickPayload) []byte {
	n := len(p.Backups)
	if n > MaxBackupTicks {
		n = MaxBackupTicks
	}
	b := NewPacketBuilder()
	b.WriteWords(p.Words)
	b.WriteByte(byte(n))
	for _, w := range p.Backups[:n] {
		b.WriteWords(w)
	}
	return b.Build()
}

// ParseTick decodes a tick payload. Backup slots holding NoBackupWord are skipped.
func ParseTick(data []byte) (TickPayload, error) {
	r := NewPacketReader(data)
	var p TickPayload

	w, err := r.ReadWords()
	if err != nil {
		return p, parseErr("tick words", err)
	}
	p.Words = w

	n, err := r.ReadByte()
	if err != nil {
		return p, parseErr("tick backup count", err)
	}
	if n > MaxBackupTicks {
		return p, fmt.Errorf("failed to parse tick: %d backups exceeds %d", n, MaxBackupTicks)
	}
	for i := 0; i < int(n); i++ {
		bw, err := r.ReadWords()
		if err != nil {
			return p, parseErr("tick backup", err)
		}
		if bw.W1 == NoBackupWord {
			continue
		}
		p.Backups = append(p.Backups, bw)
	}
	return p, nil
}

// ResendRequest asks a peer to replay the commands it sent for a tick.
type ResendRequest struct {
	Time gametime.Time
}

// BuildResendRequest encodes a resend request. Format: [time:4]
func BuildResendRequest(m ResendRequest) []byte {
	return NewPacketBuilder().WriteUint32(uint32(m.Time)).Build()
}

// ParseResendRequest decodes a resend request.
func ParseResendRequest(data []byte) (ResendRequest, error) {
	v, err := NewPacketReader(data).ReadUint32()
	if err != nil {
		return ResendRequest{}, parseErr("resend request", err)
	}
	return ResendRequest{Time: gametime.Mask(v)}, nil
}

// AdmiralNumber binds a player id to an admiral index.
type AdmiralNumber struct {
	Player  uint8
	Admiral uint8
}

// BuildAdmiralNumber encodes an admiral assignment. Format: [player:1][admiral:1]
func BuildAdmiralNumber(m AdmiralNumber) []byte {
	return NewPacketBuilder().WriteByte(m.Player).WriteByte(m.Admiral).Build()
}

// ParseAdmiralNumber decodes an admiral assignment.
func ParseAdmiralNumber(data []byte) (AdmiralNumber, error) {
	r := NewPacketReader(data)
	var m AdmiralNumber
	var err error
	if m.Player, err = r.ReadByte(); err != nil {
		return m, parseErr("admiral number", err)
	}
	if m.Admiral, err = r.ReadByte(); err != nil {
		return m, parseErr("admiral number", err)
	}
	if m.Admiral >= MaxAdmirals {
		return m, fmt.Errorf("failed to parse admiral number: admiral %d out of range", m.Admiral)
	}
	return m, nil
}

// StartGame commits every peer to the negotiated latency and seed.
type StartGame struct {
	StartTime gametime.Time
	Latency   uint8
	Seed      uint32
}

// BuildStartGame encodes a start message. Format: [start:4][latency:1][seed:4]
func BuildStartGame(m StartGame) []byte {
	return NewPacketBuilder().
		WriteUint32(uint32(m.StartTime)).
		WriteByte(m.Latency).
		WriteUint32(m.Seed).
		Build()
}

// ParseStartGame decodes a start message.
func ParseStartGame(data []byte) (StartGame, error) {
	r := NewPacketReader(data)
	var m StartGame
	t, err := r.ReadUint32()
	if err != nil {
		return m, parseErr("start game", err)
	}
	m.StartTime = gametime.Mask(t)
	if m.Latency, err = r.ReadByte(); err != nil {
		return m, parseErr("start game", err)
	}
	if m.Seed, err = r.ReadUint32(); err != nil {
		return m, parseErr("start game", err)
	}
	return m, nil
}

// PlayerInfo is the identity of one player as announced on the wire.
type PlayerInfo struct {
	ID    uint8
	Name  string
	Race  uint8
	Color uint8
}

func writePlayerInfo(b *PacketBuilder, p PlayerInfo) {
	b.WriteByte(p.ID).WriteString(p.Name).WriteByte(p.Race).WriteByte(p.Color)
}

func readPlayerInfo(r *PacketReader) (PlayerInfo, error) {
	var p PlayerInfo
	var err error
	if p.ID, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.Name, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.Race, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.Color, err = r.ReadByte(); err != nil {
		return p, err
	}
	return p, nil
}

// BuildPlayerInfo encodes a player identity (PlayerJoined, Name).
// Format: [id:1][name:str][race:1][color:1]
func BuildPlayerInfo(p PlayerInfo) []byte {
	b := NewPacketBuilder()
	writePlayerInfo(b, p)
	return b.Build()
}

// ParsePlayerInfo decodes a player identity.
func ParsePlayerInfo(data []byte) (PlayerInfo, error) {
	p, err := readPlayerInfo(NewPacketReader(data))
	if err != nil {
		return p, parseErr("player info", err)
	}
	return p, nil
}

// JoinRequest is sent by a joining peer to the host.
type JoinRequest struct {
	GameName string
	Password string
	Player   PlayerInfo
}

// BuildJoinRequest encodes a join request. Format: [game:str][password:str][player]
func BuildJoinRequest(m JoinRequest) []byte {
	b := NewPacketBuilder()
	b.WriteString(m.GameName).WriteString(m.Password)
	writePlayerInfo(b, m.Player)
	return b.Build()
}

// ParseJoinRequest decodes a join request.
func ParseJoinRequest(data []byte) (JoinRequest, error) {
	r := NewPacketReader(data)
	var m JoinRequest
	var err error
	if m.GameName, err = r.ReadString(); err != nil {
		return m, parseErr("join request", err)
	}
	if m.Password, err = r.ReadString(); err != nil {
		return m, parseErr("join request", err)
	}
	if m.Player, err = readPlayerInfo(r); err != nil {
		return m, parseErr("join request", err)
	}
	return m, nil
}

// JoinApproved assigns the joiner its id and lists the players already present.
type JoinApproved struct {
	PlayerID uint8
	HostID   uint8
	GameName string
	Players  []PlayerInfo
}

// BuildJoinApproved encodes an approval. Format: [id:1][host:1][game:str][count:1][player]...
func BuildJoinApproved(m JoinApproved) []byte {
	b := NewPacketBuilder()
	b.WriteByte(m.PlayerID).WriteByte(m.HostID).WriteString(m.GameName)
	b.WriteByte(byte(len(m.Players)))
	for _, p := range m.Players {
		writePlayerInfo(b, p)
	}
	return b.Build()
}

// ParseJoinApproved decodes an approval.
func ParseJoinApproved(data []byte) (JoinApproved, error) {
	r := NewPacketReader(data)
	var m JoinApproved
	var err error
	if m.PlayerID, err = r.ReadByte(); err != nil {
		return m, parseErr("join approved", err)
	}
	if m.HostID, err = r.ReadByte(); err != nil {
		return m, parseErr("join approved", err)
	}
	if m.GameName, err = r.ReadString(); err != nil {
		return m, parseErr("join approved", err)
	}
	n, err := r.ReadByte()
	if err != nil {
		return m, parseErr("join approved", err)
	}
	if int(n) > MaxNetPlayerNum {
		return m, fmt.Errorf("failed to parse join approved: %d players exceeds %d", n, MaxNetPlayerNum)
	}
	for i := 0; i < int(n); i++ {
		p, err := readPlayerInfo(r)
		if err != nil {
			return m, parseErr("join approved player", err)
		}
		m.Players = append(m.Players, p)
	}
	return m, nil
}

// BuildReason encodes a single reason byte (JoinDenied, Decline, PlayerLeft).
func BuildReason(reason byte) []byte {
	return []byte{reason}
}

// ParseReason decodes a single reason byte.
func ParseReason(data []byte) (byte, error) {
	if len(data) < 1 {
		return 0, parseErr("reason", fmt.Errorf("empty payload"))
	}
	return data[0], nil
}

// ScenarioIdentity names the game content both peers must share.
type ScenarioIdentity struct {
	Filename string
	URL      string
	Version  uint32
	Checksum uint32
}

// Matches reports whether two identities describe the same content.
// Filename and URL are informational.
func (s ScenarioIdentity) Matches(o ScenarioIdentity) bool {
	return s.Version == o.Version && s.Checksum == o.Checksum
}

// BuildScenarioIdentity encodes a scenario identity.
// Format: [filename:str][url:str][version:4][checksum:4]
func BuildScenarioIdentity(m ScenarioIdentity) []byte {
	return NewPacketBuilder().
		WriteString(m.Filename).
		WriteString(m.URL).
		WriteUint32(m.Version).
		WriteUint32(m.Checksum).
		Build()
}

// ParseScenarioIdentity decodes a scenario identity.
func ParseScenarioIdentity(data []byte) (ScenarioIdentity, error) {
	r := NewPacketReader(data)
	var m ScenarioIdentity
	var err error
	if m.Filename, err = r.ReadString(); err != nil {
		return m, parseErr("scenario identity", err)
	}
	if m.URL, err = r.ReadString(); err != nil {
		return m, parseErr("scenario identity", err)
	}
	if m.Version, err = r.ReadUint32(); err != nil {
		return m, parseErr("scenario identity", err)
	}
	if m.Checksum, err = r.ReadUint32(); err != nil {
		return m, parseErr("scenario identity", err)
	}
	return m, nil
}

// Invite offers a joined player a seat in the named game.
type Invite struct {
	GameName string
}

// BuildInvite encodes an invitation. Format: [game:str]
func BuildInvite(m Invite) []byte {
	return NewPacketBuilder().WriteString(m.GameName).Build()
}

// ParseInvite decodes an invitation.
func ParseInvite(data []byte) (Invite, error) {
	s, err := NewPacketReader(data).ReadString()
	if err != nil {
		return Invite{}, parseErr("invite", err)
	}
	return Invite{GameName: s}, nil
}

// Probe is the body of GetReady and Ready: an opaque stamp echoed back.
type Probe struct {
	Stamp uint64
}

// BuildProbe encodes a probe. Format: [stamp:8]
func BuildProbe(m Probe) []byte {
	return NewPacketBuilder().WriteUint64(m.Stamp).Build()
}

// ParseProbe decodes a probe.
func ParseProbe(data []byte) (Probe, error) {
	v, err := NewPacketReader(data).ReadUint64()
	if err != nil {
		return Probe{}, parseErr("probe", err)
	}
	return Probe{Stamp: v}, nil
}

// TextMark opens or closes a lobby line. Both ends carry the length so the
// line can be rebuilt whichever arrives first.
type TextMark struct {
	Serial uint8
	Length uint8
}

// BuildTextMark encodes a text start or end. Format: [serial:1][len:1]
func BuildTextMark(m TextMark) []byte {
	return []byte{m.Serial, m.Length}
}

// ParseTextMark decodes a text start or end.
func ParseTextMark(data []byte) (TextMark, error) {
	if len(data) < 2 {
		return TextMark{}, parseErr("text mark", fmt.Errorf("need 2 bytes, have %d", len(data)))
	}
	return TextMark{Serial: data[0], Length: data[1]}, nil
}

// TextChar is one byte of a lobby line at its position.
type TextChar struct {
	Serial uint8
	Index  uint8
	Char   byte
}

// BuildTextChar encodes one text byte. Format: [serial:1][index:1][char:1]
func BuildTextChar(m TextChar) []byte {
	return []byte{m.Serial, m.Index, m.Char}
}

// ParseTextChar decodes one text byte.
func ParseTextChar(data []byte) (TextChar, error) {
	if len(data) < 3 {
		return TextChar{}, parseErr("text char", fmt.Errorf("need 3 bytes, have %d", len(data)))
	}
	if int(data[1]) >= MaxTextLength {
		return TextChar{}, parseErr("text char", fmt.Errorf("index %d out of range", data[1]))
	}
	return TextChar{Serial: data[0], Index: data[1], Char: data[2]}, nil
}
