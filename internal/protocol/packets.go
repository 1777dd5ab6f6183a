// Package protocol implements the wire vocabulary of an aresnet session:
// the bit-packed per-tick command word, the payload layouts of every
// administrative and handshake message, and the delivery policy that
// decides which kinds travel registered. All multi-byte fields are
// little-endian.
package protocol

import "fmt"

// Kind is the message kind tag carried alongside every payload by the transport.
type Kind byte

// Transport system kinds. Generated by the transport itself.
const (
	KindJoinRequest    Kind = 0x01 // Joiner asks the host for a slot
	KindJoinApproved   Kind = 0x02 // Host assigns a player id
	KindJoinDenied     Kind = 0x03 // Host refuses (reason code)
	KindPlayerJoined   Kind = 0x04 // A player entered the game
	KindPlayerLeft     Kind = 0x05 // A player left the game
	KindGameTerminated Kind = 0x06 // Host ended the game
	KindAck            Kind = 0x07 // Registered delivery acknowledgement
	KindKeepAlive      Kind = 0x08 // Idle heartbeat
)

// In-game kinds.
const (
	KindTick          Kind = 0x10 // Per-tick command words plus backups
	KindResend        Kind = 0x11 // Command words replayed from the sent log
	KindResendRequest Kind = 0x12 // Ask a peer to replay a tick
	KindStartGame     Kind = 0x13 // Latency and seed, enter Running
	KindCancelGame    Kind = 0x14 // Abort the pending game
	KindAdmiralNumber Kind = 0x15 // Player id to admiral assignment
	KindTextStart     Kind = 0x16 // Lobby text begins
	KindTextChar      Kind = 0x17 // One lobby text byte
	KindTextEnd       Kind = 0x18 // Lobby text complete
)

// Pre-game handshake kinds.
const (
	KindInvite           Kind = 0x30 // Host invites a joined player
	KindAccept           Kind = 0x31 // Player accepts the invitation
	KindDecline          Kind = 0x32 // Player declines (reason code)
	KindName             Kind = 0x33 // Display name, race and color
	KindScenarioIdentity Kind = 0x34 // Scenario filename, URL, version, checksum
	KindGetReady         Kind = 0x35 // RTT probe, phase one
	KindReady            Kind = 0x36 // RTT probe, phase two
)

var kindNames = map[Kind]string{
	KindJoinRequest:      "join_request",
	KindJoinApproved:     "join_approved",
	KindJoinDenied:       "join_denied",
	KindPlayerJoined:     "player_joined",
	KindPlayerLeft:       "player_left",
	KindGameTerminated:   "game_terminated",
	KindAck:              "ack",
	KindKeepAlive:        "keepalive",
	KindTick:             "tick",
	KindResend:           "resend",
	KindResendRequest:    "resend_request",
	KindStartGame:        "start_game",
	KindCancelGame:       "cancel_game",
	KindAdmiralNumber:    "admiral_number",
	KindTextStart:        "text_start",
	KindTextChar:         "text_char",
	KindTextEnd:          "text_end",
	KindInvite:           "invite",
	KindAccept:           "accept",
	KindDecline:          "decline",
	KindName:             "name",
	KindScenarioIdentity: "scenario_identity",
	KindGetReady:         "get_ready",
	KindReady:            "ready",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind_0x%02x", byte(k))
}

// IsHandshake reports whether the kind belongs to the pre-game vocabulary.
func (k Kind) IsHandshake() bool {
	switch k {
	case KindInvite, KindAccept, KindDecline, KindName, KindScenarioIdentity,
		KindGetReady, KindReady, KindStartGame, KindCancelGame, KindAdmiralNumber,
		KindTextStart, KindTextChar, KindTextEnd:
		return true
	}
	return false
}

// Session limits.
const (
	MaxNetPlayerNum = 16 // Player slots per session
	MaxAdmirals     = 4  // Admiral field is 2 bits wide
	MaxBackupTicks  = 2  // Previous ticks piggybacked on a tick message
	MaxTextLength   = 255
)

// MaxPayloadSize bounds a single message payload.
const MaxPayloadSize = 1200

// NoBackupWord marks an absent backup slot on the wire.
const NoBackupWord uint32 = 0xffffffff

// Decline reasons.
const (
	DeclineUser             byte = 0x00
	DeclineScenarioMismatch byte = 0x01
	DeclineBusy             byte = 0x02
)

// Join denial reasons.
const (
	DenyBadPassword    byte = 0x01
	DenyGameFull       byte = 0x02
	DenyNotAdvertising byte = 0x03
	DenyNotHost        byte = 0x04
)
