// Package transport carries kind-tagged messages between the players of a
// session. It offers two delivery modes: normal (best effort) and
// registered (acknowledged and retransmitted). The protocol core polls
// Next from its frame loop and never blocks on the network.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ares-project/aresnet/internal/protocol"
)

// PlayerID identifies a player within a hosted game. The host is always 1.
type PlayerID uint8

const (
	// NoPlayer is the zero id, never assigned.
	NoPlayer PlayerID = 0
	// HostPlayer is the id the hosting endpoint takes.
	HostPlayer PlayerID = 1
	// Broadcast addresses every other player.
	Broadcast PlayerID = 0xff
)

// Errors reported by Host and Join. Session maps them to user-facing outcomes.
var (
	ErrTimeout         = errors.New("transport timeout")
	ErrConnectFailed   = errors.New("connect failed")
	ErrNotAdvertising  = errors.New("game is not advertising")
	ErrNotHost         = errors.New("peer is not hosting")
	ErrJoinFailed      = errors.New("join failed")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrClosed          = errors.New("transport closed")
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// DenyError reports a join refused by the host.
type DenyError struct {
	Reason byte
	Err    error
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("join denied (reason %d): %v", e.Reason, e.Err)
}

func (e *DenyError) Unwrap() error {
	return e.Err
}

// denyToError maps a wire denial reason onto the transport error set.
func denyToError(reason byte) error {
	var err error
	switch reason {
	case protocol.DenyNotAdvertising:
		err = ErrNotAdvertising
	case protocol.DenyNotHost:
		err = ErrNotHost
	default:
		err = ErrJoinFailed
	}
	return &DenyError{Reason: reason, Err: err}
}

// Message is one received or outgoing message. Payload is owned by the
// Message; call Release when done with a received one.
type Message struct {
	Kind    protocol.Kind
	From    PlayerID
	To      PlayerID
	Payload []byte
}

var messagePool = sync.Pool{
	New: func() any { return &Message{Payload: make([]byte, 0, 64)} },
}

func newMessage(kind protocol.Kind, from, to PlayerID, payload []byte) *Message {
	m := messagePool.Get().(*Message)
	m.Kind = kind
	m.From = from
	m.To = to
	m.Payload = append(m.Payload[:0], payload...)
	return m
}

func releaseMessage(m *Message) {
	if m == nil {
		return
	}
	m.Payload = m.Payload[:0]
	messagePool.Put(m)
}

// HostOptions configure a hosted game.
type HostOptions struct {
	ListenAddr string
	GameName   string
	Password   string
	MaxPlayers int
	Player     protocol.PlayerInfo
}

// JoinOptions configure a join attempt.
type JoinOptions struct {
	Address  string
	Password string
	Player   protocol.PlayerInfo
	Timeout  time.Duration
}

// Stats are transport counters for the status board.
type Stats struct {
	Peers         int    `json:"peers"`
	Sent          uint64 `json:"sent"`
	Received      uint64 `json:"received"`
	Retransmitted uint64 `json:"retransmitted"`
	Dropped       uint64 `json:"dropped"`
	Pending       int    `json:"pending"`
}

// Transport is the message layer the session drives.
type Transport interface {
	// Host opens a game for others to join.
	Host(ctx context.Context, opts HostOptions) error
	// Join connects to a hosted game and returns the host's approval.
	Join(ctx context.Context, opts JoinOptions) (protocol.JoinApproved, error)
	// Send queues msg for delivery. To may be Broadcast.
	Send(msg Message, mode protocol.Delivery) error
	// Next returns the next received message without blocking.
	Next() (*Message, bool)
	// Release returns a message obtained from Next.
	Release(m *Message)
	// SetAdvertising opens or closes the game to new joiners.
	SetAdvertising(on bool)
	LocalID() PlayerID
	HostID() PlayerID
	Stats() Stats
	// Dispose tears the connection down. It is safe to call more than once.
	Dispose() error
}

const inboxSize = 4096
