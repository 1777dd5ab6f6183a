package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ares-project/aresnet/internal/protocol"
)

func hostAndJoin(t *testing.T, hub *Hub, joiners int) (*Loopback, []*Loopback) {
	t.Helper()
	ctx := context.Background()

	host := hub.Endpoint()
	if err := host.Host(ctx, HostOptions{ListenAddr: "arena", GameName: "test", Player: protocol.PlayerInfo{Name: "host"}}); err != nil {
		t.Fatalf("Host: %v", err)
	}

	var clients []*Loopback
	for i := 0; i < joiners; i++ {
		c := hub.Endpoint()
		if _, err := c.Join(ctx, JoinOptions{Address: "arena", Player: protocol.PlayerInfo{Name: "wing"}}); err != nil {
			t.Fatalf("Join %d: %v", i, err)
		}
		clients = append(clients, c)
	}
	return host, clients
}

func drain(tr Transport) []*Message {
	var out []*Message
	for {
		m, ok := tr.Next()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func TestLoopback_JoinAnnouncesPlayer(t *testing.T) {
	hub := NewHub()
	host, clients := hostAndJoin(t, hub, 2)

	msgs := drain(host)
	if len(msgs) != 2 {
		t.Fatalf("host got %d messages, want 2 joins", len(msgs))
	}
	for _, m := range msgs {
		if m.Kind != protocol.KindPlayerJoined {
			t.Fatalf("kind = %s", m.Kind)
		}
	}

	// First joiner hears about the second.
	msgs = drain(clients[0])
	if len(msgs) != 1 || msgs[0].From != clients[1].LocalID() {
		t.Fatalf("joiner messages = %+v", msgs)
	}
	if host.LocalID() != HostPlayer || clients[0].HostID() != HostPlayer {
		t.Fatal("unexpected host ids")
	}
}

func TestLoopback_BroadcastAndDirect(t *testing.T) {
	hub := NewHub()
	host, clients := hostAndJoin(t, hub, 2)
	drain(host)
	drain(clients[0])
	drain(clients[1])

	if err := clients[0].Send(Message{Kind: protocol.KindTick, To: Broadcast, Payload: []byte{1, 2}}, protocol.DeliveryNormal); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := drain(host); len(got) != 1 || got[0].Payload[1] != 2 {
		t.Fatalf("host got %+v", got)
	}
	if got := drain(clients[1]); len(got) != 1 || got[0].From != clients[0].LocalID() {
		t.Fatalf("peer got %+v", got)
	}
	if got := drain(clients[0]); len(got) != 0 {
		t.Fatal("broadcast echoed to sender")
	}

	if err := host.Send(Message{Kind: protocol.KindResendRequest, To: clients[1].LocalID()}, protocol.DeliveryRegistered); err != nil {
		t.Fatalf("Send direct: %v", err)
	}
	if got := drain(clients[1]); len(got) != 1 || got[0].Kind != protocol.KindResendRequest {
		t.Fatalf("direct got %+v", got)
	}

	if err := host.Send(Message{Kind: protocol.KindTick, To: 99}, protocol.DeliveryNormal); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("err = %v, want ErrUnknownPlayer", err)
	}
}

func TestLoopback_DropOnlyAffectsNormal(t *testing.T) {
	hub := NewHub()
	host, clients := hostAndJoin(t, hub, 1)
	drain(host)
	hub.SetDropFunc(func(Message) bool { return true })

	clients[0].Send(Message{Kind: protocol.KindTick, To: HostPlayer}, protocol.DeliveryNormal)
	clients[0].Send(Message{Kind: protocol.KindTick, To: HostPlayer}, protocol.DeliveryRegistered)

	if got := drain(host); len(got) != 1 {
		t.Fatalf("host got %d messages, want only the registered one", len(got))
	}
}

func TestLoopback_JoinErrors(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	host := hub.Endpoint()
	if err := host.Host(ctx, HostOptions{ListenAddr: "arena", Password: "pw", MaxPlayers: 2}); err != nil {
		t.Fatalf("Host: %v", err)
	}

	tests := []struct {
		name string
		opts JoinOptions
		want error
	}{
		{"empty address", JoinOptions{}, ErrInvalidAddress},
		{"nobody there", JoinOptions{Address: "void", Password: "pw"}, ErrConnectFailed},
		{"bad password", JoinOptions{Address: "arena", Password: "nope"}, ErrJoinFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hub.Endpoint().Join(ctx, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := hub.Endpoint().Join(ctx, JoinOptions{Address: "arena", Password: "pw"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	_, err := hub.Endpoint().Join(ctx, JoinOptions{Address: "arena", Password: "pw"})
	var deny *DenyError
	if !errors.As(err, &deny) || deny.Reason != protocol.DenyGameFull {
		t.Fatalf("err = %v, want game full denial", err)
	}

	host.SetAdvertising(false)
	if _, err := hub.Endpoint().Join(ctx, JoinOptions{Address: "arena", Password: "pw"}); !errors.Is(err, ErrNotAdvertising) {
		t.Fatalf("err = %v, want ErrNotAdvertising", err)
	}
}

func TestLoopback_DisposeNotifies(t *testing.T) {
	hub := NewHub()
	host, clients := hostAndJoin(t, hub, 2)
	drain(host)
	drain(clients[0])

	clients[1].Dispose()
	got := drain(host)
	if len(got) != 1 || got[0].Kind != protocol.KindPlayerLeft {
		t.Fatalf("host got %+v", got)
	}

	host.Dispose()
	got = drain(clients[0])
	if len(got) != 2 || got[1].Kind != protocol.KindGameTerminated {
		t.Fatalf("joiner got %+v", got)
	}
	if err := clients[0].Send(Message{Kind: protocol.KindTick, To: Broadcast}, protocol.DeliveryNormal); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := host.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
}
