package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ares-project/aresnet/internal/protocol"
)

func TestFrame_Decode(t *testing.T) {
	data := encodeFrame(frame{kind: protocol.KindTick, flags: flagRegistered, seq: 77, from: 2, to: Broadcast, payload: []byte{9, 8, 7}})

	f, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if f.kind != protocol.KindTick || !f.registered() || f.seq != 77 || f.from != 2 || f.to != Broadcast || len(f.payload) != 3 {
		t.Fatalf("unexpected frame %+v", f)
	}

	if _, err := decodeFrame(data[:len(data)-1]); err == nil {
		t.Fatal("expected truncation error")
	}
	bad := append([]byte{}, data...)
	bad[0] = 0
	if _, err := decodeFrame(bad); !errors.Is(err, errBadMagic) {
		t.Fatalf("err = %v, want errBadMagic", err)
	}
}

func waitFor(t *testing.T, tr Transport, kind protocol.Kind) *Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m, ok := tr.Next()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if m.Kind == kind {
			return m
		}
		tr.Release(m)
	}
	t.Fatalf("timed out waiting for %s", kind)
	return nil
}

func TestUDP_JoinAndRelay(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultUDPConfig()

	host := NewUDP(cfg)
	if err := host.Host(ctx, HostOptions{ListenAddr: "127.0.0.1:0", GameName: "udp", Password: "pw"}); err != nil {
		t.Fatalf("Host: %v", err)
	}
	defer host.Dispose()

	a := NewUDP(cfg)
	approved, err := a.Join(ctx, JoinOptions{Address: host.Addr(), Password: "pw", Player: protocol.PlayerInfo{Name: "a"}})
	if err != nil {
		t.Fatalf("Join a: %v", err)
	}
	defer a.Dispose()
	if approved.GameName != "udp" || PlayerID(approved.PlayerID) != a.LocalID() {
		t.Fatalf("approval = %+v", approved)
	}
	waitFor(t, host, protocol.KindPlayerJoined)

	b := NewUDP(cfg)
	if _, err := b.Join(ctx, JoinOptions{Address: host.Addr(), Password: "pw", Player: protocol.PlayerInfo{Name: "b"}}); err != nil {
		t.Fatalf("Join b: %v", err)
	}
	defer b.Dispose()
	waitFor(t, a, protocol.KindPlayerJoined)

	if err := a.Send(Message{Kind: protocol.KindTick, To: Broadcast, Payload: []byte{42}}, protocol.DeliveryRegistered); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m := waitFor(t, b, protocol.KindTick)
	if m.From != a.LocalID() || len(m.Payload) != 1 || m.Payload[0] != 42 {
		t.Fatalf("relayed message = %+v", m)
	}
	m = waitFor(t, host, protocol.KindTick)
	if m.From != a.LocalID() {
		t.Fatalf("host got from %d", m.From)
	}
}

func TestUDP_JoinDenied(t *testing.T) {
	ctx := context.Background()
	host := NewUDP(DefaultUDPConfig())
	if err := host.Host(ctx, HostOptions{ListenAddr: "127.0.0.1:0", Password: "secret"}); err != nil {
		t.Fatalf("Host: %v", err)
	}
	defer host.Dispose()

	_, err := NewUDP(DefaultUDPConfig()).Join(ctx, JoinOptions{Address: host.Addr(), Password: "wrong", Timeout: 2 * time.Second})
	if !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("err = %v, want ErrJoinFailed", err)
	}

	host.SetAdvertising(false)
	_, err = NewUDP(DefaultUDPConfig()).Join(ctx, JoinOptions{Address: host.Addr(), Password: "secret", Timeout: 2 * time.Second})
	if !errors.Is(err, ErrNotAdvertising) {
		t.Fatalf("err = %v, want ErrNotAdvertising", err)
	}

	if _, err := NewUDP(DefaultUDPConfig()).Join(ctx, JoinOptions{Address: "not an address"}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestUDP_JoinTimeout(t *testing.T) {
	// Bind a socket that never answers.
	silent := NewUDP(DefaultUDPConfig())
	lc := listenConfig()
	pc, err := lc.ListenPacket(context.Background(), "udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	_, err = silent.Join(context.Background(), JoinOptions{Address: pc.LocalAddr().String(), Timeout: 300 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}
