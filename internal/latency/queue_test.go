package latency

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/protocol"
)

func words(t gametime.Time, admiral uint8, keys protocol.KeyState) protocol.Words {
	return protocol.Encode(protocol.Command{Time: t, Admiral: admiral, Keys: keys, Ship: protocol.NoShip})
}

func TestQueue_PopsInWrappedOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, now := range []gametime.Time{0, 500, gametime.MaxNetTime - 40, gametime.MinCriticalNetTime - 10} {
		q := NewQueue()
		for i := 0; i < 200; i++ {
			offset := rng.Intn(120) - 20
			tm := gametime.Add(now, offset)
			err := q.Insert(words(tm, uint8(i%4), protocol.KeyState(i)), now)
			if err != nil && !errors.Is(err, ErrCorruptData) {
				t.Fatalf("Insert: %v", err)
			}
		}

		var prev int64
		first := true
		for {
			w, ok := q.Pop()
			if !ok {
				break
			}
			v := gametime.Unwrap(w.Time(), now)
			if !first && v < prev {
				t.Fatalf("now=%d: popped %d after %d", now, v, prev)
			}
			prev, first = v, false
		}
		if q.Len() != 0 {
			t.Fatalf("queue not empty: %d", q.Len())
		}
	}
}

func TestQueue_FIFOOnEqualTimes(t *testing.T) {
	q := NewQueue()
	now := gametime.Time(10)
	for a := uint8(0); a < 4; a++ {
		if err := q.Insert(words(20, a, 0), now); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	for a := uint8(0); a < 4; a++ {
		w, ok := q.Pop()
		if !ok || w.Admiral() != a {
			t.Fatalf("pop %d: admiral %d ok=%v", a, w.Admiral(), ok)
		}
	}
}

func TestQueue_OverflowLeavesContents(t *testing.T) {
	q := NewQueue()
	now := gametime.Time(0)
	for i := 0; i < QueueLen; i++ {
		if err := q.Insert(words(gametime.Time(i), uint8(i%4), 0), now); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	before := q.Times()

	err := q.Insert(words(gametime.Time(QueueLen), 0, 0), now)
	if !errors.Is(err, ErrLatencyQueueFull) {
		t.Fatalf("overflow err = %v, want ErrLatencyQueueFull", err)
	}

	after := q.Times()
	if len(after) != len(before) || q.Len() != QueueLen {
		t.Fatalf("queue changed size: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("entry %d changed: %d -> %d", i, before[i], after[i])
		}
	}
}

func TestQueue_DuplicateHandling(t *testing.T) {
	q := NewQueue()
	first := words(50, 1, protocol.KeyThrust)

	if err := q.Insert(first, 40); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := q.Insert(first, 40); err != nil {
		t.Fatalf("identical duplicate should be dropped quietly, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}

	err := q.Insert(words(50, 1, protocol.KeyReverse), 40)
	if !errors.Is(err, ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
	w, _ := q.Peek()
	if w != first {
		t.Fatal("first-seen command was not kept")
	}

	// Same tick, different admiral is not a collision.
	if err := q.Insert(words(50, 2, protocol.KeyReverse), 40); err != nil {
		t.Fatalf("Insert other admiral: %v", err)
	}
}

func TestQueue_PopDue(t *testing.T) {
	q := NewQueue()
	now := gametime.MaxNetTime - 2
	q.Insert(words(gametime.Add(now, 3), 0, 0), now)
	q.Insert(words(now, 1, 0), now)

	if w, ok := q.PopDue(now); !ok || w.Time() != now {
		t.Fatalf("PopDue = %d,%v", w.Time(), ok)
	}
	if _, ok := q.PopDue(now); ok {
		t.Fatal("future command popped early")
	}
	later := gametime.Add(now, 3)
	if w, ok := q.PopDue(later); !ok || w.Time() != later {
		t.Fatalf("PopDue after wrap = %d,%v", w.Time(), ok)
	}
}

func TestQueue_ResetReclaimsSlots(t *testing.T) {
	q := NewQueue()
	for i := 0; i < QueueLen; i++ {
		q.Insert(words(gametime.Time(i), 0, 0), 0)
	}
	q.Reset()
	if q.Len() != 0 {
		t.Fatalf("len after reset = %d", q.Len())
	}
	for i := 0; i < QueueLen; i++ {
		if err := q.Insert(words(gametime.Time(i), 0, 0), 0); err != nil {
			t.Fatalf("Insert after reset %d: %v", i, err)
		}
	}
}
