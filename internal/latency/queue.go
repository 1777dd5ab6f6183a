// Package latency holds the two fixed-capacity command stores of the
// lock-step engine: the Queue of not-yet-due commands ordered by wrapped
// game time, and the SentLog of recently transmitted commands kept for
// resend requests. Both are arenas addressed by dense indices; running
// out of slots is an error, never a reallocation.
package latency

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/protocol"
)

// QueueLen is the capacity of the latency queue and of the sent log.
const QueueLen = 256

var (
	// ErrLatencyQueueFull is returned when Insert finds no free slot.
	ErrLatencyQueueFull = errors.New("latency queue full")

	// ErrCorruptData is returned when a peer sent two different commands for
	// the same admiral and tick. The first one is kept.
	ErrCorruptData = errors.New("conflicting command for admiral and tick")

	// ErrSentLogFull is returned when Store finds no free slot.
	ErrSentLogFull = errors.New("sent message log full")
)

const nilIndex = -1

type queueNode struct {
	words protocol.Words
	next  int
	used  bool
}

// Queue is a time-ordered singly linked list over a fixed arena.
type Queue struct {
	nodes  [QueueLen]queueNode
	head   int
	free   int
	count  int
	logger zerolog.Logger
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		logger: log.With().Str("component", "latency_queue").Logger(),
	}
	q.Reset()
	return q
}

// Reset empties the queue and rebuilds the free list.
func (q *Queue) Reset() {
	for i := range q.nodes {
		q.nodes[i] = queueNode{next: i + 1}
	}
	q.nodes[QueueLen-1].next = nilIndex
	q.head = nilIndex
	q.free = 0
	q.count = 0
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return QueueLen
}

// Insert places w in time order relative to now. Commands with equal times
// keep their insertion order. A second, identical command for the same
// admiral and tick is dropped; a differing one returns ErrCorruptData and
// the queued command is kept.
func (q *Queue) Insert(w protocol.Words, now gametime.Time) error {
	t := gametime.Unwrap(w.Time(), now)
	admiral := w.Admiral()

	prev := nilIndex
	for i := q.head; i != nilIndex; i = q.nodes[i].next {
		n := &q.nodes[i]
		nt := gametime.Unwrap(n.words.Time(), now)
		if nt > t {
			break
		}
		if nt == t && n.words.Admiral() == admiral {
			if n.words == w {
				return nil
			}
			q.logger.Warn().
				Uint32("time", uint32(w.Time())).
				Uint8("admiral", admiral).
				Msg("conflicting command for admiral and tick, keeping first")
			return ErrCorruptData
		}
		prev = i
	}

	if q.free == nilIndex {
		q.logger.Error().
			Uint32("time", uint32(w.Time())).
			Int("capacity", QueueLen).
			Msg("latency queue exhausted")
		return ErrLatencyQueueFull
	}

	slot := q.free
	q.free = q.nodes[slot].next

	n := &q.nodes[slot]
	n.words = w
	n.used = true
	if prev == nilIndex {
		n.next = q.head
		q.head = slot
	} else {
		n.next = q.nodes[prev].next
		q.nodes[prev].next = slot
	}
	q.count++
	return nil
}

// Peek returns the earliest command without removing it.
func (q *Queue) Peek() (protocol.Words, bool) {
	if q.head == nilIndex {
		return protocol.Words{}, false
	}
	return q.nodes[q.head].words, true
}

// Pop removes and returns the earliest command.
func (q *Queue) Pop() (protocol.Words, bool) {
	if q.head == nilIndex {
		return protocol.Words{}, false
	}
	slot := q.head
	n := &q.nodes[slot]
	w := n.words

	q.head = n.next
	n.used = false
	n.words = protocol.Words{}
	n.next = q.free
	q.free = slot
	q.count--
	return w, true
}

// PopDue removes and returns the head if its time is not after now.
func (q *Queue) PopDue(now gametime.Time) (protocol.Words, bool) {
	w, ok := q.Peek()
	if !ok || gametime.IsAfter(w.Time(), now) {
		return protocol.Words{}, false
	}
	return q.Pop()
}

// Times returns the queued times in list order.
func (q *Queue) Times() []gametime.Time {
	out := make([]gametime.Time, 0, q.count)
	for i := q.head; i != nilIndex; i = q.nodes[i].next {
		out = append(out, q.nodes[i].words.Time())
	}
	return out
}
