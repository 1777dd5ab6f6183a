// Package gametime implements the wraparound tick clock shared by every
// peer in a lock-step session. Game time is an 18-bit counter; all
// ordering decisions go through Compare so that the wrap boundary is
// handled in exactly one place.
package gametime

// Time is a game tick taken modulo MaxNetTime.
type Time uint32

const (
	// GameTimeMask selects the 18 time bits of a packed command word.
	GameTimeMask uint32 = 0x0003ffff

	// MaxNetTime is the period of the tick counter.
	MaxNetTime Time = Time(GameTimeMask) + 1

	// MinCriticalNetTime and MaxCriticalNetTime bound the ambiguous band.
	// A time below MinCriticalNetTime compared against a time above
	// MaxCriticalNetTime is taken to be on the far side of the wrap.
	MinCriticalNetTime Time = 0x8000
	MaxCriticalNetTime Time = MaxNetTime - 0x8000

	// CriticalBand is the widest spread of times that Compare orders correctly.
	CriticalBand = int64(MinCriticalNetTime)
)

// Order is the result of Compare.
type Order int

const (
	Before Order = iota - 1
	Same
	After
)

// String returns the lowercase name of the order.
func (o Order) String() string {
	switch o {
	case Before:
		return "before"
	case Same:
		return "same"
	case After:
		return "after"
	default:
		return "unknown"
	}
}

// Mask reduces an arbitrary counter value to a valid Time.
func Mask(v uint32) Time {
	return Time(v & GameTimeMask)
}

// Add advances t by n ticks, wrapping at MaxNetTime. n may be negative.
func Add(t Time, n int) Time {
	v := (int64(t) + int64(n)) % int64(MaxNetTime)
	if v < 0 {
		v += int64(MaxNetTime)
	}
	return Time(v)
}

// Unwrap returns t shifted into the same period as ref, as a signed
// linear value. Times just past the wrap are lifted above MaxNetTime when
// ref sits in the high critical region, and times just before the wrap are
// lowered below zero when ref sits in the low critical region.
func Unwrap(t, ref Time) int64 {
	v := int64(t)
	switch {
	case ref < MinCriticalNetTime && t > MaxCriticalNetTime:
		v -= int64(MaxNetTime)
	case ref > MaxCriticalNetTime && t < MinCriticalNetTime:
		v += int64(MaxNetTime)
	}
	return v
}

// Compare orders a relative to b using the three-region rule:
// below MinCriticalNetTime, inside the ambiguous band, above MaxCriticalNetTime.
func Compare(a, b Time) Order {
	d := Unwrap(a, b) - int64(b)
	switch {
	case d < 0:
		return Before
	case d > 0:
		return After
	default:
		return Same
	}
}

// Distance returns the signed number of ticks from ref to t.
func Distance(t, ref Time) int64 {
	return Unwrap(t, ref) - int64(ref)
}

// IsAfter reports whether a is strictly later than b.
func IsAfter(a, b Time) bool {
	return Compare(a, b) == After
}
