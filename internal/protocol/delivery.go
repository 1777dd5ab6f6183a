package protocol

import "fmt"

// Delivery selects how the transport carries a message.
type Delivery int

const (
	// DeliveryNormal is best-effort: may be dropped, duplicated or reordered.
	DeliveryNormal Delivery = iota
	// DeliveryRegistered is acknowledged and retransmitted until received.
	DeliveryRegistered
)

// String returns the lowercase name of the delivery mode.
func (d Delivery) String() string {
	if d == DeliveryRegistered {
		return "registered"
	}
	return "normal"
}

// RegistrationLevel controls how aggressively in-game kinds use registered delivery.
type RegistrationLevel int

const (
	// RegisterNone sends every in-game message best-effort.
	RegisterNone RegistrationLevel = iota
	// RegisterResends also registers resends and resend requests.
	RegisterResends
	// RegisterAll also registers per-tick state, which carries menu and select data.
	RegisterAll

	MaxRegistrationLevel = RegisterAll
)

// Valid reports whether the level is within 0..2.
func (l RegistrationLevel) Valid() bool {
	return l >= RegisterNone && l <= MaxRegistrationLevel
}

func (l RegistrationLevel) String() string {
	return fmt.Sprintf("level_%d", int(l))
}

// DeliveryMode decides the delivery of a message kind. Every level is a
// superset of the one below it: raising the level never downgrades a kind.
// Bandwidth reduction only affects lobby text characters.
func DeliveryMode(kind Kind, level RegistrationLevel, bandwidthReduction bool) Delivery {
	switch kind {
	case KindTick:
		if level >= RegisterAll {
			return DeliveryRegistered
		}
		return DeliveryNormal
	case KindResend, KindResendRequest:
		if level >= RegisterResends {
			return DeliveryRegistered
		}
		return DeliveryNormal
	case KindTextChar:
		if bandwidthReduction {
			return DeliveryNormal
		}
		return DeliveryRegistered
	case KindAck, KindKeepAlive:
		return DeliveryNormal
	default:
		// Control, handshake and membership kinds.
		return DeliveryRegistered
	}
}
