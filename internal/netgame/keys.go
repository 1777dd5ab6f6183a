package netgame

import (
	"fmt"
	"strings"

	"github.com/ares-project/aresnet/internal/protocol"
)

var keyNames = []struct {
	name string
	key  protocol.KeyState
}{
	{"left", protocol.KeyTurnLeft},
	{"right", protocol.KeyTurnRight},
	{"thrust", protocol.KeyThrust},
	{"reverse", protocol.KeyReverse},
	{"fire", protocol.KeyFirePulse},
	{"beam", protocol.KeyFireBeam},
	{"special", protocol.KeyFireSpecial},
	{"warp", protocol.KeyWarp},
	{"cloak", protocol.KeyCloak},
	{"transfer", protocol.KeyTransfer},
}

// ParseKeys turns key names such as "thrust" or "fire" into a key state.
// "none" and an empty list release every key.
func ParseKeys(names []string) (protocol.KeyState, error) {
	var keys protocol.KeyState
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || n == "none" {
			continue
		}
		found := false
		for _, k := range keyNames {
			if k.name == n {
				keys |= k.key
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown key %q", n)
		}
	}
	return keys, nil
}

// KeyNames lists the names of the keys held in k.
func KeyNames(k protocol.KeyState) []string {
	out := []string{}
	for _, kn := range keyNames {
		if k&kn.key != 0 {
			out = append(out, kn.name)
		}
	}
	return out
}
