package lockstep

import "github.com/ares-project/aresnet/internal/protocol"

// chatAssembler rebuilds chat lines from the one-byte-per-tick stream of
// each admiral. A zero byte ends the line.
type chatAssembler struct {
	sink   ChatSink
	active [protocol.MaxAdmirals]bool
	lines  [protocol.MaxAdmirals][]byte
}

func (c *chatAssembler) reset() {
	for i := range c.lines {
		c.active[i] = false
		c.lines[i] = c.lines[i][:0]
	}
}

// feed consumes one byte and returns the completed line, if any.
func (c *chatAssembler) feed(admiral uint8, b byte) (string, bool) {
	if int(admiral) >= len(c.lines) {
		return "", false
	}
	if b == 0 {
		if !c.active[admiral] {
			return "", false
		}
		if c.sink != nil {
			c.sink.StopIncomingTextMessage(admiral)
		}
		line := string(c.lines[admiral])
		c.active[admiral] = false
		c.lines[admiral] = c.lines[admiral][:0]
		return line, true
	}

	if !c.active[admiral] {
		c.active[admiral] = true
		if c.sink != nil {
			c.sink.StartIncomingTextMessage(admiral)
		}
	}
	if len(c.lines[admiral]) < protocol.MaxTextLength {
		c.lines[admiral] = append(c.lines[admiral], b)
	}
	if c.sink != nil {
		c.sink.AddIncomingTextMessageCharacter(admiral, b)
	}
	return "", false
}

// open reports the admirals with a line in progress.
func (c *chatAssembler) open() []uint8 {
	var out []uint8
	for i, on := range c.active {
		if on {
			out = append(out, uint8(i))
		}
	}
	return out
}
