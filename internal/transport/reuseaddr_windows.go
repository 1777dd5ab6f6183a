//go:build windows

package transport

import (
	"net"
	"syscall"
)

// listenConfig returns a ListenConfig that sets SO_REUSEADDR on the game socket.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
}
