//go:build linux

package transport

import (
	"net"
	"syscall"
)

// listenConfig returns a ListenConfig that sets SO_REUSEADDR so a restarted
// host can rebind its game port while the old socket lingers.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
