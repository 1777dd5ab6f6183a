package transport

import "net"

// ReuseAddrListenConfig is the listen configuration used for game sockets,
// exported so the API server can bind its port the same way.
func ReuseAddrListenConfig() net.ListenConfig {
	return listenConfig()
}
