package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a ListenConfig that marks listening sockets
// reusable where the platform supports it, so a restarted proxy can rebind
// while old client sockets sit in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		KeepAlive: tcpKeepAlive,
		Control:   reuseAddrControl,
	}
}

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var opErr error
	if err := c.Control(func(fd uintptr) { opErr = setReuseAddr(fd) }); err != nil {
		return err
	}
	return opErr
}
