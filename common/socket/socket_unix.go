//go:build !windows
// +build !windows

package socket

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

func (e Endpoint) Address() (network string, addr string, err error) {
	switch e.Network {
	case NETWORK_TCP, "":
		network = NETWORK_TCP
		addr = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	case NETWORK_UNIX:
		network = NETWORK_UNIX
		addr, err = BridgeDirFile(unixSocketFilename(e.Port))
	default:
		err = fmt.Errorf("unsupported bridge network %q", e.Network)
	}
	return
}

func Dial(e Endpoint) (conn net.Conn, err error) {
	network, addr, err := e.Address()
	if err != nil {
		return
	}
	conn, err = net.Dial(network, addr)
	return
}

func Listen(e Endpoint) (listener net.Listener, err error) {
	network, addr, err := e.Address()
	if err != nil {
		return
	}
	if network == NETWORK_UNIX {
		//	delete UNIX socket in case the server was not killed cleanly
		_ = os.Remove(addr)
	}
	listener, err = net.Listen(network, addr)
	return
}
