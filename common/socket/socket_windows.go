//go:build windows
// +build windows

package socket

import (
	"fmt"
	"net"
	"strconv"

	"github.com/Microsoft/go-winio"
)

const PIPE_PREFIX = `\\.\pipe\objbridge-`

func (e Endpoint) Address() (network string, addr string, err error) {
	switch e.Network {
	case NETWORK_TCP, "":
		network = NETWORK_TCP
		addr = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	case NETWORK_UNIX:
		//	named pipes stand in for UNIX sockets
		network = "pipe"
		addr = PIPE_PREFIX + strconv.Itoa(e.Port)
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
	if network == "pipe" {
		conn, err = winio.DialPipe(addr, nil)
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
	if network == "pipe" {
		listener, err = winio.ListenPipe(addr, nil)
		return
	}
	listener, err = net.Listen(network, addr)
	return
}
