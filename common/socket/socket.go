package socket

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

const DEFAULT_HOST = "127.0.0.1"
const DEFAULT_PORT = 4827

const NETWORK_TCP = "tcp"
const NETWORK_UNIX = "unix"

const BRIDGE_DIR = ".objbridge"

//	Endpoint names one bridge server port. Dedicated channels reuse the
//	network and host of the master endpoint with a server-assigned port.
type Endpoint struct {
	Network string
	Host    string
	Port    int
}

func DefaultEndpoint() Endpoint {
	return Endpoint{
		Network: NETWORK_TCP,
		Host:    DEFAULT_HOST,
		Port:    DEFAULT_PORT,
	}
}

func (e Endpoint) WithPort(port int) Endpoint {
	e.Port = port
	return e
}

func (e Endpoint) String() string {
	network, addr, err := e.Address()
	if err != nil {
		return fmt.Sprintf("%s:%s:%d", e.Network, e.Host, e.Port)
	}
	return network + "://" + addr
}

func User() string {
	user := os.Getenv("USER")
	if user == "" {
		whoami, err := exec.Command("whoami").Output()
		if err == nil {
			user = strings.TrimSpace(string(whoami))
			os.Setenv("USER", user)
		}
	}
	return user
}

func HomeDir() (home string) {
	user, err := user.Lookup(User())
	if err == nil && user != nil {
		home = user.HomeDir
		return
	}
	if home, err = homedir.Dir(); err != nil {
		home = os.Getenv("HOME")
	}
	return
}

func BridgeDir() (bridgePath string, err error) {
	bridgePath = filepath.Join(HomeDir(), BRIDGE_DIR)
	err = os.MkdirAll(bridgePath, os.FileMode(0700))
	return
}

func BridgeDirFile(file string) (fullPath string, err error) {
	bridgePath, err := BridgeDir()
	if err != nil {
		return
	}
	fullPath = filepath.Join(bridgePath, file)
	return
}

func unixSocketFilename(port int) string {
	return "bridge-" + strconv.Itoa(port) + ".sock"
}

func DialWithTimeout(e Endpoint, timeout time.Duration) (conn net.Conn, err error) {
	if timeout <= 0 {
		return Dial(e)
	}
	type dialResult struct {
		conn net.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		c, dialErr := Dial(e)
		done <- dialResult{c, dialErr}
	}()

	select {
	case <-time.After(timeout):
		err = fmt.Errorf("dial %s timed out after %s", e, timeout)
		go func() {
			//	close a connection that completes after we gave up on it
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		return
	case result := <-done:
		conn, err = result.conn, result.err
	}
	return
}
