package transport

import (
	"errors"
	"net"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"objbridge.dev/ob/common/socket"
)

var ErrContextClosed = errors.New("transport context is closed")

//	Context owns every channel opened through it and stays usable until Close,
//	which closes each remaining channel first.
type Context struct {
	mu       sync.Mutex
	channels map[*Channel]struct{}
	closed   bool
}

var sharedMu sync.Mutex
var shared *Context

func NewContext() *Context {
	return &Context{channels: map[*Channel]struct{}{}}
}

//	SharedContext returns the process-wide context, replacing it if it was closed.
func SharedContext() *Context {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil || shared.isClosed() {
		shared = NewContext()
	}
	return shared
}

func (x *Context) isClosed() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closed
}

func (x *Context) Dial(endpoint socket.Endpoint, opts ChannelOptions) (c *Channel, err error) {
	if x.isClosed() {
		err = ErrContextClosed
		return
	}
	conn, err := socket.DialWithTimeout(endpoint, opts.DialTimeout)
	if err != nil {
		err = pkgerrors.Wrapf(err, "dial %s", endpoint)
		return
	}
	c, err = x.Attach(conn, endpoint, opts)
	return
}

//	Attach wraps an already connected conn in a channel owned by x.
func (x *Context) Attach(conn net.Conn, endpoint socket.Endpoint, opts ChannelOptions) (c *Channel, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		conn.Close()
		err = ErrContextClosed
		return
	}
	c = newChannel(x, conn, endpoint, opts)
	x.channels[c] = struct{}{}
	return
}

func (x *Context) remove(c *Channel) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.channels, c)
}

func (x *Context) Open() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.channels)
}

func (x *Context) Close() (err error) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return
	}
	x.closed = true
	channels := make([]*Channel, 0, len(x.channels))
	for c := range x.channels {
		channels = append(channels, c)
	}
	x.mu.Unlock()

	for _, c := range channels {
		if closeErr := c.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return
}
