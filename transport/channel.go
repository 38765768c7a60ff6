package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	oblog "objbridge.dev/ob/common/log"
	"objbridge.dev/ob/common/socket"
	"objbridge.dev/ob/common/util"
)

//	Releaser is anything a channel must release before it closes. Channels
//	hold these as non-owning back-references: they never keep a proxy alive.
type Releaser interface {
	Release() error
}

type ChannelOptions struct {
	Log         *logging.Logger
	Debug       bool
	DialTimeout time.Duration
}

type inbound struct {
	msg Message
	err error
}

//	Channel is one framed connection to a bridge server port with at most one
//	request outstanding at a time.
type Channel struct {
	endpoint socket.Endpoint
	name     string
	conn     net.Conn
	context  *Context
	log      *logging.Logger
	debug    bool
	ids      FrameIDs

	out        chan []byte
	in         chan inbound
	closing    chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}

	closeStarted atomic.Bool
	closed       atomic.Bool

	failureMu sync.Mutex
	failure   error

	//	serializes request/reply pairs; stale counts replies abandoned by a
	//	timed-out receive that are still owed by the server
	requestMu sync.Mutex
	stale     int

	trackedMu sync.Mutex
	tracked   map[uint64]Releaser
	nextToken uint64
}

func newChannel(context *Context, conn net.Conn, endpoint socket.Endpoint, opts ChannelOptions) *Channel {
	log := opts.Log
	if log == nil {
		log = oblog.Log
	}
	c := &Channel{
		endpoint:   endpoint,
		name:       uuid.NewV4().String()[:8],
		conn:       conn,
		context:    context,
		log:        log,
		debug:      opts.Debug,
		out:        make(chan []byte),
		in:         make(chan inbound),
		closing:    make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		tracked:    map[uint64]Releaser{},
	}
	go oblog.RecoverToLog(c.readLoop, log)
	go oblog.RecoverToLog(c.writeLoop, log)
	return c
}

func (c *Channel) Endpoint() socket.Endpoint {
	return c.endpoint
}

func (c *Channel) String() string {
	return fmt.Sprintf("channel %s (%s)", c.name, c.endpoint)
}

func (c *Channel) Closed() bool {
	return c.closed.Load()
}

func (c *Channel) fail(err error) {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()
	if c.failure == nil {
		c.failure = err
	}
}

//	failureErr wraps ErrChannelClosed with the first I/O error seen, if any.
func (c *Channel) failureErr() error {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()
	if c.failure != nil {
		return errors.Wrap(util.ErrChannelClosed, c.failure.Error())
	}
	return util.ErrChannelClosed
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)
	reader := bufio.NewReader(c.conn)
	for {
		msg, err := ReadMessage(reader)
		if err != nil {
			if !c.closed.Load() {
				c.fail(err)
				c.log.Error(c.String(), "read error:", err)
			}
			return
		}
		select {
		case c.in <- inbound{msg: msg}:
		case <-c.closing:
			return
		}
	}
}

func (c *Channel) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case wire := <-c.out:
			if _, err := c.conn.Write(wire); err != nil {
				c.fail(err)
				c.log.Error(c.String(), "write error:", err)
				//	unblock the reader so receivers observe the failure
				c.conn.Close()
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *Channel) debugMessage(direction string, msg Message) {
	if !c.debug {
		return
	}
	header, err := json.Marshal(extractBuffers(msg, &FrameIDs{}, &[]binaryFrame{}))
	if err != nil {
		header = []byte(fmt.Sprint(map[string]interface{}(msg)))
	}
	//	NOTICE so a debug channel is heard without lowering the shared level
	c.log.Noticef("%s %s %s", c.name, direction, header)
}

//	Send hands msg to the writer. With timeout 0 it blocks until accepted;
//	otherwise sent is false when the writer did not accept it in time.
func (c *Channel) Send(msg Message, timeout time.Duration) (sent bool, err error) {
	if c.closed.Load() {
		err = c.failureErr()
		return
	}
	wire, err := Encode(msg, &c.ids)
	if err != nil {
		err = util.NewProtoError(err)
		return
	}
	c.debugMessage("→", msg)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case c.out <- wire:
		sent = true
	case <-deadline:
	case <-c.writerDone:
		err = c.failureErr()
	case <-c.closing:
		err = c.failureErr()
	}
	return
}

//	Receive waits for the next message. With timeout 0 it blocks; otherwise
//	ok is false, with a nil error, when nothing arrived in time. An exception
//	envelope is returned as a *util.RemoteError alongside the message.
func (c *Channel) Receive(timeout time.Duration) (msg Message, ok bool, err error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case received := <-c.in:
		msg, ok = received.msg, true
	case <-deadline:
		return
	case <-c.readerDone:
		err = c.failureErr()
		return
	case <-c.closing:
		err = c.failureErr()
		return
	}
	c.debugMessage("←", msg)
	if msg.Type() == "exception" {
		err = &util.RemoteError{Message: fmt.Sprint(msg["value"])}
	}
	return
}

//	Request sends msg and waits for its reply, first discarding any replies
//	owed to earlier requests whose receive timed out.
func (c *Channel) Request(msg Message, timeout time.Duration) (reply Message, err error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	for c.stale > 0 {
		_, ok, drainErr := c.Receive(timeout)
		if drainErr != nil {
			if _, remote := drainErr.(*util.RemoteError); !remote {
				err = drainErr
				return
			}
		} else if !ok {
			err = util.ErrTimedOut
			return
		}
		c.stale--
	}

	sent, err := c.Send(msg, timeout)
	if err != nil {
		return
	}
	if !sent {
		err = util.ErrTimedOut
		return
	}
	reply, ok, err := c.Receive(timeout)
	if !ok && err == nil {
		c.stale++
		err = util.ErrTimedOut
	}
	return
}

//	Track registers r to be released before the channel closes. The returned
//	token removes it again.
func (c *Channel) Track(r Releaser) (token uint64) {
	c.trackedMu.Lock()
	defer c.trackedMu.Unlock()
	c.nextToken++
	token = c.nextToken
	c.tracked[token] = r
	return
}

func (c *Channel) Untrack(token uint64) {
	c.trackedMu.Lock()
	defer c.trackedMu.Unlock()
	delete(c.tracked, token)
}

func (c *Channel) Tracked() int {
	c.trackedMu.Lock()
	defer c.trackedMu.Unlock()
	return len(c.tracked)
}

func (c *Channel) takeTracked() (releasers []Releaser) {
	c.trackedMu.Lock()
	defer c.trackedMu.Unlock()
	for token, r := range c.tracked {
		releasers = append(releasers, r)
		delete(c.tracked, token)
	}
	return
}

//	Close releases every tracked object, then closes the connection.
func (c *Channel) Close() (err error) {
	if !c.closeStarted.CompareAndSwap(false, true) {
		return
	}
	for _, r := range c.takeTracked() {
		if releaseErr := r.Release(); releaseErr != nil {
			c.log.Error(c.String(), "release on close:", releaseErr)
		}
	}
	c.closed.Store(true)
	close(c.closing)
	err = c.conn.Close()
	<-c.readerDone
	<-c.writerDone
	if c.context != nil {
		c.context.remove(c)
	}
	return
}
