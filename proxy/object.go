package proxy

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/marshal"
	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/transport"
)

//	Session is what every object created through one bridge shares.
type Session struct {
	Factory *Factory
	Log     *logging.Logger
	//	per request, 0 blocks
	Timeout time.Duration
	//	back-reference to the creating bridge
	Owner interface{}
}

//	handle carries the release obligation for one remote object. Channels
//	track the handle, never the Object, so an unreachable Object can still
//	be reclaimed.
type handle struct {
	id          protocol.Handle
	class       string
	channel     *transport.Channel
	ownsChannel bool
	session     *Session
	token       uint64
	released    atomic.Bool
}

func (h *handle) String() string {
	return fmt.Sprintf("%s@%s", h.class, h.id)
}

//	Release is called by the channel before it closes.
func (h *handle) Release() error {
	return h.release(true)
}

func (h *handle) release(explicit bool) (err error) {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.channel.Untrack(h.token)
	_, err = h.channel.Request(protocol.DestructorRequest(h.id), h.session.Timeout)
	if h.ownsChannel {
		if closeErr := h.channel.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		err = errors.Wrapf(err, "release %s", h)
		if !explicit {
			h.session.Log.Error(err)
			err = nil
		}
	}
	return
}

//	Object is the local stand-in for one live remote object.
type Object struct {
	class   *Class
	h       *handle
	cleanup runtime.Cleanup
}

//	New makes the proxy for the object d describes, living on channel. When
//	ownsChannel is set, releasing the object also closes the channel.
func New(session *Session, channel *transport.Channel, d protocol.ClassDescriptor, ownsChannel bool) *Object {
	h := &handle{
		id:          d.Handle,
		class:       d.Class,
		channel:     channel,
		ownsChannel: ownsChannel,
		session:     session,
	}
	o := &Object{class: session.Factory.ClassFor(d), h: h}
	h.token = channel.Track(h)
	o.cleanup = runtime.AddCleanup(o, func(h *handle) {
		//	cleanups share one goroutine; the destructor round trip must not block it
		go h.release(false)
	}, h)
	return o
}

func (o *Object) Class() string {
	return o.class.Name
}

func (o *Object) ProxyClass() *Class {
	return o.class
}

func (o *Object) Handle() protocol.Handle {
	return o.h.id
}

func (o *Object) Interfaces() []string {
	return o.class.Interfaces
}

func (o *Object) Fields() []string {
	return o.class.Fields()
}

func (o *Object) Methods() []string {
	return o.class.Methods()
}

func (o *Object) HasMethod(name string) bool {
	return o.class.HasMethod(name)
}

func (o *Object) Channel() *transport.Channel {
	return o.h.channel
}

func (o *Object) Owner() interface{} {
	return o.h.session.Owner
}

func (o *Object) Released() bool {
	return o.h.released.Load()
}

func (o *Object) String() string {
	return o.h.String()
}

func (o *Object) decoder() marshal.Decoder {
	return marshal.Decoder{Wrap: func(d protocol.ClassDescriptor) (interface{}, error) {
		return New(o.h.session, o.h.channel, d, false), nil
	}}
}

func (o *Object) request(msg transport.Message, returnType string) (v interface{}, err error) {
	if o.Released() {
		err = util.ErrStaleHandle
		return
	}
	reply, err := o.h.channel.Request(msg, o.h.session.Timeout)
	if err != nil {
		return
	}
	v, err = o.decoder().Decode(reply, returnType)
	runtime.KeepAlive(o)
	return
}

func (o *Object) Field(name string) (v interface{}, err error) {
	if !o.class.HasField(name) {
		err = errors.Wrapf(util.ErrNoSuchField, "%s.%s", o.class.Name, name)
		return
	}
	return o.request(protocol.GetFieldRequest(o.h.id, o.class.RemoteName(name)), "")
}

func (o *Object) SetField(name string, value interface{}) (err error) {
	if !o.class.HasField(name) {
		err = errors.Wrapf(util.ErrNoSuchField, "%s.%s", o.class.Name, name)
		return
	}
	msg := protocol.SetFieldRequest(o.h.id, o.class.RemoteName(name), marshal.PackageValue(value))
	_, err = o.request(msg, "")
	return
}

//	Call resolves name's overload for args and runs it remotely.
func (o *Object) Call(name string, args ...interface{}) (v interface{}, err error) {
	if o.Released() {
		err = util.ErrStaleHandle
		return
	}
	overloads := o.class.Overloads(name)
	if len(overloads) == 0 {
		err = errors.Wrapf(util.ErrNoSuchMethod, "%s.%s", o.class.Name, name)
		return
	}
	chosen, err := marshal.Resolve(name, overloads, args)
	if err != nil {
		return
	}
	call, err := marshal.Package(chosen, args)
	if err != nil {
		return
	}
	return o.request(protocol.RunMethodRequest(o.h.id, chosen.Name, call), chosen.ReturnType)
}

//	Release frees the remote object. Only the first call sends a destructor;
//	later calls, and calls after the channel released it, return nil.
func (o *Object) Release() error {
	o.cleanup.Stop()
	return o.h.release(true)
}
