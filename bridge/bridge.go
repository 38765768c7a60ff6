package bridge

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	oblog "objbridge.dev/ob/common/log"
	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/common/version"
	"objbridge.dev/ob/marshal"
	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/proxy"
	"objbridge.dev/ob/transport"
)

const CORE_CLASSPATH = "mmcorej.CMMCore"
const STUDIO_CLASSPATH = "org.micromanager.Studio"

//	Bridge is one handshaked connection to a bridge server and the factory
//	for remote objects on it. A Bridge and the objects it creates belong to
//	one task; give other tasks their own Bridge.
type Bridge struct {
	id      string
	cfg     Config
	log     *logging.Logger
	tctx    *transport.Context
	master  *transport.Channel
	session *proxy.Session

	serverVersion string
	api           []protocol.MethodDescriptor
	constructors  *lru.Cache

	mu        sync.Mutex
	dedicated []*transport.Channel
	wellKnown map[string]*proxy.Object
	closed    bool
}

//	New dials cfg.Endpoint and performs the connect handshake. A server
//	speaking another protocol version is logged, not refused.
func New(cfg Config) (b *Bridge, err error) {
	if cfg.Log == nil {
		cfg.Log = oblog.Log
	}
	tctx := cfg.Context
	if tctx == nil {
		tctx = transport.SharedContext()
	}
	b = &Bridge{
		id:        uuid.NewV4().String(),
		cfg:       cfg,
		log:       cfg.Log,
		tctx:      tctx,
		wellKnown: map[string]*proxy.Object{},
	}
	b.session = &proxy.Session{
		Factory: proxy.NewFactory(cfg.ConvertNames),
		Log:     cfg.Log,
		Timeout: cfg.Timeouts.Call,
		Owner:   b,
	}
	if cfg.ConstructorCacheSize > 0 {
		if b.constructors, err = lru.New(cfg.ConstructorCacheSize); err != nil {
			b = nil
			return
		}
	}
	if b.master, err = tctx.Dial(cfg.Endpoint, cfg.channelOptions()); err != nil {
		b = nil
		return
	}
	if err = b.handshake(); err != nil {
		b.master.Close()
		b = nil
		return
	}
	return
}

func (b *Bridge) handshake() (err error) {
	timeout := b.cfg.Timeouts.Handshake
	sent, err := b.master.Send(protocol.ConnectRequest(), timeout)
	if err != nil {
		return
	}
	if !sent {
		err = util.ErrHandshakeTimeout
		return
	}
	reply, ok, err := b.master.Receive(timeout)
	if err != nil {
		return
	}
	if !ok {
		err = util.ErrHandshakeTimeout
		return
	}
	reported, api, err := protocol.ParseConnectReply(reply)
	if err != nil {
		err = util.NewProtoError(err)
		return
	}
	b.api = api
	b.serverVersion = version.ServerVersion(reported)
	if !version.Compatible(b.serverVersion) {
		b.log.Warningf("Version mismatch between bridge client and server. Server speaks protocol %s, client expects %s. Calls may fail if message shapes differ.",
			b.serverVersion, version.EXPECTED_PROTOCOL_VERSION)
	}
	b.log.Debugf("bridge %s connected to %s, protocol %s", b.id, b.cfg.Endpoint, b.serverVersion)
	return
}

func (b *Bridge) ID() string {
	return b.id
}

func (b *Bridge) ServerVersion() string {
	return b.serverVersion
}

//	API lists the constructors the server announced in the connect reply.
func (b *Bridge) API() []protocol.MethodDescriptor {
	return b.api
}

func (b *Bridge) Config() Config {
	return b.cfg
}

func (b *Bridge) Channel() *transport.Channel {
	return b.master
}

func (b *Bridge) Classes() int {
	return b.session.Factory.Len()
}

func (b *Bridge) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

//	Constructors returns the constructor descriptors of classpath, in the
//	order the server declares them.
func (b *Bridge) Constructors(classpath string) (candidates []protocol.MethodDescriptor, err error) {
	if b.constructors != nil {
		if cached, ok := b.constructors.Get(classpath); ok {
			candidates = cached.([]protocol.MethodDescriptor)
			return
		}
	}
	reply, err := b.master.Request(protocol.GetConstructorsRequest(classpath), b.cfg.Timeouts.Call)
	if err != nil {
		return
	}
	if candidates, err = protocol.ParseMethodDescriptors(reply["api"]); err != nil {
		err = util.NewProtoError(err)
		return
	}
	if b.constructors != nil && len(candidates) > 0 {
		b.constructors.Add(classpath, candidates)
	}
	return
}

//	ConstructRemoteObject instantiates classpath on the server with the first
//	constructor accepting args. With newSocket the object gets a dedicated
//	channel of its own, closed when the object is released.
func (b *Bridge) ConstructRemoteObject(classpath string, newSocket bool, args ...interface{}) (o *proxy.Object, err error) {
	if b.Closed() {
		err = util.ErrChannelClosed
		return
	}
	candidates, err := b.Constructors(classpath)
	if err != nil {
		return
	}
	if len(candidates) == 0 {
		err = errors.Wrap(util.ErrNoConstructors, classpath)
		return
	}
	chosen, err := marshal.Resolve(classpath, candidates, args)
	if err != nil {
		return
	}
	call, err := marshal.Package(chosen, args)
	if err != nil {
		return
	}
	reply, err := b.master.Request(protocol.ConstructorRequest(classpath, call, newSocket), b.cfg.Timeouts.Call)
	if err != nil {
		return
	}
	d, err := protocol.ParseClassDescriptor(reply)
	if err != nil {
		err = util.NewProtoError(err)
		return
	}
	if !newSocket {
		o = proxy.New(b.session, b.master, d, false)
		return
	}
	if d.Port == nil {
		err = util.NewProtoError(errors.Errorf("constructor reply for %s carries no port", classpath))
		return
	}
	channel, err := b.tctx.Dial(b.cfg.Endpoint.WithPort(*d.Port), b.cfg.channelOptions())
	if err != nil {
		b.log.Error("dedicated channel for", classpath, "unreachable, remote object", d.Handle, "leaks:", err)
		return
	}
	b.addDedicated(channel)
	o = proxy.New(b.session, channel, d, true)
	return
}

func (b *Bridge) addDedicated(channel *transport.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := b.dedicated[:0]
	for _, c := range b.dedicated {
		if !c.Closed() {
			open = append(open, c)
		}
	}
	b.dedicated = append(open, channel)
}

func (b *Bridge) wellKnownObject(classpath string) (o *proxy.Object, err error) {
	b.mu.Lock()
	o = b.wellKnown[classpath]
	b.mu.Unlock()
	if o != nil && !o.Released() {
		return
	}
	if o, err = b.ConstructRemoteObject(classpath, false); err != nil {
		return
	}

	b.mu.Lock()
	existing := b.wellKnown[classpath]
	if existing == nil || existing.Released() {
		b.wellKnown[classpath] = o
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	//	lost the race to another caller
	if releaseErr := o.Release(); releaseErr != nil {
		b.log.Error(releaseErr)
	}
	o = existing
	return
}

//	Core returns the shared mmcorej.CMMCore object, constructing it once.
func (b *Bridge) Core() (*proxy.Object, error) {
	return b.wellKnownObject(CORE_CLASSPATH)
}

//	Studio returns the shared org.micromanager.Studio object.
func (b *Bridge) Studio() (*proxy.Object, error) {
	return b.wellKnownObject(STUDIO_CLASSPATH)
}

//	Close releases every object created through b, dedicated channels
//	first, then closes the master channel.
func (b *Bridge) Close() (err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	dedicated := b.dedicated
	b.dedicated = nil
	b.mu.Unlock()

	for _, c := range dedicated {
		if closeErr := c.Close(); closeErr != nil {
			b.log.Error("closing", c, ":", closeErr)
		}
	}
	err = b.master.Close()
	b.log.Debugf("bridge %s closed", b.id)
	return
}
