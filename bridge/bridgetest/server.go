//	Package bridgetest runs an in-process bridge server speaking the wire
//	protocol, scripted per class, for tests of anything built on a bridge.
package bridgetest

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"

	"objbridge.dev/ob/common/socket"
	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/transport"
)

//	Call is one run-method request as a Method sees it.
type Call struct {
	Server        *Server
	Handle        protocol.Handle
	Name          string
	ArgumentTypes []string
	Arguments     []interface{}
}

//	Method returns the response envelope for one call.
type Method func(call Call) transport.Message

//	Class scripts one remote class. Fields holds each field's initial
//	response envelope.
type Class struct {
	Name         string
	Interfaces   []string
	Constructors []protocol.MethodDescriptor
	API          []protocol.MethodDescriptor
	Fields       map[string]transport.Message
	Methods      map[string]Method
}

type object struct {
	class  *Class
	fields map[string]transport.Message
}

type Server struct {
	t        *testing.T
	Endpoint socket.Endpoint

	mu          sync.Mutex
	listeners   []net.Listener
	conns       []net.Conn
	wg          sync.WaitGroup
	closed      bool
	classes     map[string]*Class
	objects     map[protocol.Handle]*object
	nextHandle  protocol.Handle
	received    []transport.Message
	destructors map[protocol.Handle]int
	ports       []int

	version     *string
	muteConnect bool
}

func NewServer(t *testing.T) (s *Server) {
	s = &Server{
		t:           t,
		classes:     map[string]*Class{},
		objects:     map[protocol.Handle]*object{},
		nextHandle:  1000,
		destructors: map[protocol.Handle]int{},
	}
	s.SetVersion("4.0.0")
	port, err := s.listen()
	if err != nil {
		t.Fatal(err)
	}
	s.Endpoint = socket.DefaultEndpoint().WithPort(port)
	t.Cleanup(s.Close)
	return
}

func (s *Server) listen() (port int, err error) {
	listener, err := socket.Listen(socket.DefaultEndpoint().WithPort(0))
	if err != nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
	port = listener.Addr().(*net.TCPAddr).Port
	s.wg.Add(1)
	go s.accept(listener)
	return
}

func (s *Server) accept(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.wg.Add(1)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	var ids transport.FrameIDs
	for {
		msg, err := transport.ReadMessage(r)
		if err != nil {
			return
		}
		reply := s.handle(msg)
		if reply == nil {
			continue
		}
		if err = transport.WriteMessage(conn, reply, &ids); err != nil {
			return
		}
	}
}

//	SetVersion sets the version reported in the connect reply.
func (s *Server) SetVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = &version
}

//	OmitVersion leaves the version field out of the connect reply.
func (s *Server) OmitVersion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = nil
}

//	MuteConnect drops connect requests without replying.
func (s *Server) MuteConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muteConnect = true
}

func (s *Server) Register(c *Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[c.Name] = c
}

//	Received returns every request seen with the given command, or all of
//	them when command is empty.
func (s *Server) Received(command string) (msgs []transport.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.received {
		if command == "" || msg.Command() == command {
			msgs = append(msgs, msg)
		}
	}
	return
}

//	Destructors counts destructor requests seen for h.
func (s *Server) Destructors(h protocol.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destructors[h]
}

func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

//	DedicatedPorts lists the ports opened for new-port constructor requests.
func (s *Server) DedicatedPorts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int{}, s.ports...)
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, listener := range s.listeners {
		listener.Close()
	}
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func Exception(format string, a ...interface{}) transport.Message {
	return transport.Message{"type": protocol.TYPE_EXCEPTION, "value": fmt.Sprintf(format, a...)}
}

func Success() transport.Message {
	return transport.Message{"type": protocol.TYPE_SUCCESS}
}

//	Envelope wraps a plain value the way the server returns it.
func Envelope(v interface{}) transport.Message {
	switch value := v.(type) {
	case nil:
		return transport.Message{"type": protocol.TYPE_NULL}
	case string:
		return transport.Message{"type": protocol.TYPE_STRING, "value": value}
	case transport.Message:
		return value
	}
	return transport.Message{"type": protocol.TYPE_PRIMITIVE, "value": v}
}

func descriptors(methods []protocol.MethodDescriptor) []interface{} {
	list := make([]interface{}, len(methods))
	for i, m := range methods {
		list[i] = m.Message()
	}
	return list
}

func stringList(s []string) []interface{} {
	list := make([]interface{}, len(s))
	for i, v := range s {
		list[i] = v
	}
	return list
}

//	NewObject instantiates class and returns its unserialized-object
//	envelope, for methods that hand back remote objects.
func (s *Server) NewObject(class string) transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.instantiate(class)
	if !ok {
		return Exception("ClassNotFoundException: %s", class)
	}
	reply["type"] = protocol.TYPE_UNSERIALIZED_OBJECT
	return reply
}

func (s *Server) instantiate(classpath string) (reply transport.Message, ok bool) {
	c, ok := s.classes[classpath]
	if !ok {
		return
	}
	s.nextHandle++
	h := s.nextHandle
	o := &object{class: c, fields: map[string]transport.Message{}}
	fields := make([]string, 0, len(c.Fields))
	for name, value := range c.Fields {
		o.fields[name] = value
		fields = append(fields, name)
	}
	s.objects[h] = o
	reply = transport.Message{
		"class":      c.Name,
		"hash-code":  int64(h),
		"interfaces": stringList(c.Interfaces),
		"fields":     stringList(fields),
		"api":        descriptors(c.API),
	}
	return
}

func (s *Server) handle(msg transport.Message) transport.Message {
	s.mu.Lock()
	s.received = append(s.received, msg)
	version, mute := s.version, s.muteConnect
	s.mu.Unlock()

	switch msg.Command() {
	case protocol.CMD_CONNECT:
		if mute {
			return nil
		}
		reply := transport.Message{"api": []interface{}{}}
		if version != nil {
			reply["version"] = *version
		}
		return reply
	case protocol.CMD_GET_CONSTRUCTORS:
		s.mu.Lock()
		defer s.mu.Unlock()
		classpath, _ := msg["classpath"].(string)
		if c, ok := s.classes[classpath]; ok {
			return transport.Message{"api": descriptors(c.Constructors)}
		}
		return transport.Message{"api": []interface{}{}}
	case protocol.CMD_CONSTRUCTOR:
		return s.construct(msg)
	case protocol.CMD_GET_FIELD, protocol.CMD_SET_FIELD:
		return s.field(msg)
	case protocol.CMD_RUN_METHOD:
		return s.run(msg)
	case protocol.CMD_DESTRUCTOR:
		h, err := protocol.ParseHandle(msg["hash-code"])
		if err != nil {
			return Exception("bad hash-code: %v", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.destructors[h]++
		if _, ok := s.objects[h]; !ok {
			return Exception("no object with hash-code %s", h)
		}
		delete(s.objects, h)
		return Success()
	}
	return Exception("unknown command %q", msg.Command())
}

func (s *Server) construct(msg transport.Message) transport.Message {
	classpath, _ := msg["classpath"].(string)
	var port int
	if newPort, _ := msg["new-port"].(bool); newPort {
		var err error
		if port, err = s.listen(); err != nil {
			return Exception("listen: %v", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.instantiate(classpath)
	if !ok {
		return Exception("ClassNotFoundException: %s", classpath)
	}
	if port != 0 {
		s.ports = append(s.ports, port)
		reply["port"] = port
	}
	return reply
}

func (s *Server) field(msg transport.Message) transport.Message {
	h, err := protocol.ParseHandle(msg["hash-code"])
	if err != nil {
		return Exception("bad hash-code: %v", err)
	}
	name, _ := msg["name"].(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[h]
	if !ok {
		return Exception("no object with hash-code %s", h)
	}
	if _, ok = o.fields[name]; !ok {
		return Exception("NoSuchFieldException: %s", name)
	}
	if msg.Command() == protocol.CMD_SET_FIELD {
		o.fields[name] = Envelope(msg["value"])
		return Success()
	}
	return o.fields[name]
}

func (s *Server) run(msg transport.Message) transport.Message {
	h, err := protocol.ParseHandle(msg["hash-code"])
	if err != nil {
		return Exception("bad hash-code: %v", err)
	}
	call := Call{Server: s, Handle: h}
	call.Name, _ = msg["name"].(string)
	call.ArgumentTypes, _ = protocol.StringList(msg["argument-types"])
	call.Arguments, _ = msg["arguments"].([]interface{})

	s.mu.Lock()
	o, ok := s.objects[h]
	var method Method
	if ok {
		method = o.class.Methods[call.Name]
	}
	s.mu.Unlock()
	if !ok {
		return Exception("no object with hash-code %s", h)
	}
	if method == nil {
		return Exception("NoSuchMethodException: %s", call.Name)
	}
	return method(call)
}
