package proxy

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"objbridge.dev/ob/bridge/bridgetest"
	oblog "objbridge.dev/ob/common/log"
	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/transport"
)

const cameraClass = "org.example.Camera"
const imageClass = "org.example.Image"

func cameraServer(t *testing.T) *bridgetest.Server {
	server := bridgetest.NewServer(t)
	exposure := bridgetest.Envelope(nil)
	server.Register(&bridgetest.Class{
		Name:         cameraClass,
		Interfaces:   []string{"org.example.Device"},
		Constructors: []protocol.MethodDescriptor{{Name: cameraClass, ReturnType: cameraClass}},
		API: []protocol.MethodDescriptor{
			{Name: "getExposure", ReturnType: "double"},
			{Name: "setExposure", ArgumentTypes: []string{"double"}, ReturnType: "void"},
			{Name: "snap", ReturnType: imageClass},
		},
		Fields: map[string]transport.Message{"label": bridgetest.Envelope("cam0")},
		Methods: map[string]bridgetest.Method{
			"getExposure": func(call bridgetest.Call) transport.Message {
				return exposure
			},
			"setExposure": func(call bridgetest.Call) transport.Message {
				exposure = bridgetest.Envelope(call.Arguments[0])
				return bridgetest.Envelope(nil)
			},
			"snap": func(call bridgetest.Call) transport.Message {
				return call.Server.NewObject(imageClass)
			},
		},
	})
	server.Register(&bridgetest.Class{
		Name: imageClass,
		API:  []protocol.MethodDescriptor{{Name: "width", ReturnType: "int"}},
		Methods: map[string]bridgetest.Method{
			"width": func(call bridgetest.Call) transport.Message {
				return bridgetest.Envelope(512)
			},
		},
	})
	return server
}

func newSession() *Session {
	return &Session{Factory: NewFactory(true), Log: oblog.Log, Timeout: 2 * time.Second}
}

func dial(t *testing.T, server *bridgetest.Server) *transport.Channel {
	x := transport.NewContext()
	c, err := x.Dial(server.Endpoint, transport.ChannelOptions{Log: oblog.Log, DialTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { x.Close() })
	return c
}

func construct(t *testing.T, session *Session, c *transport.Channel, classpath string) *Object {
	reply, err := c.Request(protocol.ConstructorRequest(classpath, protocol.Call{}, false), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	d, err := protocol.ParseClassDescriptor(reply)
	if err != nil {
		t.Fatal(err)
	}
	return New(session, c, d, false)
}

func TestFactoryReusesClass(t *testing.T) {
	f := NewFactory(false)
	first := f.ClassFor(protocol.ClassDescriptor{Class: cameraClass, API: []protocol.MethodDescriptor{{Name: "snap"}}})
	second := f.ClassFor(protocol.ClassDescriptor{Class: cameraClass, API: []protocol.MethodDescriptor{{Name: "other"}}})
	if first != second {
		t.Fatal("a class must be built once")
	}
	if second.HasMethod("other") {
		t.Fatal("later descriptors must not change a cached class")
	}
	if f.Len() != 1 {
		t.Fatal("expected one cached class")
	}
}

func TestExportedNames(t *testing.T) {
	c := newClass(protocol.ClassDescriptor{
		Class: cameraClass,
		API: []protocol.MethodDescriptor{
			{Name: "getImage"},
			{Name: "getImage", ArgumentTypes: []string{"int"}},
			{Name: "Reset"},
			{Name: "reset"},
		},
	}, true)
	if c.RemoteName("GetImage") != "getImage" || len(c.Overloads("GetImage")) != 2 {
		t.Fatal("GetImage must reach getImage")
	}
	if c.RemoteName("Reset") != "Reset" || c.RemoteName("reset") != "reset" {
		t.Fatal("a declared name must never be aliased away")
	}
	methods := c.Methods()
	want := []string{"GetImage", "Reset", "reset"}
	if len(methods) != len(want) {
		t.Fatal("methods", methods)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Fatal("methods", methods)
		}
	}
	if ExportedName("_x") != "_x" || ExportedName("") != "" {
		t.Fatal("only lower-case initials change")
	}
}

func TestCallsAndFields(t *testing.T) {
	server := cameraServer(t)
	c := dial(t, server)
	camera := construct(t, newSession(), c, cameraClass)

	if _, err := camera.Call("SetExposure", 12.5); err != nil {
		t.Fatal(err)
	}
	exposure, err := camera.Call("getExposure")
	if err != nil {
		t.Fatal(err)
	}
	if exposure != 12.5 {
		t.Fatalf("exposure is %#v", exposure)
	}

	label, err := camera.Field("label")
	if err != nil || label != "cam0" {
		t.Fatal("label", label, err)
	}
	if err = camera.SetField("Label", "cam1"); err != nil {
		t.Fatal(err)
	}
	if label, _ = camera.Field("label"); label != "cam1" {
		t.Fatal("label was not set", label)
	}

	if _, err = camera.Field("missing"); errors.Cause(err) != util.ErrNoSuchField {
		t.Fatal("expected ErrNoSuchField, got", err)
	}
	if _, err = camera.Call("missing"); errors.Cause(err) != util.ErrNoSuchMethod {
		t.Fatal("expected ErrNoSuchMethod, got", err)
	}
	if _, err = camera.Call("setExposure", "fast"); err == nil {
		t.Fatal("a string must not resolve to a double parameter")
	}
}

func TestReturnedObjectsShareChannel(t *testing.T) {
	server := cameraServer(t)
	c := dial(t, server)
	session := newSession()
	camera := construct(t, session, c, cameraClass)

	v, err := camera.Call("snap")
	if err != nil {
		t.Fatal(err)
	}
	image, ok := v.(*Object)
	if !ok {
		t.Fatalf("snap returned %#v", v)
	}
	if image.Channel() != c || image.Class() != imageClass {
		t.Fatal("returned object must live on the caller's channel")
	}
	width, err := image.Call("Width")
	if err != nil || width != int32(512) {
		t.Fatalf("width %#v, %v", width, err)
	}
	if session.Factory.Len() != 2 {
		t.Fatal("expected two cached classes")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	server := cameraServer(t)
	c := dial(t, server)
	camera := construct(t, newSession(), c, cameraClass)

	if err := camera.Release(); err != nil {
		t.Fatal(err)
	}
	if err := camera.Release(); err != nil {
		t.Fatal(err)
	}
	if server.Destructors(camera.Handle()) != 1 {
		t.Fatal("expected exactly one destructor")
	}
	if _, err := camera.Call("getExposure"); err != util.ErrStaleHandle {
		t.Fatal("expected ErrStaleHandle, got", err)
	}
	if c.Tracked() != 0 {
		t.Fatal("released objects must not stay tracked")
	}
}

//	freeBehindProxy destroys the remote object directly, so the proxy's own
//	destructor is answered with an exception.
func freeBehindProxy(t *testing.T, c *transport.Channel, h protocol.Handle) {
	if _, err := c.Request(protocol.DestructorRequest(h), time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestExplicitReleasePropagatesException(t *testing.T) {
	server := cameraServer(t)
	c := dial(t, server)
	camera := construct(t, newSession(), c, cameraClass)
	freeBehindProxy(t, c, camera.Handle())

	err := camera.Release()
	if _, ok := errors.Cause(err).(*util.RemoteError); !ok {
		t.Fatal("expected a RemoteError from release, got", err)
	}
	if !camera.Released() {
		t.Fatal("a failed destructor still ends the proxy")
	}
	if err = camera.Release(); err != nil {
		t.Fatal("second release must be a no-op", err)
	}
	if server.Destructors(camera.Handle()) != 2 {
		t.Fatal("expected the direct destructor plus one from release")
	}
}

func errorRecords(backend *logging.MemoryBackend) (messages []string) {
	for node := backend.Head(); node != nil; node = node.Next() {
		if node.Record.Level == logging.ERROR {
			messages = append(messages, node.Record.Message())
		}
	}
	return
}

func TestReclaimedReleaseLogsException(t *testing.T) {
	backend := logging.InitForTesting(logging.DEBUG)
	server := cameraServer(t)
	c := dial(t, server)
	handle := construct(t, newSession(), c, cameraClass).Handle()
	freeBehindProxy(t, c, handle)

	util.TrueBefore(t, func() bool {
		runtime.GC()
		for _, msg := range errorRecords(backend) {
			if strings.Contains(msg, "RemoteException") && strings.Contains(msg, handle.String()) {
				return true
			}
		}
		return false
	}, time.Now().Add(5*time.Second))
	if server.Destructors(handle) != 2 {
		t.Fatal("expected the direct destructor plus one from reclamation")
	}
}

func TestUnreachableObjectIsReleased(t *testing.T) {
	server := cameraServer(t)
	c := dial(t, server)
	handle := construct(t, newSession(), c, cameraClass).Handle()

	util.TrueBefore(t, func() bool {
		runtime.GC()
		return server.Destructors(handle) == 1
	}, time.Now().Add(5*time.Second))
	time.Sleep(50 * time.Millisecond)
	if server.Destructors(handle) != 1 {
		t.Fatal("expected exactly one destructor")
	}
}

func TestChannelCloseReleasesObjects(t *testing.T) {
	server := cameraServer(t)
	c := dial(t, server)
	session := newSession()
	first := construct(t, session, c, cameraClass)
	second := construct(t, session, c, cameraClass)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	for _, o := range []*Object{first, second} {
		if !o.Released() || server.Destructors(o.Handle()) != 1 {
			t.Fatal("close must release", o)
		}
		if err := o.Release(); err != nil {
			t.Fatal("release after close must be a no-op", err)
		}
	}
}

func TestScopeReleasesEverything(t *testing.T) {
	server := cameraServer(t)
	c := dial(t, server)
	session := newSession()

	scope := NewScope()
	camera := scope.Add(construct(t, session, c, cameraClass))
	scope.Adopt([]interface{}{construct(t, session, c, cameraClass), "not an object"})
	if scope.Len() != 2 {
		t.Fatal("expected two scoped objects")
	}
	if err := scope.Close(); err != nil {
		t.Fatal(err)
	}
	if !camera.Released() || server.Live() != 0 {
		t.Fatal("scope close must release everything")
	}
}
