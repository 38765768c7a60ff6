package bridge

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"objbridge.dev/ob/bridge/bridgetest"
	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/transport"
)

const stageClass = "org.example.Stage"

func stageServer(t *testing.T) *bridgetest.Server {
	server := bridgetest.NewServer(t)
	server.Register(&bridgetest.Class{
		Name:       stageClass,
		Interfaces: []string{"org.example.Device"},
		Constructors: []protocol.MethodDescriptor{
			{Name: stageClass, ReturnType: stageClass},
			{Name: stageClass, ArgumentTypes: []string{"int"}, ReturnType: stageClass},
		},
		API: []protocol.MethodDescriptor{
			{Name: "home", ReturnType: "void"},
			{Name: "fail", ReturnType: "void"},
		},
		Methods: map[string]bridgetest.Method{
			"home": func(call bridgetest.Call) transport.Message {
				return bridgetest.Envelope(nil)
			},
			"fail": func(call bridgetest.Call) transport.Message {
				return bridgetest.Exception("boom")
			},
		},
	})
	return server
}

func testConfig(t *testing.T, server *bridgetest.Server) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = server.Endpoint
	cfg.Timeouts.Handshake = 500 * time.Millisecond
	cfg.Timeouts.Call = 2 * time.Second
	x := transport.NewContext()
	t.Cleanup(func() { x.Close() })
	cfg.Context = x
	return cfg
}

func connect(t *testing.T, cfg Config) *Bridge {
	b, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func warnings(backend *logging.MemoryBackend) (messages []string) {
	for node := backend.Head(); node != nil; node = node.Next() {
		if node.Record.Level == logging.WARNING {
			messages = append(messages, node.Record.Message())
		}
	}
	return
}

func TestHandshakeExpectedVersion(t *testing.T) {
	backend := logging.InitForTesting(logging.DEBUG)
	server := stageServer(t)
	b := connect(t, testConfig(t, server))

	if b.ServerVersion() != "4.0.0" {
		t.Fatal("server version", b.ServerVersion())
	}
	if len(warnings(backend)) != 0 {
		t.Fatal("unexpected warning", warnings(backend))
	}
	if b.ID() == "" {
		t.Fatal("bridge has no id")
	}
}

func TestHandshakeWithoutVersionAssumesLegacy(t *testing.T) {
	backend := logging.InitForTesting(logging.DEBUG)
	server := stageServer(t)
	server.OmitVersion()
	b := connect(t, testConfig(t, server))

	if b.ServerVersion() != "2.0.0" {
		t.Fatal("server version", b.ServerVersion())
	}
	found := warnings(backend)
	if len(found) != 1 || !strings.Contains(found[0], "2.0.0") {
		t.Fatal("expected one mismatch warning, got", found)
	}
}

func TestHandshakeBuildMetadataWarns(t *testing.T) {
	backend := logging.InitForTesting(logging.DEBUG)
	server := stageServer(t)
	server.SetVersion("4.0.0+build7")
	connect(t, testConfig(t, server))

	if len(warnings(backend)) != 1 {
		t.Fatal("expected one mismatch warning, got", warnings(backend))
	}
}

func TestDebugLeavesLoggerLevel(t *testing.T) {
	logging.InitForTesting(logging.INFO)
	server := stageServer(t)
	cfg := testConfig(t, server)
	cfg.Debug = true
	connect(t, cfg)

	if logging.GetLevel(cfg.Log.Module) != logging.INFO {
		t.Fatal("debug must not change the shared logger level")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	server := stageServer(t)
	server.MuteConnect()
	cfg := testConfig(t, server)
	cfg.Timeouts.Handshake = 100 * time.Millisecond

	_, err := New(cfg)
	if err != util.ErrHandshakeTimeout {
		t.Fatal("expected ErrHandshakeTimeout, got", err)
	}
	if cfg.Context.Open() != 0 {
		t.Fatal("failed handshake must close its channel")
	}
}

func TestNoConstructorsRaisesBeforeConstructing(t *testing.T) {
	server := stageServer(t)
	b := connect(t, testConfig(t, server))

	_, err := b.ConstructRemoteObject("X.Y", false)
	if errors.Cause(err) != util.ErrNoConstructors {
		t.Fatal("expected ErrNoConstructors, got", err)
	}
	if len(server.Received(protocol.CMD_GET_CONSTRUCTORS)) != 1 {
		t.Fatal("expected one get-constructors request")
	}
	if len(server.Received(protocol.CMD_CONSTRUCTOR)) != 0 {
		t.Fatal("no constructor may be sent")
	}
}

func TestConstructorOverload(t *testing.T) {
	server := stageServer(t)
	b := connect(t, testConfig(t, server))

	stage, err := b.ConstructRemoteObject(stageClass, false, 3)
	if err != nil {
		t.Fatal(err)
	}
	if stage.Class() != stageClass || stage.Channel() != b.Channel() {
		t.Fatal("unexpected object", stage)
	}
	if stage.Owner() != b {
		t.Fatal("object must refer back to its bridge")
	}
	sent := server.Received(protocol.CMD_CONSTRUCTOR)
	if len(sent) != 1 {
		t.Fatal("expected one constructor")
	}
	types, _ := protocol.StringList(sent[0]["argument-types"])
	if len(types) != 1 || types[0] != "int" {
		t.Fatal("wrong constructor chosen", types)
	}
	if _, ok := sent[0]["new-port"]; ok {
		t.Fatal("new-port only travels when requested")
	}

	_, err = b.ConstructRemoteObject(stageClass, false, "three")
	if _, ok := err.(*util.NoMatchingOverloadError); !ok {
		t.Fatal("expected NoMatchingOverloadError, got", err)
	}
}

func TestRemoteExceptionPropagates(t *testing.T) {
	server := stageServer(t)
	b := connect(t, testConfig(t, server))
	stage, err := b.ConstructRemoteObject(stageClass, false)
	if err != nil {
		t.Fatal(err)
	}

	_, err = stage.Call("fail")
	if _, ok := err.(*util.RemoteError); !ok || !strings.Contains(err.Error(), "boom") {
		t.Fatal("expected a remote error carrying boom, got", err)
	}
	if _, err = stage.Call("home"); err != nil {
		t.Fatal("channel must stay usable after an exception", err)
	}
}

func TestUnownedObjectReleasedOnce(t *testing.T) {
	server := stageServer(t)
	b := connect(t, testConfig(t, server))

	var handle protocol.Handle
	func() {
		stage, err := b.ConstructRemoteObject(stageClass, false)
		if err != nil {
			t.Fatal(err)
		}
		handle = stage.Handle()
	}()

	util.TrueBefore(t, func() bool {
		runtime.GC()
		return server.Destructors(handle) > 0
	}, time.Now().Add(5*time.Second))

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if server.Destructors(handle) != 1 {
		t.Fatal("expected exactly one destructor, got", server.Destructors(handle))
	}
}

func TestDedicatedChannel(t *testing.T) {
	server := stageServer(t)
	cfg := testConfig(t, server)
	b := connect(t, cfg)

	stage, err := b.ConstructRemoteObject(stageClass, true)
	if err != nil {
		t.Fatal(err)
	}
	if stage.Channel() == b.Channel() {
		t.Fatal("new socket must get its own channel")
	}
	if ports := server.DedicatedPorts(); len(ports) != 1 || stage.Channel().Endpoint().Port != ports[0] {
		t.Fatal("dedicated channel must dial the announced port", ports)
	}
	if _, err = stage.Call("home"); err != nil {
		t.Fatal(err)
	}
	if err = stage.Release(); err != nil {
		t.Fatal(err)
	}
	if !stage.Channel().Closed() || server.Destructors(stage.Handle()) != 1 {
		t.Fatal("release must send one destructor and close the dedicated channel")
	}
	if cfg.Context.Open() != 1 {
		t.Fatal("only the master channel should remain open")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	server := stageServer(t)
	b := connect(t, testConfig(t, server))

	shared, err := b.ConstructRemoteObject(stageClass, false)
	if err != nil {
		t.Fatal(err)
	}
	dedicated, err := b.ConstructRemoteObject(stageClass, true)
	if err != nil {
		t.Fatal(err)
	}
	if err = b.Close(); err != nil {
		t.Fatal(err)
	}
	if !shared.Released() || !dedicated.Released() || server.Live() != 0 {
		t.Fatal("bridge close must release every object")
	}
	if _, err = shared.Call("home"); err != util.ErrStaleHandle {
		t.Fatal("expected ErrStaleHandle, got", err)
	}
	if _, err = b.ConstructRemoteObject(stageClass, false); err != util.ErrChannelClosed {
		t.Fatal("expected ErrChannelClosed, got", err)
	}
}

func TestConstructorCache(t *testing.T) {
	server := stageServer(t)
	cfg := testConfig(t, server)
	cfg.ConstructorCacheSize = 8
	b := connect(t, cfg)

	for i := 0; i < 3; i++ {
		stage, err := b.ConstructRemoteObject(stageClass, false)
		if err != nil {
			t.Fatal(err)
		}
		stage.Release()
	}
	if len(server.Received(protocol.CMD_GET_CONSTRUCTORS)) != 1 {
		t.Fatal("constructors must be fetched once")
	}
	if b.Classes() != 1 {
		t.Fatal("one class must be cached")
	}
}

func TestCoreIsShared(t *testing.T) {
	server := stageServer(t)
	server.Register(&bridgetest.Class{
		Name:         CORE_CLASSPATH,
		Constructors: []protocol.MethodDescriptor{{Name: CORE_CLASSPATH, ReturnType: CORE_CLASSPATH}},
	})
	b := connect(t, testConfig(t, server))

	first, err := b.Core()
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Core()
	if err != nil {
		t.Fatal(err)
	}
	if first != second || len(server.Received(protocol.CMD_CONSTRUCTOR)) != 1 {
		t.Fatal("core must be constructed once")
	}
	if _, err = b.Studio(); err == nil {
		t.Fatal("studio is not registered on this server")
	}
}

func TestContextBinding(t *testing.T) {
	server := stageServer(t)
	cfg := testConfig(t, server)

	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("background context carries no bridge")
	}
	b, ctx, err := ForContext(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	again, _, err := ForContext(ctx, cfg)
	if err != nil || again != b {
		t.Fatal("bound context must reuse its bridge")
	}
	if len(server.Received(protocol.CMD_CONNECT)) != 1 {
		t.Fatal("one handshake per bound context")
	}

	b.Close()
	if _, ok := FromContext(ctx); ok {
		t.Fatal("a closed bridge must not be handed out")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(PORT_ENV, "5000")
	t.Setenv(DEBUG_ENV, "true")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint.Port != 5000 || !cfg.Debug || cfg.Endpoint.Host != "127.0.0.1" {
		t.Fatal("env not applied", cfg)
	}

	t.Setenv(PORT_ENV, "abc")
	if _, err = ConfigFromEnv(); err == nil {
		t.Fatal("expected a bad port error")
	}
}
