package bridge

import (
	"os"
	"strconv"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	oblog "objbridge.dev/ob/common/log"
	"objbridge.dev/ob/common/socket"
	"objbridge.dev/ob/transport"
)

const HOST_ENV = "OB_HOST"
const PORT_ENV = "OB_PORT"
const NETWORK_ENV = "OB_NETWORK"
const DEBUG_ENV = "OB_DEBUG"

type Timeouts struct {
	Dial      time.Duration
	Handshake time.Duration
	//	per request once connected, 0 blocks until the reply arrives
	Call time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Dial:      5 * time.Second,
		Handshake: 2 * time.Second,
		Call:      0,
	}
}

type Config struct {
	Endpoint socket.Endpoint
	//	log every header sent and received
	Debug    bool
	Timeouts Timeouts
	//	also reach getImage as GetImage
	ConvertNames bool
	//	entries of the get-constructors cache, 0 disables it
	ConstructorCacheSize int
	Log                  *logging.Logger
	//	nil uses the process-wide transport context
	Context *transport.Context
}

func DefaultConfig() Config {
	return Config{
		Endpoint:     socket.DefaultEndpoint(),
		Timeouts:     DefaultTimeouts(),
		ConvertNames: true,
		Log:          oblog.Log,
	}
}

//	ConfigFromEnv is DefaultConfig with OB_HOST, OB_PORT, OB_NETWORK and
//	OB_DEBUG applied.
func ConfigFromEnv() (cfg Config, err error) {
	cfg = DefaultConfig()
	if host := os.Getenv(HOST_ENV); host != "" {
		cfg.Endpoint.Host = host
	}
	if network := os.Getenv(NETWORK_ENV); network != "" {
		cfg.Endpoint.Network = network
	}
	if port := os.Getenv(PORT_ENV); port != "" {
		if cfg.Endpoint.Port, err = strconv.Atoi(port); err != nil {
			err = errors.Wrapf(err, "%s", PORT_ENV)
			return
		}
	}
	if debug := os.Getenv(DEBUG_ENV); debug != "" {
		if cfg.Debug, err = strconv.ParseBool(debug); err != nil {
			err = errors.Wrapf(err, "%s", DEBUG_ENV)
			return
		}
	}
	return
}

func (cfg Config) channelOptions() transport.ChannelOptions {
	return transport.ChannelOptions{
		Log:         cfg.Log,
		Debug:       cfg.Debug,
		DialTimeout: cfg.Timeouts.Dial,
	}
}
