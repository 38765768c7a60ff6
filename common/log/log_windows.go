//go:build windows
// +build windows

package log

import (
	"github.com/op/go-logging"
)

func getSyslogBackend(prefix string) logging.Backend {
	return nil
}
