package log

import (
	"os"

	"github.com/op/go-logging"
)

const LOG_LEVEL_ENV = "OB_LOG_LEVEL"

var Log = logging.MustGetLogger("objbridge")

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)
var stderrFormat = logging.MustStringFormatter(
	`%{color}objbridge %{module} ▶ %{message}%{color:reset}`,
)

//	Level parses the OB_LOG_LEVEL spelling of a level, falling back to defaultLevel.
func Level(name string, defaultLevel logging.Level) logging.Level {
	switch name {
	case "CRITICAL":
		return logging.CRITICAL
	case "ERROR":
		return logging.ERROR
	case "WARNING":
		return logging.WARNING
	case "NOTICE":
		return logging.NOTICE
	case "INFO":
		return logging.INFO
	case "DEBUG":
		return logging.DEBUG
	}
	return defaultLevel
}

func SetupLogging(prefix string, defaultLogLevel logging.Level, trySyslog bool) *logging.Logger {
	var backend logging.Backend
	if trySyslog {
		backend = getSyslogBackend(prefix)
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, prefix, 0)
		logging.SetFormatter(stderrFormat)
	}
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(Level(os.Getenv(LOG_LEVEL_ENV), defaultLogLevel), "")

	logging.SetBackend(leveled)
	return Log
}

//	Named returns a module logger that shares the process backend.
func Named(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}
