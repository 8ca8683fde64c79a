package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "exstem-evaluation"

// Setup configures zerolog and returns the root logger.
//   - level: trace, debug, info, warn, error, fatal or panic; anything else is info
//   - format: "pretty" for console output, JSON otherwise
//
// Every line carries the service name and the instance (hostname), since live
// sessions are held in memory by exactly one instance.
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, level, format)
}

// New is Setup with an explicit output.
func New(out io.Writer, level, format string) zerolog.Logger {
	writer := out
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(writer).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("instance", instanceName()).
		Caller().
		Logger()
}

func instanceName() string {
	if name := os.Getenv("INSTANCE_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}
