package logutil

import (
	"fmt"
	"io"
	"strings"

	"github.com/phuslu/log"
)

var levels = map[string]log.Level{
	"trace": log.TraceLevel,
	"debug": log.DebugLevel,
	"info":  log.InfoLevel,
	"warn":  log.WarnLevel,
	"error": log.ErrorLevel,
}

// Configure replaces the global logger. format is "console" (default) or "json".
func Configure(level string, format string, w io.Writer) error {
	lvl, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		if level != "" {
			return fmt.Errorf("unknown log level %q", level)
		}
		lvl = log.InfoLevel
	}

	var writer log.Writer
	switch strings.ToLower(format) {
	case "", "console":
		writer = &log.ConsoleWriter{Writer: w}
	case "json":
		writer = &log.IOWriter{Writer: w}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.DefaultLogger = log.Logger{
		Level:  lvl,
		Writer: writer,
	}
	return nil
}
