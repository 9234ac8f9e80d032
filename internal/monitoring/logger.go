// Package monitoring holds the process-wide diagnostic logger shared by the
// storage and command layers.
package monitoring

import (
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a printf-style function that tags every message with
// prefix and forwards it to the current Logf.
func Prefixed(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Writer adapts Logf to an io.Writer so that stream loggers built on
// log.New can be routed through it. Each write is forwarded as one message
// with the trailing newline removed.
type Writer struct{}

func (Writer) Write(p []byte) (int, error) {
	Logf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
