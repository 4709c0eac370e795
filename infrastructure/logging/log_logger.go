// Package logging implements the two logging ports: operational
// diagnostics (application.Logger) and the durable Warning Sink, C11
// (application.WarningSink). StdLogger wraps the standard library's
// log package, matching the teacher's sole logging dependency;
// FileSink appends formatted lines directly with os and fmt.
package logging

import (
	"log"
	"os"

	"xfer/application"
)

// StdLogger writes operational diagnostics to stderr via the standard
// library logger.
type StdLogger struct {
	logger *log.Logger
}

// NewStdLogger returns an application.Logger writing to stderr with
// the standard library's default timestamp prefix.
func NewStdLogger() application.Logger {
	return &StdLogger{logger: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *StdLogger) Printf(format string, v ...any) {
	l.logger.Printf(format, v...)
}
