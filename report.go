package rtsync

import (
	"log"
)

// Reporter is the sink for diagnostics. Errors are always worth a line;
// debug output traces allocation and connection.
type Reporter interface {
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// LogReporter writes through a standard library logger.
type LogReporter struct {
	Logger  *log.Logger
	Verbose bool
}

func (r *LogReporter) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}

func (r *LogReporter) Errorf(format string, args ...any) {
	r.logger().Printf("ERROR "+format, args...)
}

func (r *LogReporter) Debugf(format string, args ...any) {
	if r.Verbose {
		r.logger().Printf("DEBUG "+format, args...)
	}
}

type discardReporter struct{}

func (discardReporter) Errorf(string, ...any) {}
func (discardReporter) Debugf(string, ...any) {}

// DiscardReporter drops everything.
var DiscardReporter Reporter = discardReporter{}

// DefaultReporter is used when no reporter option is given.
var DefaultReporter Reporter = &LogReporter{}
