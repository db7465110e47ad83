package fieldsync

import "log"

// Logger is the minimal logging surface this package needs. The stdlib
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type defaultLogger struct{}

func (defaultLogger) Printf(format string, args ...any) {
	log.Printf(format, args...)
}
