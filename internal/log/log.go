// Package log provides the project logger, a thin interface over logrus.
package log

import (
	"sync"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	once   sync.Once
	logger Logger
)

// GetLogger returns the process logger. Before Init it returns a console
// logger at info level so library code can always log.
func GetLogger() Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger, _ = newLogger(DefaultConfig())
	}
	return logger
}

// Init installs the process logger. Only the first call has an effect.
func Init(cfg *Config) error {
	var err error
	once.Do(func() {
		var l Logger
		l, err = newLogger(cfg)
		if err != nil {
			return
		}
		mu.Lock()
		logger = l
		mu.Unlock()
	})
	return err
}

// SetLogger replaces the process logger, used by tests to capture output.
func SetLogger(l Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}
