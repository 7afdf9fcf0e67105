// Package logger is a process-wide logging facade. Backends are registered
// once with Init; until then every call is a no-op, which keeps library
// packages and their tests quiet.
package logger

import "sync/atomic"

// Sink receives log records of every level.
type Sink interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

var sinks atomic.Pointer[[]Sink]

// Init replaces the registered backends.
func Init(s ...Sink) {
	sinks.Store(&s)
}

func each(fn func(Sink)) {
	p := sinks.Load()
	if p == nil {
		return
	}
	for _, s := range *p {
		fn(s)
	}
}

func Log(message string, keyvals ...any) {
	each(func(s Sink) { s.Log(message, keyvals...) })
}

func Debug(message string, keyvals ...any) {
	each(func(s Sink) { s.Debug(message, keyvals...) })
}

func Info(message string, keyvals ...any) {
	each(func(s Sink) { s.Info(message, keyvals...) })
}

func Warn(message string, keyvals ...any) {
	each(func(s Sink) { s.Warn(message, keyvals...) })
}

func Error(message string, keyvals ...any) {
	each(func(s Sink) { s.Error(message, keyvals...) })
}

// Fatal logs and lets the backends terminate the process.
func Fatal(message string, keyvals ...any) {
	each(func(s Sink) { s.Fatal(message, keyvals...) })
}
