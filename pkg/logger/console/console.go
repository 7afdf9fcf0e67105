// Package console is the terminal backend of the logger facade.
package console

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

type Logger struct {
	l *log.Logger
}

type Params struct {
	Debug bool
	// JSON switches to one JSON object per line, for log shippers.
	JSON bool
	// Writer defaults to stderr.
	Writer io.Writer
	Prefix string
}

func New(p Params) *Logger {
	level := log.InfoLevel
	if p.Debug {
		level = log.DebugLevel
	}
	w := p.Writer
	if w == nil {
		w = os.Stderr
	}
	formatter := log.TextFormatter
	if p.JSON {
		formatter = log.JSONFormatter
	}
	return &Logger{
		l: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			Level:           level,
			Formatter:       formatter,
			Prefix:          p.Prefix,
		}),
	}
}

func (c *Logger) Log(message string, keyvals ...any)   { c.l.Print(message, keyvals...) }
func (c *Logger) Debug(message string, keyvals ...any) { c.l.Debug(message, keyvals...) }
func (c *Logger) Info(message string, keyvals ...any)  { c.l.Info(message, keyvals...) }
func (c *Logger) Warn(message string, keyvals ...any)  { c.l.Warn(message, keyvals...) }
func (c *Logger) Error(message string, keyvals ...any) { c.l.Error(message, keyvals...) }
func (c *Logger) Fatal(message string, keyvals ...any) { c.l.Fatal(message, keyvals...) }
