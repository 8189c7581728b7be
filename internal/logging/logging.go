package logging

import (
	"io"
	"log"
	"os"
)

// Logger is a leveled, timestamp-prefixed log sink with a component name
// prefix, e.g. "[registry/device] connection 3 closed".
type Logger struct {
	name string
	out  *log.Logger
}

func New(name string) *Logger {
	return NewWithWriter(name, os.Stderr)
}

func NewWithWriter(name string, w io.Writer) *Logger {
	return &Logger{
		name: name,
		out:  log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// Named returns a logger sharing the same sink under a nested prefix.
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "/" + name
	}
	return &Logger{name: name, out: l.out}
}

func (l *Logger) Info(format string, args ...any) {
	l.print("INFO", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.print("WARN", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.print("ERROR", format, args...)
}

func (l *Logger) print(level, format string, args ...any) {
	l.out.Printf(level+" ["+l.name+"] "+format, args...)
}
