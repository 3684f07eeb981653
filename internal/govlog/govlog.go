// Package govlog renders the daemon's log lines in the
// "[HH:MM:SS] [<scope>] <message>" format, matching the teacher's
// per-worker prefixed stdlib log.Printf idiom while producing the exact
// wire format the original thermal governor used.
package govlog

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Logger writes scoped lines to an underlying *log.Logger with its own
// timestamp/prefix handling disabled, so every line is exactly
// "[HH:MM:SS] [<scope>] <message>".
type Logger struct {
	scope string
	out   *log.Logger
}

var std = log.New(os.Stderr, "", 0)

// New returns a Logger for the given scope. The daemon uses "main", each
// profile's name, and component names such as "supervisor", "persistence",
// "debugcli" and "busevents", so scopes are not limited to "main" and
// profile names.
func New(scope string) *Logger {
	return &Logger{scope: scope, out: std}
}

// WithScope returns a copy of l scoped to a different name, used by the
// supervisor when a fresh controller instance takes over a profile.
func (l *Logger) WithScope(scope string) *Logger {
	return &Logger{scope: scope, out: l.out}
}

// Printf formats and writes a line.
func (l *Logger) Printf(format string, args ...any) {
	l.out.Print(l.prefix() + fmt.Sprintf(format, args...))
}

// Println writes a line as-is.
func (l *Logger) Println(args ...any) {
	l.out.Print(l.prefix() + fmt.Sprintln(args...))
}

func (l *Logger) prefix() string {
	return fmt.Sprintf("[%s] [%s] ", time.Now().Format("15:04:05"), l.scope)
}
