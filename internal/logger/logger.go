package logger

import (
	"os"

	"github.com/fatih/color"
)

// All diagnostic output goes to stderr so that stdout stays clean for the
// executed tool and for --no-exec scripting.

// Info logs progress messages in green.
var Info func(format string, a ...any)

// Warn logs warnings in bright magenta.
var Warn = func(format string, a ...any) {
	color.New(color.FgHiMagenta).FprintfFunc()(os.Stderr, format, a...)
}

// Error logs errors in red. Never silenced by --quiet.
var Error = func(format string, a ...any) {
	color.New(color.FgRed).FprintfFunc()(os.Stderr, format, a...)
}

// Debug logs debug messages in cyan when enabled, otherwise is a no-op.
var Debug func(format string, a ...any)

func init() {
	Init(false, false)
}

// Init configures the logger. Debug output is printed only when enableDebug
// is set; Info output is suppressed when quiet is set.
func Init(enableDebug, quiet bool) {
	noop := func(format string, a ...any) {}

	if quiet {
		Info = noop
	} else {
		Info = func(format string, a ...any) {
			color.New(color.FgGreen).FprintfFunc()(os.Stderr, format, a...)
		}
	}

	if enableDebug {
		Debug = func(format string, a ...any) {
			color.New(color.FgCyan).FprintfFunc()(os.Stderr, format, a...)
		}
	} else {
		Debug = noop
	}
}
