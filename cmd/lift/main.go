// The lift tool lifts functions of binary executables to IR or LLVM IR
// assembly.
//
// Usage:
//
//	lift [flags] <binary> [addr...]
//
// Function addresses are specified as virtual addresses, in decimal or
// hexadecimal (0x-prefixed) notation. The entry point of the binary is lifted
// if no addresses are given.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/tebeka/atexit"
)

// logger logs user-facing messages to standard error, or to a timestamped log
// file when LIFT_LOG_TO_FILE is set to "1". The log level is controlled by
// LIFT_LOG_LEVEL (debug, info, warn, error).
var logger = newLogger()

func main() {
	cmd := newRootCmd()
	if err := fang.Execute(context.Background(), cmd, fang.WithNotifySignal(os.Interrupt)); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// newLogger returns a new logger configured by environment variables.
func newLogger() *log.Logger {
	w := io.Writer(os.Stderr)
	if os.Getenv("LIFT_LOG_TO_FILE") == "1" {
		logPath := fmt.Sprintf("lift-%s.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			w = f
			atexit.Register(func() { f.Close() })
		}
	}
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "lift",
	})
	switch os.Getenv("LIFT_LOG_LEVEL") {
	case "debug":
		lg.SetLevel(log.DebugLevel)
	case "warn":
		lg.SetLevel(log.WarnLevel)
	case "error":
		lg.SetLevel(log.ErrorLevel)
	default:
		lg.SetLevel(log.InfoLevel)
	}
	return lg
}
