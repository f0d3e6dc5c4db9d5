// Package logging provides the runtime's logging infrastructure, built on
// charmbracelet/log. It wraps that library to provide a centralized logger
// factory with component prefixes and level configuration. All output goes
// to stderr; sockets and the API server never write structured logs to
// stdout, so stdout remains free for any caller-owned output.
//
// Usage:
//
//	logging.Setup(logging.LevelInfo)
//	var logger = logging.New("phaser")
//	logger.Debug("transition", "phase", name, "state", state)
//
// Setup should be called once, early in process startup. Loggers created
// via New before Setup runs use the library default (info level, stderr).
package logging

import (
	"os"
	"sync"

	charm "github.com/charmbracelet/log"
)

// Level aliases charmbracelet/log levels so callers do not need to import
// that package directly.
const (
	LevelDebug = charm.DebugLevel
	LevelInfo  = charm.InfoLevel
	LevelWarn  = charm.WarnLevel
	LevelError = charm.ErrorLevel
)

var (
	mu      sync.Mutex
	base    = charm.NewWithOptions(os.Stderr, charm.Options{ReportTimestamp: true})
	didInit bool
)

// Setup configures the process-wide default level. Call once during startup,
// before any long-running component calls New.
func Setup(level charm.Level) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(level)
	didInit = true
}

// New returns a logger scoped to component, carrying it as a "component"
// field on every entry. Safe to call before Setup (uses the default level
// until Setup runs).
func New(component string) *charm.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With("component", component)
}

// Configured reports whether Setup has run, used only by tests that need to
// distinguish "default" from "explicitly configured" loggers.
func Configured() bool {
	mu.Lock()
	defer mu.Unlock()
	return didInit
}
