// Package logging is the human-readable application log, kept separate from
// the structured event stream in otel. One dated file per day under the data
// directory; components get prefixed sub-loggers via For.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// LevelEnv names the environment variable that selects the log level:
// debug, info, warn, or error. Unset means info.
const LevelEnv = "NEWSLETTERHUB_LOG_LEVEL"

var (
	mu     sync.Mutex
	base   *log.Logger
	file   *os.File
	byComp map[string]*log.Logger
)

// Init opens the dated log file under dataDir/logs and configures the base
// logger at the level LevelEnv selects.
func Init(dataDir string) error {
	dir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("newsletterhub-%s.log", time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	mu.Lock()
	file = f
	base = log.NewWithOptions(f, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           levelFromEnv(),
	})
	byComp = make(map[string]*log.Logger)
	mu.Unlock()

	Info("newsletter hub started")
	return nil
}

func levelFromEnv() log.Level {
	switch strings.ToLower(os.Getenv(LevelEnv)) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// For returns the logger for a component, creating and caching a prefixed
// sub-logger on first use. Safe to call before Init; lines are discarded
// until the log file is open.
func For(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		return log.New(io.Discard)
	}
	if l, ok := byComp[component]; ok {
		return l
	}
	l := base.WithPrefix(component)
	byComp[component] = l
	return l
}

// Close writes the shutdown line and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		base.Info("newsletter hub shutting down")
	}
	if file != nil {
		file.Close()
		file = nil
	}
	base = nil
	byComp = nil
}

// Info logs through the base logger; a no-op before Init.
func Info(msg string, keyvals ...any) {
	if l := current(); l != nil {
		l.Info(msg, keyvals...)
	}
}

// Debug logs through the base logger; a no-op before Init.
func Debug(msg string, keyvals ...any) {
	if l := current(); l != nil {
		l.Debug(msg, keyvals...)
	}
}

// Warn logs through the base logger; a no-op before Init.
func Warn(msg string, keyvals ...any) {
	if l := current(); l != nil {
		l.Warn(msg, keyvals...)
	}
}

// Error logs through the base logger; a no-op before Init.
func Error(msg string, keyvals ...any) {
	if l := current(); l != nil {
		l.Error(msg, keyvals...)
	}
}

func current() *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}
