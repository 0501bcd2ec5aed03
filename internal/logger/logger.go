package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var (
	mu       sync.RWMutex
	std      = log.New(io.Discard, "", log.LstdFlags|log.Lmicroseconds)
	minLevel = LevelInfo
	logFile  *os.File
)

// InitLogging points the logger at path. With debug unset only info and
// above are written.
func InitLogging(debug bool, path string) error {
	mu.Lock()
	defer mu.Unlock()

	if debug {
		minLevel = LevelDebug
	} else {
		minLevel = LevelInfo
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		std.SetOutput(os.Stderr)
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	std.SetOutput(f)

	return nil
}

// SetOutput redirects log output to w at the given level.
func SetOutput(w io.Writer, level Level) {
	mu.Lock()
	defer mu.Unlock()

	std.SetOutput(w)
	minLevel = level
}

// Close releases the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	std.SetOutput(io.Discard)
}

func logf(level Level, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < minLevel {
		return
	}
	std.Printf("[%s] %s", levelNames[level], fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }
