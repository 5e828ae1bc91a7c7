package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	logFile      *os.File
	logDir       string
	logPath      string
	undoRedirect func()
)

// Init builds the process logger. If toFile is true, logs are written as
// JSON lines to a dated file in the logs directory so they never interleave
// with generated text on the terminal. Otherwise a console encoder writes
// to stderr. The standard library logger is redirected into the result.
func Init(level string, toFile bool) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var core zapcore.Core
	if !toFile {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = ""
		if term.IsTerminal(int(os.Stderr.Fd())) {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), lvl)
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		logDir = filepath.Join(homeDir, ".instruct", "logs")

		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		timestamp := time.Now().Format("2006-01-02")
		logPath = filepath.Join(logDir, fmt.Sprintf("instruct-%s.log", timestamp))

		logFile, err = os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		core = zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(logFile), lvl)
	}

	logger := zap.New(core, zap.AddCaller())
	undoRedirect = zap.RedirectStdLog(logger)

	if logFile != nil {
		logger.Info("=== instruct session started ===")
	}
	return logger, nil
}

// ParseLevel maps a level name to a zap level; empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return lvl, fmt.Errorf("logging: unknown level %q", level)
	}
	return lvl, nil
}

// Close flushes the logger and closes the log file if one is open.
func Close(logger *zap.Logger) {
	if logger != nil {
		if logFile != nil {
			logger.Info("=== instruct session ended ===")
		}
		_ = logger.Sync()
	}
	if undoRedirect != nil {
		undoRedirect()
		undoRedirect = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// GetLogDir returns the directory where logs are stored.
func GetLogDir() string {
	return logDir
}

// GetLogFilePath returns the active log file, or "" when logging to stderr.
func GetLogFilePath() string {
	if logFile == nil {
		return ""
	}
	return logPath
}

// IsFileLogging returns true if logging is going to a file.
func IsFileLogging() bool {
	return logFile != nil
}
