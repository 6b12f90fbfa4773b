// Package observability owns logger and telemetry construction for the
// farmsight binary.
//
// Two loggers exist on purpose. CLILogger writes a console layout to
// stderr for interactive commands, keeping stdout clean for command
// output. Logger is the service logger built from the logging config.
// Both are nop until their Init function runs, so library code can log
// unconditionally.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles accepted by InitLogging.
const (
	// ProfileStructured emits JSON lines for log shippers.
	ProfileStructured = "STRUCTURED"

	// ProfileConsole emits a human-readable console layout.
	ProfileConsole = "CONSOLE"
)

// CLILogger is the human-facing logger used by CLI commands.
var CLILogger = zap.NewNop()

// Logger is the service logger.
var Logger = zap.NewNop()

// InitCLILogger configures CLILogger for command use and installs it as
// the zap global. Verbose enables debug output. Timestamps are omitted;
// command output should read like a report, not a log stream.
func InitCLILogger(name string, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	logger := zap.New(core)
	if name != "" {
		logger = logger.Named(name)
	}

	CLILogger = logger
	zap.ReplaceGlobals(logger)
	return logger
}

// InitLogging configures Logger for service use and installs it as the
// zap global. Unknown levels and profiles fall back to info/STRUCTURED
// with a warning; startup never fails on a logging setting.
func InitLogging(level, profile string) *zap.Logger {
	lvl, lvlErr := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if lvlErr != nil {
		lvl = zapcore.InfoLevel
	}

	normalized := strings.ToUpper(strings.TrimSpace(profile))
	var cfg zap.Config
	switch normalized {
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
	case "", ProfileStructured:
		normalized = ProfileStructured
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		// Build only fails on broken output paths; the default config
		// writes to stderr, so fall back to a bare production logger.
		logger = zap.Must(zap.NewProduction())
	}

	if lvlErr != nil {
		logger.Warn("Unknown log level, using info", zap.String("level", level))
	}
	if normalized != ProfileStructured && normalized != ProfileConsole {
		logger.Warn("Unknown logging profile, using STRUCTURED", zap.String("profile", profile))
	}

	Logger = logger
	zap.ReplaceGlobals(logger)
	return logger
}

// SyncAll flushes both loggers. Sync errors on stderr are expected on
// some platforms and ignored.
func SyncAll() {
	_ = CLILogger.Sync()
	_ = Logger.Sync()
}
