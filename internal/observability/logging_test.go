package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	t.Run("default level is info", func(t *testing.T) {
		logger := InitCLILogger("farmsight", false)
		require.NotNil(t, logger)
		assert.Same(t, logger, CLILogger)

		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		logger := InitCLILogger("farmsight", true)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("empty name accepted", func(t *testing.T) {
		logger := InitCLILogger("", false)
		require.NotNil(t, logger)
		logger.Info("unnamed logger works")
	})
}

func TestInitLogging(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		profile   string
		wantDebug bool
		wantInfo  bool
	}{
		{
			name:     "defaults",
			level:    "info",
			profile:  "STRUCTURED",
			wantInfo: true,
		},
		{
			name:      "debug level",
			level:     "debug",
			profile:   "STRUCTURED",
			wantDebug: true,
			wantInfo:  true,
		},
		{
			name:     "warn level",
			level:    "warn",
			profile:  "STRUCTURED",
			wantInfo: false,
		},
		{
			name:     "console profile",
			level:    "info",
			profile:  "CONSOLE",
			wantInfo: true,
		},
		{
			name:     "lowercase profile normalized",
			level:    "info",
			profile:  "structured",
			wantInfo: true,
		},
		{
			name:     "unknown level falls back to info",
			level:    "chatty",
			profile:  "STRUCTURED",
			wantInfo: true,
		},
		{
			name:     "unknown profile falls back to structured",
			level:    "info",
			profile:  "XML",
			wantInfo: true,
		},
		{
			name:     "empty settings",
			level:    "",
			profile:  "",
			wantInfo: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := InitLogging(tt.level, tt.profile)
			require.NotNil(t, logger)
			assert.Same(t, logger, Logger)

			assert.Equal(t, tt.wantDebug, logger.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.wantInfo, logger.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestSyncAll(t *testing.T) {
	InitCLILogger("farmsight", false)
	InitLogging("info", "STRUCTURED")

	assert.NotPanics(t, func() {
		SyncAll()
	})
}
