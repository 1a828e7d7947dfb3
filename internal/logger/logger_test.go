package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		level      string
		wantLevel  zapcore.Level
		wantErr    bool
	}{
		{"console default level", false, "", zapcore.InfoLevel, false},
		{"json debug", true, "debug", zapcore.DebugLevel, false},
		{"console warn", false, "warn", zapcore.WarnLevel, false},
		{"bad level", false, "shouting", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			t.Cleanup(func() { Logger = prev })

			err := Initialize(tt.jsonOutput, tt.level)
			if tt.wantErr {
				require.Error(t, err)
				assert.Same(t, prev, Logger, "failed Initialize must keep the old logger")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, Logger)
			assert.Equal(t, tt.wantLevel, Logger.Level())
		})
	}
}

func TestDefaultLoggerIsSafe(t *testing.T) {
	require.NotNil(t, Logger)
	assert.NotPanics(t, func() {
		Named("test").Infow("before initialize", "k", 1)
	})
}
