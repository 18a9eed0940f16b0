package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, tc := range []struct {
		level string
		json  bool
		want  zapcore.Level
	}{
		{"", false, zapcore.WarnLevel},
		{"debug", false, zapcore.DebugLevel},
		{"ERROR", true, zapcore.ErrorLevel},
	} {
		logger, err := New(tc.level, tc.json)
		require.NoError(t, err, tc.level)
		assert.True(t, logger.Core().Enabled(tc.want), tc.level)
		assert.False(t, logger.Core().Enabled(tc.want-1), tc.level)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", false)
	require.ErrorContains(t, err, "invalid log level")
}
