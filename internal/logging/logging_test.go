package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)

	tests := []struct {
		in   string
		want string
	}{
		{LevelDebug, "debug"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LevelInfo, "info"},
		{"verbose", "info"},
	}
	for _, tt := range tests {
		SetLevel(tt.in)
		assert.Equal(t, tt.want, Level(), "SetLevel(%q)", tt.in)
	}
}

func TestNew_FileLogging(t *testing.T) {
	prev := Default
	defer func() { Default = prev }()

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closeFn, err := New(Options{Level: LevelInfo, Dir: dir, FileLogging: true, Quiet: true})
	require.NoError(t, err)

	logger.Infow("team assembled", "agents", 3)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "team assembled")
	assert.Same(t, logger, Default)
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, Default, OrDefault(nil))
	nop := Nop()
	assert.Same(t, nop, OrDefault(nop))
}
