package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestSetLevel(t *testing.T) {
	logger, err := New(Config{Level: "info", OutputPaths: []string{filepath.Join(t.TempDir(), "out.log")}})
	require.NoError(t, err)
	assert.Equal(t, "info", logger.Level())

	child := logger.Component("sandbox")
	assert.False(t, child.Core().Enabled(-1))

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, "debug", logger.Level())
	assert.True(t, child.Core().Enabled(-1), "children follow the shared level")

	assert.Error(t, logger.SetLevel("nope"))
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded")
	assert.NotNil(t, l.Component("x"))
}
