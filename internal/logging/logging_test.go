package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitInstallsGlobalLogger(t *testing.T) {
	logger, err := Init(Options{Debug: true})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.Same(t, logger, L())
}

func TestLBeforeInitReturnsNonNilNopLogger(t *testing.T) {
	mu.Lock()
	global = zap.NewNop()
	mu.Unlock()
	require.NotNil(t, L())
}

func TestWithReturnsChildLogger(t *testing.T) {
	_, err := Init(Options{})
	require.NoError(t, err)
	child := With()
	require.NotNil(t, child)
}
