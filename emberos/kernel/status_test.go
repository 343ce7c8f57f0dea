package kernel

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusErr(t *testing.T) {
	require.NoError(t, StatusOK.Err())
	require.ErrorIs(t, StatusTimeout.Err(), StatusTimeout)

	wrapped := fmt.Errorf("utiltask %q: %w", "flash-probe", StatusQueueFull)
	assert.True(t, errors.Is(wrapped, StatusQueueFull))
	assert.False(t, errors.Is(wrapped, StatusTimeout))
	assert.Equal(t, `utiltask "flash-probe": queue full`, wrapped.Error())
}

func TestStatusStringUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Status(200).String())
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{AckTimeout: 250 * time.Millisecond}.WithDefaults()
	def := DefaultConfig()

	assert.Equal(t, def.UtilTaskDepth, cfg.UtilTaskDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.AckTimeout)
	assert.Equal(t, def.SemaphoreCeiling, cfg.SemaphoreCeiling)
}
