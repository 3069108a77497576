package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithMissingExplicitFileReturnsError(t *testing.T) {
	cfg, err := Load("/nonexistent/path/to/config.yaml")
	require.Error(t, err) // explicit path that doesn't exist is an error
	_ = cfg
}

func TestLoadWithNoExplicitPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxConcurrentSolids)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestOverrideAppliesNonZeroFields(t *testing.T) {
	base := Default()
	override := Config{UseMemoryDB: true, MaxConcurrentSolids: 5}

	merged, err := Override(base, override)
	require.NoError(t, err)
	assert.True(t, merged.UseMemoryDB)
	assert.Equal(t, 5, merged.MaxConcurrentSolids)
	assert.Equal(t, base.LogFormat, merged.LogFormat)
}
