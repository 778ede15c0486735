package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Parse()
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 100, cfg.MaxJourneysPerChunk)
		assert.Equal(t, 3000, cfg.MaxSessionsPerChunk)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.RetryDelay)
		assert.Equal(t, []string{"Direct"}, cfg.DirectChannels)
		assert.False(t, cfg.IncludeConversionInstant)
		assert.Empty(t, cfg.APIKeys)
	})

	t.Run("reads the environment", func(t *testing.T) {
		t.Setenv("MAX_JOURNEYS_PER_CHUNK", "10")
		t.Setenv("API_RETRY_DELAY_SECONDS", "0.5")
		t.Setenv("RATE_LIMIT_DELAY_MS", "250")
		t.Setenv("INCLUDE_CONVERSION_INSTANT", "true")
		t.Setenv("DIRECT_CHANNELS", "Direct, Organic ,")
		t.Setenv("API_KEYS", "k1,k2")

		cfg := Parse()
		assert.Equal(t, 10, cfg.MaxJourneysPerChunk)
		assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
		assert.Equal(t, 250*time.Millisecond, cfg.RateLimitDelay)
		assert.True(t, cfg.IncludeConversionInstant)
		assert.Equal(t, []string{"Direct", "Organic"}, cfg.DirectChannels)
		assert.Len(t, cfg.APIKeys, 2)
	})

	t.Run("ignores malformed numbers", func(t *testing.T) {
		t.Setenv("MAX_SESSIONS_PER_CHUNK", "lots")
		t.Setenv("REDISTRIBUTE_DIRECT", "maybe")
		cfg := Parse()
		assert.Equal(t, 3000, cfg.MaxSessionsPerChunk)
		assert.False(t, cfg.RedistributeDirect)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IHC_CONV_TYPE_ID=purchase\nPORT=9090\n"), 0o644))
	t.Setenv("PORT", "7070")
	t.Cleanup(func() { os.Unsetenv("IHC_CONV_TYPE_ID") })

	cfg := Load(path)
	assert.Equal(t, "purchase", cfg.IHCConvTypeID)
	assert.Equal(t, "7070", cfg.Port)
}
