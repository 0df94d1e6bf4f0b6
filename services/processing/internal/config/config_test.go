package config

import (
	"testing"

	"jobwatch/services/processing/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "jobwatch", cfg.ClickHouseDatabase)
	assert.Equal(t, 100, cfg.BatchSize)
}

func TestLoadConfig_RejectsBadBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidInput))
}
