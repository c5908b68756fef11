package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmkpi/internal/config"
	"farmkpi/pkg/models"
)

func TestSetupCommandStructure(t *testing.T) {
	assert.Equal(t, "setup", setupCmd.Use)
	assert.Equal(t, "Initial warehouse configuration", setupCmd.Short)
	assert.NotNil(t, setupCmd.Run)
}

func TestSetupDetectsExistingConfiguration(t *testing.T) {
	t.Setenv("FARMKPI_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))

	// runSetup is interactive, so only the existence check is covered here.
	assert.False(t, config.Exists())

	require.NoError(t, config.Save(&models.Config{
		Warehouse: models.Warehouse{Host: "wh.internal"},
	}))
	assert.True(t, config.Exists())
}
