package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Contains(t, cfg.FNK.VegetationCodes, 400)
	assert.Contains(t, cfg.FNK.RoadCodes, 110)
	assert.Contains(t, cfg.FNK.GreenCodes, 271)

	assert.Equal(t, 20.0, cfg.Buildings.MinSize)
	assert.Equal(t, 2.1, cfg.Buildings.MaxFD)
	assert.Equal(t, 95.0, cfg.Buildings.HeightPercentile)

	assert.Equal(t, 5.0, cfg.GreenRoofs.MinVegSize)
	assert.Equal(t, 10.0, cfg.GreenRoofs.MinVegProportion)
	assert.Equal(t, 145.0, cfg.GreenRoofs.RGThreshold)

	assert.Equal(t, 130.0, cfg.Trees.NDVIThreshold)
	assert.Equal(t, 500.0, cfg.Trees.DistTree)
	assert.Equal(t, 90.0, cfg.Trees.CongruenceThresh)
	assert.Equal(t, 1.1, cfg.Trees.SpeciesRatio)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Buildings, cfg.Buildings)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
postgres_url = "postgres://file/db"

[buildings]
min_size = 30.0

[trees]
species_ratio = 1.3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Buildings.MinSize)
	assert.Equal(t, 1.3, cfg.Trees.SpeciesRatio)
	assert.Equal(t, 2.1, cfg.Buildings.MaxFD, "untouched keys keep defaults")
	assert.Equal(t, "postgres://file/db", cfg.PostgresURL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`postgres_url = "postgres://file/db"`), 0o644))

	t.Setenv("POSTGRES_URL", "postgres://env/db")
	t.Setenv("OVERPASS_URL", "https://overpass.example/api")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.PostgresURL)
	assert.Equal(t, "https://overpass.example/api", cfg.OverpassURL)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
