// Package config loads the run configuration: land-use code tables, default
// thresholds and the endpoints of external collaborators. Values come from a
// TOML file with environment overrides for the endpoints.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full run configuration.
type Config struct {
	// FNK land-use code tables (Flaechennutzungskartierung).
	FNK FNKConfig `toml:"fnk"`

	// Default thresholds, overridable per command invocation.
	Buildings  BuildingsConfig  `toml:"buildings"`
	GreenRoofs GreenRoofsConfig `toml:"greenroofs"`
	Trees      TreesConfig      `toml:"trees"`

	// External collaborators.
	PostgresURL string `toml:"postgres_url"`
	OverpassURL string `toml:"overpass_url"`
}

// FNKConfig lists the land-use class codes driving masking decisions.
type FNKConfig struct {
	// Codes with potential tree growth (400+ = vegetation).
	VegetationCodes []int `toml:"vegetation_codes"`
	// Codes without potential buildings (dumps, rail, water, fields, ...).
	ExcludedCodes []int `toml:"excluded_codes"`
	// Road codes, excluded from building candidates as well.
	RoadCodes []int `toml:"road_codes"`
	// Green-area codes (gardens, parks, meadows) used for the green-blue
	// ratio percentile.
	GreenCodes []int `toml:"green_codes"`
}

type BuildingsConfig struct {
	MinSize          float64 `toml:"min_size"`
	MaxFD            float64 `toml:"max_fd"`
	MinHeight        float64 `toml:"min_height"`
	StoryHeight      float64 `toml:"story_height"`
	HeightPercentile float64 `toml:"height_percentile"`
}

type GreenRoofsConfig struct {
	MinVegSize       float64 `toml:"min_veg_size"`
	MinVegProportion float64 `toml:"min_veg_proportion"`
	NDVIThreshold    float64 `toml:"ndvi_threshold"`
	RGThreshold      float64 `toml:"rg_threshold"`
	BrightnessThresh float64 `toml:"brightness_threshold"`
	NDSMThreshold    float64 `toml:"ndsm_threshold"`
}

type TreesConfig struct {
	NDVIThreshold     float64 `toml:"ndvi_threshold"`
	NIRThreshold      float64 `toml:"nir_threshold"`
	NDSMThreshold     float64 `toml:"ndsm_threshold"`
	SlopeP75Threshold float64 `toml:"slope_p75_threshold"`
	AreaThreshold     float64 `toml:"area_threshold"`
	DistTree          float64 `toml:"dist_tree"`
	CongruenceThresh  float64 `toml:"congruence_threshold"`
	// Crowns whose brightness ratio against the neighborhood reaches this
	// value are classified deciduous.
	SpeciesRatio float64 `toml:"species_ratio"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		FNK: FNKConfig{
			VegetationCodes: []int{400, 410, 420, 431, 432, 441, 472},
			ExcludedCodes: []int{
				62, 63, 53, 65, 183, 192, 193, 215, 234, 262, 263, 264,
				282, 283, 322, 323, 324, 325, 326, 331, 332, 342, 343,
				351, 353, 354, 355, 357, 361, 362, 370, 501, 502,
			},
			RoadCodes:  []int{110, 140, 151, 152, 321},
			GreenCodes: []int{271, 272, 273, 361},
		},
		Buildings: BuildingsConfig{
			MinSize:          20,
			MaxFD:            2.1,
			MinHeight:        2.0,
			StoryHeight:      3.0,
			HeightPercentile: 95,
		},
		GreenRoofs: GreenRoofsConfig{
			MinVegSize:       5,
			MinVegProportion: 10,
			NDVIThreshold:    100,
			RGThreshold:      145,
			BrightnessThresh: 80,
			NDSMThreshold:    2.0,
		},
		Trees: TreesConfig{
			NDVIThreshold:     130,
			NIRThreshold:      130,
			NDSMThreshold:     1.0,
			SlopeP75Threshold: 70,
			AreaThreshold:     5,
			DistTree:          500,
			CongruenceThresh:  90,
			SpeciesRatio:      1.1,
		},
		PostgresURL: os.Getenv("POSTGRES_URL"),
		OverpassURL: os.Getenv("OVERPASS_URL"),
	}
}

// Load reads a TOML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if url := os.Getenv("POSTGRES_URL"); url != "" {
		cfg.PostgresURL = url
	}
	if url := os.Getenv("OVERPASS_URL"); url != "" {
		cfg.OverpassURL = url
	}
	return cfg, nil
}
