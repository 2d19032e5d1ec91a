package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"urban_analysis/internal/core"
	"urban_analysis/internal/domain/repository"
	"urban_analysis/internal/logging"
	"urban_analysis/internal/raster"
)

var buildingsCmd = &cobra.Command{
	Use:   "buildings",
	Short: "Building extraction and change detection",
}

var buildingsExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract building footprints from nDSM, NDVI and FNK",
	RunE:  runBuildingsExtract,
}

var (
	buNDSMPath     string
	buNDVIPath     string
	buFNKPath      string
	buFNKColumn    string
	buOutPath      string
	buNDVIThresh   float64
	buNDVIPerc     float64
	buMinSize      float64
	buMaxFD        float64
	buMinHeight    float64
	buSegmentation bool
)

func init() {
	f := buildingsExtractCmd.Flags()
	f.StringVar(&buNDSMPath, "ndsm", "", "nDSM GeoTIFF (required)")
	f.StringVar(&buNDVIPath, "ndvi", "", "NDVI GeoTIFF (required)")
	f.StringVar(&buFNKPath, "fnk", "", "FNK land-use GeoJSON (required)")
	f.StringVar(&buFNKColumn, "fnk-column", "code", "FNK class-code attribute column")
	f.StringVar(&buOutPath, "output", "buildings.geojson", "output GeoJSON path")
	f.Float64Var(&buNDVIThresh, "ndvi-thresh", 0, "fixed NDVI threshold (0-255)")
	f.Float64Var(&buNDVIPerc, "ndvi-perc", 0, "NDVI percentile over FNK vegetation areas")
	f.Float64Var(&buMinSize, "min-size", 0, "minimum building size in sqm (default from config)")
	f.Float64Var(&buMaxFD, "max-fd", 0, "maximum fractal dimension (default from config)")
	f.Float64Var(&buMinHeight, "min-height", 0, "minimum building height in m (default from config)")
	f.BoolVar(&buSegmentation, "segmentation", false, "refine boundaries by segmentation")
	_ = buildingsExtractCmd.MarkFlagRequired("ndsm")
	_ = buildingsExtractCmd.MarkFlagRequired("ndvi")
	_ = buildingsExtractCmd.MarkFlagRequired("fnk")

	buildingsCmd.AddCommand(buildingsExtractCmd)
	rootCmd.AddCommand(buildingsCmd)
}

func runBuildingsExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "buildings")

	ndsm, err := raster.ReadTIFF("ndsm", buNDSMPath)
	if err != nil {
		return err
	}
	ndvi, err := raster.ReadTIFF("ndvi", buNDVIPath)
	if err != nil {
		return err
	}
	fnk, err := repository.LoadGeoJSON(buFNKPath, "fnk")
	if err != nil {
		return err
	}

	params := core.BuildingParams{
		NDVIThreshold:    buNDVIThresh,
		NDVIPercentile:   buNDVIPerc,
		MinSize:          orDefault(buMinSize, cfg.Buildings.MinSize),
		MaxFD:            orDefault(buMaxFD, cfg.Buildings.MaxFD),
		MinHeight:        orDefault(buMinHeight, cfg.Buildings.MinHeight),
		StoryHeight:      cfg.Buildings.StoryHeight,
		HeightPercentile: cfg.Buildings.HeightPercentile,
		Segmentation:     buSegmentation,
		TileSize:         tileSize,
		Dispatch:         dispatchOptions(),
	}
	extractor := core.NewBuildingExtractor(cfg.FNK, logger)
	buildings, err := extractor.Extract(cmd.Context(), core.BuildingInputs{
		NDSM:      ndsm,
		NDVI:      ndvi,
		FNK:       fnk,
		FNKColumn: buFNKColumn,
	}, params)
	if err != nil {
		return err
	}

	if err := repository.SaveGeoJSON(buOutPath, buildings); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d buildings to %s\n", buildings.Len(), buOutPath)
	return nil
}

// orDefault falls back to the configured default when the flag stayed zero.
func orDefault(flag, def float64) float64 {
	if flag != 0 {
		return flag
	}
	return def
}
