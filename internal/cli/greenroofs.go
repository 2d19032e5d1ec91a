package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"urban_analysis/internal/core"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/domain/repository"
	"urban_analysis/internal/logging"
	"urban_analysis/internal/raster"
)

var greenroofsCmd = &cobra.Command{
	Use:   "greenroofs",
	Short: "Roof vegetation extraction",
}

var greenroofsExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract roof vegetation inside building footprints",
	RunE:  runGreenroofsExtract,
}

var (
	grNDSMPath      string
	grNDVIPath      string
	grRedPath       string
	grGreenPath     string
	grBluePath      string
	grBuildingsPath string
	grTreesPath     string
	grFNKPath       string
	grFNKColumn     string
	grOutBuildings  string
	grOutVegetation string
	grGBThresh      float64
	grGBPerc        float64
	grSegmentation  bool
)

func init() {
	f := greenroofsExtractCmd.Flags()
	f.StringVar(&grNDSMPath, "ndsm", "", "nDSM GeoTIFF (required)")
	f.StringVar(&grNDVIPath, "ndvi", "", "NDVI GeoTIFF (required)")
	f.StringVar(&grRedPath, "red", "", "red band GeoTIFF (required)")
	f.StringVar(&grGreenPath, "green", "", "green band GeoTIFF (required)")
	f.StringVar(&grBluePath, "blue", "", "blue band GeoTIFF (required)")
	f.StringVar(&grBuildingsPath, "buildings", "", "building outlines GeoJSON (required)")
	f.StringVar(&grTreesPath, "trees", "", "tree crown GeoJSON for false-alarm suppression")
	f.StringVar(&grFNKPath, "fnk", "", "FNK land-use GeoJSON, required with --gb-perc")
	f.StringVar(&grFNKColumn, "fnk-column", "code", "FNK class-code attribute column")
	f.StringVar(&grOutBuildings, "output", "greenroof_buildings.geojson", "output GeoJSON for vegetated buildings")
	f.StringVar(&grOutVegetation, "output-vegetation", "greenroof_vegetation.geojson", "output GeoJSON for vegetation polygons")
	f.Float64Var(&grGBThresh, "gb-thresh", 0, "fixed green-blue ratio threshold (0-255)")
	f.Float64Var(&grGBPerc, "gb-perc", 0, "green-blue ratio percentile over FNK green areas")
	f.BoolVar(&grSegmentation, "segmentation", false, "classify segments instead of pixels")
	_ = greenroofsExtractCmd.MarkFlagRequired("ndsm")
	_ = greenroofsExtractCmd.MarkFlagRequired("ndvi")
	_ = greenroofsExtractCmd.MarkFlagRequired("red")
	_ = greenroofsExtractCmd.MarkFlagRequired("green")
	_ = greenroofsExtractCmd.MarkFlagRequired("blue")
	_ = greenroofsExtractCmd.MarkFlagRequired("buildings")

	greenroofsCmd.AddCommand(greenroofsExtractCmd)
	rootCmd.AddCommand(greenroofsCmd)
}

func runGreenroofsExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "greenroofs")

	grids := map[string]*raster.Grid{}
	for name, path := range map[string]string{
		"ndsm": grNDSMPath, "ndvi": grNDVIPath,
		"red": grRedPath, "green": grGreenPath, "blue": grBluePath,
	} {
		g, err := raster.ReadTIFF(name, path)
		if err != nil {
			return err
		}
		grids[name] = g
	}
	buildings, err := repository.LoadGeoJSON(grBuildingsPath, "buildings")
	if err != nil {
		return err
	}
	var trees *model.VectorLayer
	if grTreesPath != "" {
		if trees, err = repository.LoadGeoJSON(grTreesPath, "trees"); err != nil {
			return err
		}
	}
	var fnk *model.VectorLayer
	if grFNKPath != "" {
		if fnk, err = repository.LoadGeoJSON(grFNKPath, "fnk"); err != nil {
			return err
		}
	}

	extractor := core.NewGreenRoofExtractor(cfg.FNK, logger)
	result, err := extractor.Extract(cmd.Context(), core.GreenRoofInputs{
		NDSM:      grids["ndsm"],
		NDVI:      grids["ndvi"],
		Red:       grids["red"],
		Green:     grids["green"],
		Blue:      grids["blue"],
		Buildings: buildings,
		Trees:     trees,
		FNK:       fnk,
		FNKColumn: grFNKColumn,
	}, core.GreenRoofParams{
		GBThreshold:      grGBThresh,
		GBPercentile:     grGBPerc,
		MinVegSize:       cfg.GreenRoofs.MinVegSize,
		MinVegProportion: cfg.GreenRoofs.MinVegProportion,
		NDVIThreshold:    cfg.GreenRoofs.NDVIThreshold,
		RGThreshold:      cfg.GreenRoofs.RGThreshold,
		BrightnessThresh: cfg.GreenRoofs.BrightnessThresh,
		NDSMThreshold:    cfg.GreenRoofs.NDSMThreshold,
		Segmentation:     grSegmentation,
		TileSize:         tileSize,
		Dispatch:         dispatchOptions(),
	})
	if err != nil {
		return err
	}

	if err := repository.SaveGeoJSON(grOutBuildings, result.Buildings); err != nil {
		return err
	}
	if err := repository.SaveGeoJSON(grOutVegetation, result.Vegetation); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d vegetated buildings and %d vegetation polygons\n",
		result.Buildings.Len(), result.Vegetation.Len())
	return nil
}
