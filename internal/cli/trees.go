package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"urban_analysis/internal/classifier"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/domain/repository"
	"urban_analysis/internal/logging"
	"urban_analysis/internal/raster"
	"urban_analysis/internal/trees"
)

var treesCmd = &cobra.Command{
	Use:   "trees",
	Short: "Individual tree detection, delineation and parameters",
}

var treesPeaksCmd = &cobra.Command{
	Use:   "peaks",
	Short: "Detect crown peaks and assign pixels to their nearest peak",
	RunE:  runTreesPeaks,
}

var treesTraindataCmd = &cobra.Command{
	Use:   "traindata",
	Short: "Generate weakly labeled training samples",
	RunE:  runTreesTraindata,
}

var treesTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the tree classifier and persist the model",
	RunE:  runTreesTrain,
}

var treesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the persisted model tile-by-tile",
	RunE:  runTreesApply,
}

var treesPostprocessCmd = &cobra.Command{
	Use:   "postprocess",
	Short: "Delineate crowns from the classification",
	RunE:  runTreesPostprocess,
}

var treesParamsCmd = &cobra.Command{
	Use:   "params",
	Short: "Compute per-crown parameters",
	RunE:  runTreesParams,
}

var treesSpeciesCmd = &cobra.Command{
	Use:   "species",
	Short: "Classify crowns as deciduous or coniferous",
	RunE:  runTreesSpecies,
}

var (
	trNDSMPath     string
	trNDVIPath     string
	trNIRPath      string
	trRedPath      string
	trGreenPath    string
	trBluePath     string
	trSlopePath    string
	trNearestPath  string
	trClassPath    string
	trCrownsPath   string
	trBuildings    string
	trModelPath    string
	trSamplesRun   string
	trOutPath      string
	trFormsRes     float64
	trSearchRadius float64
	trNumTrees     int
	trDistBuilding float64
	trDistTree     float64
)

func init() {
	for _, c := range []*cobra.Command{
		treesPeaksCmd, treesTraindataCmd, treesApplyCmd, treesPostprocessCmd, treesParamsCmd,
	} {
		c.Flags().StringVar(&trNDSMPath, "ndsm", "", "nDSM GeoTIFF")
	}
	for _, c := range []*cobra.Command{treesTraindataCmd, treesApplyCmd, treesPostprocessCmd, treesParamsCmd} {
		c.Flags().StringVar(&trNDVIPath, "ndvi", "", "NDVI GeoTIFF")
		c.Flags().StringVar(&trNIRPath, "nir", "", "NIR band GeoTIFF")
	}
	for _, c := range []*cobra.Command{treesTraindataCmd, treesApplyCmd, treesPostprocessCmd} {
		c.Flags().StringVar(&trSlopePath, "slope", "slope.tif", "slope GeoTIFF from the peaks stage")
		c.Flags().StringVar(&trNearestPath, "nearest", "nearest_peak.tif", "nearest-peak GeoTIFF from the peaks stage")
	}
	for _, c := range []*cobra.Command{treesTraindataCmd, treesApplyCmd} {
		c.Flags().StringVar(&trGreenPath, "green", "", "green band GeoTIFF, adds NDWI/NDGB feature bands")
		c.Flags().StringVar(&trBluePath, "blue", "", "blue band GeoTIFF, adds NDWI/NDGB feature bands")
	}

	pf := treesPeaksCmd.Flags()
	pf.Float64Var(&trFormsRes, "forms-res", 2.0, "coarse resolution for maximum detection, map units")
	pf.Float64Var(&trSearchRadius, "search-radius", 15, "crown plausibility radius in map units")
	pf.StringVar(&trOutPath, "output-prefix", "", "output prefix for peaks/nearest/slope GeoTIFFs")
	_ = treesPeaksCmd.MarkFlagRequired("ndsm")

	tf := treesTraindataCmd.Flags()
	tf.StringVar(&trSamplesRun, "run", "default", "training run name in the sample store")

	nf := treesTrainCmd.Flags()
	nf.StringVar(&trSamplesRun, "run", "default", "training run name in the sample store")
	nf.StringVar(&trModelPath, "model", "tree_model.gob", "model artifact path")
	nf.IntVar(&trNumTrees, "num-trees", 100, "trees in the random forest")

	af := treesApplyCmd.Flags()
	af.StringVar(&trModelPath, "model", "tree_model.gob", "model artifact path")
	af.StringVar(&trOutPath, "output", "tree_classification.tif", "output classification GeoTIFF")

	of := treesPostprocessCmd.Flags()
	of.StringVar(&trClassPath, "classification", "tree_classification.tif", "classification GeoTIFF")
	of.StringVar(&trOutPath, "output", "tree_crowns.geojson", "output crown GeoJSON")

	cf := treesParamsCmd.Flags()
	cf.StringVar(&trCrownsPath, "crowns", "tree_crowns.geojson", "crown GeoJSON")
	cf.StringVar(&trBuildings, "buildings", "", "building GeoJSON for the building distance")
	cf.StringVar(&trOutPath, "output", "tree_params.geojson", "output GeoJSON with crown parameters")
	cf.Float64Var(&trDistBuilding, "dist-building", 0, "building search limit in m, 0 = unbounded")
	cf.Float64Var(&trDistTree, "dist-tree", 0, "tree search limit in m (default from config)")

	sf := treesSpeciesCmd.Flags()
	sf.StringVar(&trCrownsPath, "crowns", "tree_crowns.geojson", "crown GeoJSON")
	sf.StringVar(&trRedPath, "red", "", "red band GeoTIFF")
	sf.StringVar(&trGreenPath, "green", "", "green band GeoTIFF")
	sf.StringVar(&trBluePath, "blue", "", "blue band GeoTIFF")
	sf.StringVar(&trOutPath, "output", "tree_species.geojson", "output GeoJSON with the species attribute")

	treesCmd.AddCommand(treesPeaksCmd, treesTraindataCmd, treesTrainCmd,
		treesApplyCmd, treesPostprocessCmd, treesParamsCmd, treesSpeciesCmd)
	rootCmd.AddCommand(treesCmd)
}

// derivedBands reads the green and blue bands and appends the NDWI and NDGB
// feature bands. Band order must match between traindata and apply.
func derivedBands(nir *raster.Grid) ([]*raster.Grid, error) {
	green, err := raster.ReadTIFF("green", trGreenPath)
	if err != nil {
		return nil, err
	}
	blue, err := raster.ReadTIFF("blue", trBluePath)
	if err != nil {
		return nil, err
	}
	ndwi, err := trees.NDWI(green, nir)
	if err != nil {
		return nil, err
	}
	ndgb, err := trees.NDGB(green, blue)
	if err != nil {
		return nil, err
	}
	return []*raster.Grid{ndwi, ndgb}, nil
}

func runTreesPeaks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "trees")
	ndsm, err := raster.ReadTIFF("ndsm", trNDSMPath)
	if err != nil {
		return err
	}
	result, err := trees.DetectPeaks(ndsm, trees.PeakParams{
		MinHeight:    cfg.Trees.NDSMThreshold,
		FormsRes:     trFormsRes,
		SearchRadius: trSearchRadius,
	}, logger)
	if err != nil {
		return err
	}
	for suffix, g := range map[string]*raster.Grid{
		"peaks.tif": result.Peaks, "nearest_peak.tif": result.Nearest, "slope.tif": result.Slope,
	} {
		if err := g.WriteTIFF(trOutPath + suffix); err != nil {
			return err
		}
	}
	return nil
}

func runTreesTraindata(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "trees")
	in := trees.TrainDataInputs{}
	for _, layer := range []struct {
		grid **raster.Grid
		name string
		path string
	}{
		{&in.NDVI, "ndvi", trNDVIPath},
		{&in.NIR, "nir", trNIRPath},
		{&in.NDSM, "ndsm", trNDSMPath},
		{&in.Slope, "slope", trSlopePath},
		{&in.Nearest, "nearest_peak", trNearestPath},
	} {
		g, err := raster.ReadTIFF(layer.name, layer.path)
		if err != nil {
			return err
		}
		*layer.grid = g
	}
	if trGreenPath != "" && trBluePath != "" {
		derived, err := derivedBands(in.NIR)
		if err != nil {
			return err
		}
		in.Bands = append([]*raster.Grid{in.NDVI, in.NIR, in.NDSM, in.Slope}, derived...)
	}
	samples, err := trees.GenerateTrainingData(in, cfg.Trees, logger)
	if err != nil {
		return err
	}
	store := repository.NewVectorStore(cfg.PostgresURL)
	recorder := repository.NewPostgresSampleRecorder(store.DB())
	if err := recorder.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	if err := recorder.SaveSamples(cmd.Context(), trSamplesRun, samples); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recorded %d samples for run %q\n", len(samples), trSamplesRun)
	return nil
}

func runTreesTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "trees")
	store := repository.NewVectorStore(cfg.PostgresURL)
	recorder := repository.NewPostgresSampleRecorder(store.DB())
	samples, err := recorder.LoadSamples(cmd.Context(), trSamplesRun)
	if err != nil {
		return err
	}
	params := classifier.DefaultParams()
	params.Trees = trNumTrees
	logger.Info().Int("samples", len(samples)).Int("trees", params.Trees).Msg("fitting classifier")
	forest, err := classifier.Train(samples, params)
	if err != nil {
		return err
	}
	if err := classifier.Save(trModelPath, forest); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "model written to %s\n", trModelPath)
	return nil
}

func runTreesApply(cmd *cobra.Command, args []string) error {
	logger := logging.Component(newLogger(), "trees")
	forest, err := classifier.Load(trModelPath)
	if err != nil {
		return err
	}
	var bands []*raster.Grid
	for _, layer := range []struct{ name, path string }{
		{"ndvi", trNDVIPath}, {"nir", trNIRPath}, {"ndsm", trNDSMPath}, {"slope", trSlopePath},
	} {
		g, err := raster.ReadTIFF(layer.name, layer.path)
		if err != nil {
			return err
		}
		bands = append(bands, g)
	}
	if trGreenPath != "" && trBluePath != "" {
		derived, err := derivedBands(bands[1])
		if err != nil {
			return err
		}
		bands = append(bands, derived...)
	}
	classified, err := trees.Apply(cmd.Context(), logger, forest, bands, trees.ApplyParams{
		TileSize: tileSize,
		Dispatch: dispatchOptions(),
	})
	if err != nil {
		return err
	}
	return classified.WriteTIFF(trOutPath)
}

func runTreesPostprocess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "trees")
	in := trees.PostprocessInputs{}
	for _, layer := range []struct {
		grid **raster.Grid
		name string
		path string
	}{
		{&in.Classified, "classification", trClassPath},
		{&in.NDVI, "ndvi", trNDVIPath},
		{&in.NIR, "nir", trNIRPath},
		{&in.NDSM, "ndsm", trNDSMPath},
		{&in.Nearest, "nearest_peak", trNearestPath},
	} {
		g, err := raster.ReadTIFF(layer.name, layer.path)
		if err != nil {
			return err
		}
		*layer.grid = g
	}
	_, crowns, err := trees.Postprocess(in, cfg.Trees, logger)
	if err != nil {
		return err
	}
	if err := repository.SaveGeoJSON(trOutPath, crowns); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d crowns to %s\n", crowns.Len(), trOutPath)
	return nil
}

func runTreesParams(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "trees")
	crowns, err := repository.LoadGeoJSON(trCrownsPath, "tree_crowns")
	if err != nil {
		return err
	}
	ndsm, err := raster.ReadTIFF("ndsm", trNDSMPath)
	if err != nil {
		return err
	}
	ndvi, err := raster.ReadTIFF("ndvi", trNDVIPath)
	if err != nil {
		return err
	}
	var buildings *model.VectorLayer
	if trBuildings != "" {
		if buildings, err = repository.LoadGeoJSON(trBuildings, "buildings"); err != nil {
			return err
		}
	}
	distTree := trDistTree
	if distTree == 0 {
		distTree = cfg.Trees.DistTree
	}
	params, err := trees.ComputeCrownParams(cmd.Context(), logger, trees.ParamsInputs{
		Crowns:    crowns,
		NDSM:      ndsm,
		NDVI:      ndvi,
		Buildings: buildings,
	}, trees.ParamsOptions{
		DistBuilding: trDistBuilding,
		DistTree:     distTree,
		Dispatch:     dispatchOptions(),
	})
	if err != nil {
		return err
	}
	for i := range crowns.Features {
		p := params[i]
		attrs := crowns.Features[i].Attrs
		attrs["height_max"] = p.HeightMax
		attrs["height_p95"] = p.HeightP95
		attrs["area_sqm"] = p.Area
		attrs["perimeter"] = p.Perimeter
		attrs["diameter"] = p.Diameter
		attrs["volume"] = p.Volume
		attrs["mean_ndvi"] = p.MeanNDVI
		attrs["stem_x"] = p.StemPosition[0]
		attrs["stem_y"] = p.StemPosition[1]
		attrs["dist_building"] = p.DistBuilding
		attrs["dist_tree"] = p.DistTree
	}
	if err := repository.SaveGeoJSON(trOutPath, crowns); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote parameters of %d crowns to %s\n", crowns.Len(), trOutPath)
	return nil
}

func runTreesSpecies(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "trees")
	crowns, err := repository.LoadGeoJSON(trCrownsPath, "tree_crowns")
	if err != nil {
		return err
	}
	red, err := raster.ReadTIFF("red", trRedPath)
	if err != nil {
		return err
	}
	green, err := raster.ReadTIFF("green", trGreenPath)
	if err != nil {
		return err
	}
	blue, err := raster.ReadTIFF("blue", trBluePath)
	if err != nil {
		return err
	}
	err = trees.ClassifySpecies(trees.SpeciesInputs{
		Crowns: crowns,
		Red:    red,
		Green:  green,
		Blue:   blue,
	}, cfg.Trees.SpeciesRatio, logger)
	if err != nil {
		return err
	}
	return repository.SaveGeoJSON(trOutPath, crowns)
}
