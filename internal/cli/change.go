package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"urban_analysis/internal/core"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/domain/repository"
	"urban_analysis/internal/logging"
)

var changeCmd = &cobra.Command{
	Use:   "cd",
	Short: "Change detection between two polygon layers",
}

var changeBuildingsCmd = &cobra.Command{
	Use:   "buildings",
	Short: "Area-based change detection with quality measures",
	RunE:  runChangeBuildings,
}

var changeTreesCmd = &cobra.Command{
	Use:   "trees",
	Short: "Per-crown congruence classification",
	RunE:  runChangeTrees,
}

var (
	cdInputPath  string
	cdRefPath    string
	cdOutPrefix  string
	cdRegionSpec []float64
	cdRes        float64
	cdMinSize    float64
	cdMaxFD      float64
	cdCongrThr   float64
	cdQuality    bool
)

func init() {
	for _, c := range []*cobra.Command{changeBuildingsCmd, changeTreesCmd} {
		f := c.Flags()
		f.StringVar(&cdInputPath, "input", "", "input layer GeoJSON (required)")
		f.StringVar(&cdRefPath, "reference", "", "reference layer GeoJSON (required)")
		f.StringVar(&cdOutPrefix, "output-prefix", "change_", "output GeoJSON prefix")
		f.Float64SliceVar(&cdRegionSpec, "region", nil, "working region west,south,east,north (required)")
		f.Float64Var(&cdRes, "resolution", 0.5, "working resolution in map units")
		_ = c.MarkFlagRequired("input")
		_ = c.MarkFlagRequired("reference")
		_ = c.MarkFlagRequired("region")
	}
	bf := changeBuildingsCmd.Flags()
	bf.Float64Var(&cdMinSize, "min-size", 0, "minimum difference polygon size in sqm (default from config)")
	bf.Float64Var(&cdMaxFD, "max-fd", 0, "maximum fractal dimension (default from config)")
	bf.BoolVar(&cdQuality, "quality", false, "report completeness and correctness")

	tf := changeTreesCmd.Flags()
	tf.Float64Var(&cdCongrThr, "congr-thresh", 0, "congruence overlap threshold in percent (default from config)")

	changeCmd.AddCommand(changeBuildingsCmd, changeTreesCmd)
	rootCmd.AddCommand(changeCmd)
}

func changeSetup() (core.ChangeInputs, model.Region, error) {
	var in core.ChangeInputs
	var region model.Region
	if len(cdRegionSpec) != 4 {
		return in, region, fmt.Errorf("region must have 4 components west,south,east,north, got %d", len(cdRegionSpec))
	}
	region = model.Region{
		West:  cdRegionSpec[0],
		South: cdRegionSpec[1],
		East:  cdRegionSpec[2],
		North: cdRegionSpec[3],
		Res:   cdRes,
	}
	a, err := repository.LoadGeoJSON(cdInputPath, "input")
	if err != nil {
		return in, region, err
	}
	b, err := repository.LoadGeoJSON(cdRefPath, "reference")
	if err != nil {
		return in, region, err
	}
	in.A, in.B = a, b
	return in, region, nil
}

func writePartitions(result *model.ChangeResult) error {
	for suffix, layer := range map[string]*model.VectorLayer{
		"congruent.geojson": result.Congruent,
		"only_a.geojson":    result.OnlyA,
		"only_b.geojson":    result.OnlyB,
	} {
		if err := repository.SaveGeoJSON(cdOutPrefix+suffix, layer); err != nil {
			return err
		}
	}
	return nil
}

func runChangeBuildings(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	in, region, err := changeSetup()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "change")
	detector := core.NewChangeDetector(logger)
	result, err := detector.DetectAreas(cmd.Context(), in, core.ChangeParams{
		Region:   region,
		MinSize:  orDefault(cdMinSize, cfg.Buildings.MinSize),
		MaxFD:    orDefault(cdMaxFD, cfg.Buildings.MaxFD),
		Quality:  cdQuality,
		TileSize: tileSize,
		Dispatch: dispatchOptions(),
	})
	if err != nil {
		return err
	}
	if err := writePartitions(result); err != nil {
		return err
	}
	if cdQuality {
		fmt.Fprintf(cmd.OutOrStdout(), "completeness=%.3f correctness=%.3f\n",
			result.Completeness(), result.Correctness())
	}
	return nil
}

func runChangeTrees(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	in, region, err := changeSetup()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "change")
	detector := core.NewChangeDetector(logger)
	result, err := detector.DetectObjects(cmd.Context(), in, core.ChangeParams{
		Region:           region,
		CongruenceThresh: orDefault(cdCongrThr, cfg.Trees.CongruenceThresh),
		TileSize:         tileSize,
		Dispatch:         dispatchOptions(),
	})
	if err != nil {
		return err
	}
	return writePartitions(result)
}
