package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/domain/repository"
	"urban_analysis/internal/logging"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Import, export and store vector layers",
}

var layersImportOSMCmd = &cobra.Command{
	Use:   "import-osm",
	Short: "Import OSM building footprints as a reference layer",
	RunE:  runLayersImportOSM,
}

var layersPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Store a GeoJSON layer in PostGIS",
	RunE:  runLayersPush,
}

var layersPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Export a stored layer to GeoJSON",
	RunE:  runLayersPull,
}

var (
	lyBBoxSpec  []float64
	lyLayerName string
	lyPath      string
)

func init() {
	f := layersImportOSMCmd.Flags()
	f.Float64SliceVar(&lyBBoxSpec, "bbox", nil, "geographic bbox south,west,north,east (required)")
	f.StringVar(&lyPath, "output", "osm_buildings.geojson", "output GeoJSON path")
	_ = layersImportOSMCmd.MarkFlagRequired("bbox")

	pf := layersPushCmd.Flags()
	pf.StringVar(&lyPath, "input", "", "input GeoJSON path (required)")
	pf.StringVar(&lyLayerName, "layer", "", "stored layer name (required)")
	_ = layersPushCmd.MarkFlagRequired("input")
	_ = layersPushCmd.MarkFlagRequired("layer")

	lf := layersPullCmd.Flags()
	lf.StringVar(&lyLayerName, "layer", "", "stored layer name (required)")
	lf.StringVar(&lyPath, "output", "", "output GeoJSON path (required)")
	_ = layersPullCmd.MarkFlagRequired("layer")
	_ = layersPullCmd.MarkFlagRequired("output")

	layersCmd.AddCommand(layersImportOSMCmd, layersPushCmd, layersPullCmd)
	rootCmd.AddCommand(layersCmd)
}

func runLayersImportOSM(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Component(newLogger(), "layers")
	if len(lyBBoxSpec) != 4 {
		return fmt.Errorf("bbox must have 4 components south,west,north,east, got %d", len(lyBBoxSpec))
	}
	bbox := model.GeoBBox{
		South: lyBBoxSpec[0],
		West:  lyBBoxSpec[1],
		North: lyBBoxSpec[2],
		East:  lyBBoxSpec[3],
	}
	repo := repository.NewOverpassRepository(cfg.OverpassURL, 90*time.Second)
	layer, err := repo.GetBuildingFootprints(cmd.Context(), bbox)
	if err != nil {
		return err
	}
	logger.Info().Int("footprints", layer.Len()).Msg("OSM import finished")
	if err := repository.SaveGeoJSON(lyPath, layer); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d footprints to %s\n", layer.Len(), lyPath)
	return nil
}

func runLayersPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	layer, err := repository.LoadGeoJSON(lyPath, lyLayerName)
	if err != nil {
		return err
	}
	store := repository.NewVectorStore(cfg.PostgresURL)
	if err := store.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	if err := store.SaveLayer(cmd.Context(), layer); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d features as layer %q\n", layer.Len(), lyLayerName)
	return nil
}

func runLayersPull(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := repository.NewVectorStore(cfg.PostgresURL)
	layer, err := store.LoadLayer(cmd.Context(), lyLayerName)
	if err != nil {
		return err
	}
	if err := repository.SaveGeoJSON(lyPath, layer); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d features to %s\n", layer.Len(), lyPath)
	return nil
}
