package repository

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"urban_analysis/internal/domain/model"
)

// LoadGeoJSON reads a polygon layer from a GeoJSON feature collection.
// MultiPolygon features are split into one feature per polygon part.
func LoadGeoJSON(path, name string) (*model.VectorLayer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	layer := model.NewVectorLayer(name)
	cat := 0
	add := func(poly orb.Polygon, props geojson.Properties) {
		cat++
		f := model.NewFeature(cat, poly)
		for k, v := range props {
			f.Attrs[k] = v
		}
		layer.Add(f)
	}
	for _, feature := range fc.Features {
		switch geom := feature.Geometry.(type) {
		case orb.Polygon:
			add(geom, feature.Properties)
		case orb.MultiPolygon:
			for _, poly := range geom {
				add(poly, feature.Properties)
			}
		default:
			return nil, fmt.Errorf("unsupported geometry type %T in %s", geom, path)
		}
	}
	return layer, nil
}

// SaveGeoJSON writes the layer as a GeoJSON feature collection.
func SaveGeoJSON(path string, layer *model.VectorLayer) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range layer.Features {
		feature := geojson.NewFeature(f.Geometry)
		feature.Properties = geojson.Properties{"cat": f.Cat}
		for k, v := range f.Attrs {
			feature.Properties[k] = v
		}
		fc.Append(feature)
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode layer %q: %w", layer.Name, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
