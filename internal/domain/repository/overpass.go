package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/serjvanilla/go-overpass"

	"urban_analysis/internal/domain/model"
)

// OverpassRepository imports OSM reference layers through the Overpass API.
// The imported footprints serve as the reference side of the change
// detection.
type OverpassRepository struct {
	client  *overpass.Client
	timeout time.Duration
}

func NewOverpassRepository(endpoint string, timeout time.Duration) *OverpassRepository {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &OverpassRepository{
		client:  &client,
		timeout: timeout,
	}
}

// GetBuildingFootprints fetches the closed building ways inside the bbox and
// projects them to local metric coordinates.
func (r *OverpassRepository) GetBuildingFootprints(ctx context.Context, bbox model.GeoBBox) (*model.VectorLayer, error) {
	if err := bbox.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bbox: %w", err)
	}
	query := fmt.Sprintf(`
		[out:json];
		(
			way["building"](%s);
		);
		out body;
		>;
		out skel qt;
	`, bbox)

	result, err := r.executeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute building query: %w", err)
	}

	return convertToFootprints(result, bbox), nil
}

func (r *OverpassRepository) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	_, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.client.Query(query)
	if err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", err)
	}

	return &result, nil
}

// convertToFootprints turns closed ways into polygon features. Open ways and
// relations are skipped; multipolygon buildings are rare enough in the
// reference role to ignore.
func convertToFootprints(result *overpass.Result, bbox model.GeoBBox) *model.VectorLayer {
	projection := model.NewLocalProjection(bbox)
	layer := model.NewVectorLayer("osm_buildings")

	cat := 0
	for _, way := range result.Ways {
		n := len(way.Nodes)
		if n < 4 || way.Nodes[0] == nil || way.Nodes[n-1] == nil {
			continue
		}
		if way.Nodes[0].ID != way.Nodes[n-1].ID {
			continue
		}
		ring := make(orb.Ring, 0, n)
		valid := true
		for _, node := range way.Nodes {
			if node == nil {
				valid = false
				break
			}
			ring = append(ring, projection.ToLocal(node.Lon, node.Lat))
		}
		if !valid {
			continue
		}
		cat++
		f := model.NewFeature(cat, orb.Polygon{ring})
		f.Attrs["osm_id"] = way.ID
		if building, ok := way.Tags["building"]; ok {
			f.Attrs["building"] = building
		}
		layer.Add(f)
	}
	return layer
}
