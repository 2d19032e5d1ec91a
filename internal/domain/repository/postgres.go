package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"urban_analysis/internal/domain/model"
)

// VectorStore persists vector layers in PostGIS. Geometry travels as WKT,
// attributes as JSONB.
type VectorStore struct {
	db *sqlx.DB
}

func NewVectorStore(connStr string) *VectorStore {
	db := sqlx.MustConnect("postgres", connStr)
	return &VectorStore{db: db}
}

func (s *VectorStore) DB() *sqlx.DB { return s.db }

// EnsureSchema creates the layer table when missing.
func (s *VectorStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS vector_features (
			layer  TEXT NOT NULL,
			cat    INTEGER NOT NULL,
			geom   GEOMETRY(POLYGON) NOT NULL,
			attrs  JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (layer, cat)
		)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create vector_features table: %w", err)
	}
	return nil
}

// SaveLayer replaces the stored layer of the same name.
func (s *VectorStore) SaveLayer(ctx context.Context, layer *model.VectorLayer) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_features WHERE layer = $1`, layer.Name); err != nil {
		return fmt.Errorf("failed to clear layer %q: %w", layer.Name, err)
	}
	const insert = `
		INSERT INTO vector_features (layer, cat, geom, attrs)
		VALUES ($1, $2, ST_GeomFromText($3), $4)`
	for _, f := range layer.Features {
		attrs, err := json.Marshal(f.Attrs)
		if err != nil {
			return fmt.Errorf("failed to marshal attrs of cat %d: %w", f.Cat, err)
		}
		if _, err := tx.ExecContext(ctx, insert, layer.Name, f.Cat, wkt.MarshalString(f.Geometry), attrs); err != nil {
			return fmt.Errorf("failed to insert cat %d of layer %q: %w", f.Cat, layer.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit layer %q: %w", layer.Name, err)
	}
	return nil
}

type featureRow struct {
	Cat   int    `db:"cat"`
	Geom  string `db:"geom"`
	Attrs []byte `db:"attrs"`
}

// LoadLayer reads a stored layer by name.
func (s *VectorStore) LoadLayer(ctx context.Context, name string) (*model.VectorLayer, error) {
	const query = `
		SELECT cat, ST_AsText(geom) AS geom, attrs
		FROM vector_features
		WHERE layer = $1
		ORDER BY cat`
	var rows []featureRow
	if err := s.db.SelectContext(ctx, &rows, query, name); err != nil {
		return nil, fmt.Errorf("failed to query layer %q: %w", name, err)
	}
	return rowsToLayer(name, rows)
}

// LoadLayerIntersecting reads the features of a layer intersecting the
// region envelope.
func (s *VectorStore) LoadLayerIntersecting(ctx context.Context, name string, region model.Region) (*model.VectorLayer, error) {
	const query = `
		SELECT cat, ST_AsText(geom) AS geom, attrs
		FROM vector_features
		WHERE layer = $1
		AND ST_Intersects(geom, ST_MakeEnvelope($2, $3, $4, $5))
		ORDER BY cat`
	var rows []featureRow
	err := s.db.SelectContext(ctx, &rows, query, name,
		region.West, region.South, region.East, region.North)
	if err != nil {
		return nil, fmt.Errorf("failed to query layer %q: %w", name, err)
	}
	return rowsToLayer(name, rows)
}

func rowsToLayer(name string, rows []featureRow) (*model.VectorLayer, error) {
	layer := model.NewVectorLayer(name)
	for _, row := range rows {
		geom, err := wkt.Unmarshal(row.Geom)
		if err != nil {
			return nil, fmt.Errorf("failed to parse geometry of cat %d: %w", row.Cat, err)
		}
		poly, ok := geom.(orb.Polygon)
		if !ok {
			return nil, fmt.Errorf("cat %d of layer %q is not a polygon", row.Cat, name)
		}
		f := model.NewFeature(row.Cat, poly)
		if len(row.Attrs) > 0 {
			if err := json.Unmarshal(row.Attrs, &f.Attrs); err != nil {
				return nil, fmt.Errorf("failed to parse attrs of cat %d: %w", row.Cat, err)
			}
		}
		layer.Add(f)
	}
	return layer, nil
}
