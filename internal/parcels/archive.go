package parcels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"
)

var ErrPostGISUnavailable = errors.New("postgis extension is not available")

// LayerRecord is the archived layer header.
type LayerRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string         `json:"name"`
	Fields     pq.StringArray `gorm:"type:text[]" json:"fields"`
	SourceProj string         `json:"source_proj"`
	SourcePath string         `json:"source_path"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (LayerRecord) TableName() string { return "gis.layers" }

// ParcelRecord stores one feature. Geometry is a PostGIS column in WGS84
// (SRID 4326) and is written and read through GeoJSON.
type ParcelRecord struct {
	LayerID    uuid.UUID `gorm:"type:uuid;primaryKey;autoIncrement:false"`
	FeatureID  int       `gorm:"primaryKey;autoIncrement:false"`
	Properties string    `gorm:"type:jsonb"`
	Geometry   string    `gorm:"type:geometry(Geometry,4326)"`
}

func (ParcelRecord) TableName() string { return "gis.parcels" }

// PostGISArchive writes layers to Postgres.
type PostGISArchive struct {
	db *gorm.DB
}

// InitArchive prepares the gis schema and returns an archive on it.
func InitArchive(d *gorm.DB) (*PostGISArchive, error) {
	if err := db.EnsureSchema(d, "gis"); err != nil {
		return nil, fmt.Errorf("ensure schema gis: %w", err)
	}
	if err := d.Exec(`CREATE EXTENSION IF NOT EXISTS postgis`).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// 58P01 undefined_file: extension not installed on the server.
			// 42501 insufficient_privilege.
			if pgErr.Code == "58P01" || pgErr.Code == "42501" {
				return nil, fmt.Errorf("%w: %s", ErrPostGISUnavailable, pgErr.Message)
			}
		}
		return nil, fmt.Errorf("create extension postgis: %w", err)
	}
	if err := d.AutoMigrate(&LayerRecord{}, &ParcelRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate gis tables: %w", err)
	}
	if err := d.Exec(`
		CREATE INDEX IF NOT EXISTS parcels_geometry_gist
		ON gis.parcels USING GIST (geometry);
	`).Error; err != nil {
		return nil, fmt.Errorf("create parcels_geometry_gist: %w", err)
	}
	return &PostGISArchive{db: d}, nil
}

// Save upserts the layer and rewrites its parcels in one transaction.
func (a *PostGISArchive) Save(ctx context.Context, l *Layer) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := LayerRecord{
			ID:         l.ID,
			Name:       l.Name,
			Fields:     pq.StringArray(l.Fields),
			SourceProj: l.SourceProj,
			SourcePath: l.SourcePath,
			CreatedAt:  l.CreatedAt,
			UpdatedAt:  l.UpdatedAt,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("save layer: %w", err)
		}
		if err := tx.Where("layer_id = ?", l.ID).Delete(&ParcelRecord{}).Error; err != nil {
			return fmt.Errorf("clear parcels: %w", err)
		}

		for i, f := range l.Collection.Features {
			if f.Geometry == nil {
				continue
			}
			props, err := json.Marshal(f.Properties)
			if err != nil {
				return fmt.Errorf("feature %d properties: %w", i, err)
			}
			geom, err := json.Marshal(geojson.NewGeometry(f.Geometry))
			if err != nil {
				return fmt.Errorf("feature %d geometry: %w", i, err)
			}
			if err := tx.Exec(`
				INSERT INTO gis.parcels (layer_id, feature_id, properties, geometry)
				VALUES (?, ?, ?::jsonb, ST_SetSRID(ST_GeomFromGeoJSON(?), 4326))
			`, l.ID, i, string(props), string(geom)).Error; err != nil {
				return fmt.Errorf("insert feature %d: %w", i, err)
			}
		}
		return nil
	})
}

// Delete removes a layer and its parcels.
func (a *PostGISArchive) Delete(ctx context.Context, id uuid.UUID) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("layer_id = ?", id).Delete(&ParcelRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&LayerRecord{}, "id = ?", id).Error
	})
}

// Load reads every archived layer, oldest first.
func (a *PostGISArchive) Load(ctx context.Context) ([]*Layer, error) {
	var recs []LayerRecord
	if err := a.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load layers: %w", err)
	}

	out := make([]*Layer, 0, len(recs))
	for _, rec := range recs {
		fc, err := a.loadParcels(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		l := &Layer{
			ID:         rec.ID,
			Name:       rec.Name,
			Fields:     []string(rec.Fields),
			SourceProj: rec.SourceProj,
			SourcePath: rec.SourcePath,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
			Bound:      collectionBound(fc),
			Collection: fc,
		}
		out = append(out, l)
	}
	return out, nil
}

func (a *PostGISArchive) loadParcels(ctx context.Context, layerID uuid.UUID) (*geojson.FeatureCollection, error) {
	rows, err := a.db.WithContext(ctx).Raw(`
		SELECT feature_id, properties::text, ST_AsGeoJSON(geometry)
		FROM gis.parcels
		WHERE layer_id = ?
		ORDER BY feature_id
	`, layerID).Rows()
	if err != nil {
		return nil, fmt.Errorf("parcels query failed: %w", err)
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		var (
			id          int
			props, geom string
		)
		if err := rows.Scan(&id, &props, &geom); err != nil {
			return nil, fmt.Errorf("scan parcel: %w", err)
		}
		g, err := geojson.UnmarshalGeometry([]byte(geom))
		if err != nil {
			return nil, fmt.Errorf("parcel %d geometry: %w", id, err)
		}
		f := geojson.NewFeature(g.Geometry())
		f.ID = id
		f.Properties, err = decodeProperties([]byte(props))
		if err != nil {
			return nil, fmt.Errorf("parcel %d properties: %w", id, err)
		}
		fc.Append(f)
	}
	return fc, rows.Err()
}

// decodeProperties keeps integers as int64 so round-tripped attributes look
// the same as freshly parsed ones.
func decodeProperties(data []byte) (geojson.Properties, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	props := make(geojson.Properties, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				props[k] = i
				continue
			}
			if f, err := n.Float64(); err == nil {
				props[k] = f
				continue
			}
		}
		props[k] = v
	}
	return props, nil
}

// ArchivedLayer is a layer header with its parcel count.
type ArchivedLayer struct {
	LayerRecord
	Parcels int64 `json:"parcels"`
}

// Layers lists archived layers without loading their parcels.
func (a *PostGISArchive) Layers(ctx context.Context) ([]ArchivedLayer, error) {
	var out []ArchivedLayer
	err := a.db.WithContext(ctx).Raw(`
		SELECT l.*, COUNT(p.feature_id) AS parcels
		FROM gis.layers l
		LEFT JOIN gis.parcels p ON p.layer_id = l.id
		GROUP BY l.id
		ORDER BY l.created_at
	`).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list archived layers: %w", err)
	}
	return out, nil
}
