// Package parcels holds the layer catalogue and the rules applied to parcel
// features: attribute filtering, thematic debt coloring and styling.
package parcels

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Layer is one reprojected shapefile. A Layer is never mutated after it has
// been handed to the Catalogue; refreshes swap in a new value.
type Layer struct {
	ID         uuid.UUID
	Name       string
	Fields     []string
	SourceProj string // empty when the data was already geographic
	SourcePath string // retained upload, used by refresh
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Bound      orb.Bound
	Collection *geojson.FeatureCollection
}

// Summary is the JSON view of a layer without its features.
type Summary struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Fields       []string   `json:"fields"`
	FeatureCount int        `json:"feature_count"`
	BBox         [4]float64 `json:"bbox"`
	SourceProj   string     `json:"source_proj,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewLayer wraps a reprojected collection. Feature ids must already be the
// feature index.
func NewLayer(name string, fields []string, fc *geojson.FeatureCollection) *Layer {
	now := time.Now().UTC()
	return &Layer{
		ID:         uuid.New(),
		Name:       name,
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
		Bound:      collectionBound(fc),
		Collection: fc,
	}
}

func (l *Layer) Summary() Summary {
	return Summary{
		ID:           l.ID,
		Name:         l.Name,
		Fields:       l.Fields,
		FeatureCount: len(l.Collection.Features),
		BBox:         [4]float64{l.Bound.Min[0], l.Bound.Min[1], l.Bound.Max[0], l.Bound.Max[1]},
		SourceProj:   l.SourceProj,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

// Feature returns the feature with index id.
func (l *Layer) Feature(id int) (*geojson.Feature, bool) {
	if id < 0 || id >= len(l.Collection.Features) {
		return nil, false
	}
	return l.Collection.Features[id], true
}

func collectionBound(fc *geojson.FeatureCollection) orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if first {
			b = fb
			first = false
			continue
		}
		b = b.Union(fb)
	}
	return b
}
