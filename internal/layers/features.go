package layers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/metrics"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/tilecache"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
)

// StyledFeature is a GeoJSON feature with its map style attached.
type StyledFeature struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	LayerID    uuid.UUID          `json:"layer_id"`
	FeatureID  any                `json:"feature_id"`
	Geometry   *geojson.Geometry  `json:"geometry"`
	Properties geojson.Properties `json:"properties"`
	Style      parcels.Style      `json:"style"`
}

// FeaturesResponse is the filtered view of the catalogue, styled for the map.
type FeaturesResponse struct {
	Type      string          `json:"type"`
	Features  []StyledFeature `json:"features"`
	Selected  []string        `json:"selected"`
	Focus     *parcels.Focus  `json:"focus,omitempty"`
	Count     int             `json:"count"`
	TotalDebt float64         `json:"total_debt"`
	Thematic  bool            `json:"thematic"`
	Version   uint64          `json:"version"`
}

type query struct {
	filter   parcels.Filter
	thematic bool
}

func (s *Service) readQuery(r *http.Request) query {
	f := parcels.FilterFromQuery(r.URL.Query())
	f.DebtFields = s.Scale.Fields
	return query{filter: f, thematic: flag(r, "thematic")}
}

// Features returns the features that pass the request's filter, in upload
// order, each with its style. Parcels outside the filter are not drawn.
func (s *Service) Features(w http.ResponseWriter, r *http.Request) {
	q := s.readQuery(r)
	layers, version := s.Catalogue.Snapshot()

	etag := fmt.Sprintf(`W/"%s-%d-%x"`, s.Catalogue.Epoch(), version, hashString(fmt.Sprintf("%s|%t", q.filter.Key(), q.thematic)))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	res := q.filter.Apply(layers)
	metrics.FilterMatches.Observe(float64(len(res.Matches)))

	resp := FeaturesResponse{
		Type:     "FeatureCollection",
		Features: make([]StyledFeature, 0, len(res.Matches)),
		Selected: make([]string, 0, len(res.Matches)),
		Focus:    res.Focus,
		Count:    len(res.Matches),
		Thematic: q.thematic,
		Version:  version,
	}
	for _, m := range res.Matches {
		sid := m.SelectionID()
		resp.Selected = append(resp.Selected, sid)
		if v, ok := parcels.DebtValue(m.Feature.Properties, s.Scale.Fields...); ok {
			resp.TotalDebt += v
		}
		sf := StyledFeature{
			Type:       "Feature",
			ID:         sid,
			LayerID:    m.LayerID,
			FeatureID:  m.Feature.ID,
			Properties: m.Feature.Properties,
			Style:      s.Scale.StyleFor(m.Feature.Properties, q.thematic, true),
		}
		if m.Feature.Geometry != nil {
			sf.Geometry = geojson.NewGeometry(m.Feature.Geometry)
		}
		resp.Features = append(resp.Features, sf)
	}

	w.Header().Set("ETag", etag)
	writeJSON(w, resp)
}

const maxZoom = 24

// Tile serves a Mapbox Vector Tile of the filtered features with one layer
// per catalogue layer, keyed by layer id. Style values travel as feature
// properties.
func (s *Service) Tile(w http.ResponseWriter, r *http.Request) {
	tile, ok := parseTile(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if !ok {
		http.Error(w, "Invalid tile", http.StatusBadRequest)
		return
	}
	q := s.readQuery(r)
	layers, version := s.Catalogue.Snapshot()
	key := tilecache.Key{
		Epoch:    s.Catalogue.Epoch(),
		Version:  version,
		Filter:   q.filter.Key(),
		Thematic: q.thematic,
		Tile:     tile,
	}

	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	if s.Tiles != nil {
		data, hit, err := s.Tiles.Get(r.Context(), key)
		if err != nil {
			logging.LogError("tiles", "cache get", err)
		}
		if hit {
			w.Header().Set("X-Tile-Cache", "HIT")
			w.Write(data)
			return
		}
	}

	data, err := s.buildTile(layers, q, tile)
	if err != nil {
		logging.LogError("tiles", "encode", err)
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}
	if s.Tiles != nil {
		if err := s.Tiles.Set(r.Context(), key, data); err != nil {
			logging.LogError("tiles", "cache set", err)
		}
	}
	w.Header().Set("X-Tile-Cache", "MISS")
	w.Write(data)
}

func parseTile(zs, xs, ys string) (maptile.Tile, bool) {
	z, err1 := strconv.ParseUint(zs, 10, 32)
	x, err2 := strconv.ParseUint(xs, 10, 32)
	y, err3 := strconv.ParseUint(ys, 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || z > maxZoom {
		return maptile.Tile{}, false
	}
	n := uint64(1) << z
	if x >= n || y >= n {
		return maptile.Tile{}, false
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), true
}

func (s *Service) buildTile(layers []*parcels.Layer, q query, tile maptile.Tile) ([]byte, error) {
	res := q.filter.Apply(layers)
	bound := tile.Bound(0.1)

	collections := make(map[string]*geojson.FeatureCollection)
	for _, m := range res.Matches {
		f := m.Feature
		if f.Geometry == nil || !f.Geometry.Bound().Intersects(bound) {
			continue
		}
		name := m.LayerID.String()
		fc, ok := collections[name]
		if !ok {
			fc = geojson.NewFeatureCollection()
			collections[name] = fc
		}
		nf := geojson.NewFeature(orb.Clone(f.Geometry))
		nf.ID = f.ID
		nf.Properties = tileProperties(f.Properties, s.Scale.StyleFor(f.Properties, q.thematic, true))
		fc.Append(nf)
	}

	mls := mvt.NewLayers(collections)
	mls.ProjectToTile(tile)
	mls.Clip(mvt.MapboxGLDefaultExtentBound)
	mls.Simplify(simplify.DouglasPeucker(1.0))
	mls.RemoveEmpty(1.0, 1.0)
	return mvt.Marshal(mls)
}

// tileProperties keeps the attributes a vector tile can carry and adds the
// style.
func tileProperties(props geojson.Properties, st parcels.Style) geojson.Properties {
	out := make(geojson.Properties, len(props)+4)
	for k, v := range props {
		switch v.(type) {
		case string, float64, int64, int, bool:
			out[k] = v
		}
	}
	out["fill"] = st.FillColor
	out["fill-opacity"] = st.FillOpacity
	out["stroke"] = st.Color
	out["stroke-width"] = st.Weight
	return out
}
