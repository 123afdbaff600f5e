// Package reproject converts feature coordinates between reference systems.
package reproject

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Transformer converts a single coordinate from the source CRS to WGS84
// longitude/latitude.
type Transformer interface {
	Transform(p orb.Point) (orb.Point, error)
}

// Factory builds a Transformer for a PROJ source definition.
type Factory interface {
	New(sourceProj string) (Transformer, error)
}

// Identity leaves coordinates untouched. It is used for data that is already
// geographic.
type Identity struct{}

func (Identity) Transform(p orb.Point) (orb.Point, error) { return p, nil }

// Valid reports whether both ordinates are finite numbers.
func Valid(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) && !math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}

// Collection reprojects every feature in fc in place and assigns each feature
// its index as id.
func Collection(fc *geojson.FeatureCollection, t Transformer) error {
	for i, f := range fc.Features {
		if f.Geometry != nil {
			g, err := Geometry(f.Geometry, t)
			if err != nil {
				return fmt.Errorf("feature %d: %w", i, err)
			}
			f.Geometry = g
		}
		f.ID = i
	}
	return nil
}

// Geometry returns g with every valid coordinate transformed. Invalid
// coordinates are copied as they are.
func Geometry(g orb.Geometry, t Transformer) (orb.Geometry, error) {
	switch v := g.(type) {
	case orb.Point:
		return point(v, t)
	case orb.MultiPoint:
		out, err := points(v, t)
		return orb.MultiPoint(out), err
	case orb.LineString:
		out, err := points(v, t)
		return orb.LineString(out), err
	case orb.Ring:
		out, err := points(v, t)
		return orb.Ring(out), err
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			pts, err := points(ls, t)
			if err != nil {
				return nil, err
			}
			out[i] = pts
		}
		return out, nil
	case orb.Polygon:
		return polygon(v, t)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			poly, err := polygon(p, t)
			if err != nil {
				return nil, err
			}
			out[i] = poly
		}
		return out, nil
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, child := range v {
			c, err := Geometry(child, t)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case orb.Bound:
		lo, err := point(v.Min, t)
		if err != nil {
			return nil, err
		}
		hi, err := point(v.Max, t)
		if err != nil {
			return nil, err
		}
		return orb.Bound{Min: lo, Max: hi}, nil
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
}

func point(p orb.Point, t Transformer) (orb.Point, error) {
	if !Valid(p) {
		return p, nil
	}
	return t.Transform(p)
}

func points(in []orb.Point, t Transformer) ([]orb.Point, error) {
	out := make([]orb.Point, len(in))
	for i, p := range in {
		q, err := point(p, t)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func polygon(p orb.Polygon, t Transformer) (orb.Polygon, error) {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		pts, err := points(r, t)
		if err != nil {
			return nil, err
		}
		out[i] = pts
	}
	return out, nil
}

var utmZoneRe = regexp.MustCompile(`(?i)UTM[_ ]zone[_ ](\d{1,2})\s*([NS])?`)

// SourceFromPrj derives a PROJ definition from a .prj sidecar. geographic is
// true when the file describes plain longitude/latitude, in which case no
// transform is needed. ok is false when nothing could be inferred.
func SourceFromPrj(prj string) (def string, geographic, ok bool) {
	prj = strings.TrimSpace(prj)
	if prj == "" {
		return "", false, false
	}
	upper := strings.ToUpper(prj)
	if strings.HasPrefix(upper, "GEOGCS") {
		return "", true, true
	}
	if !strings.HasPrefix(upper, "PROJCS") {
		return "", false, false
	}

	m := utmZoneRe.FindStringSubmatch(prj)
	if m == nil {
		return "", false, false
	}
	def = "+proj=utm +zone=" + m[1]
	if strings.EqualFold(m[2], "S") {
		def += " +south"
	}
	def += " +datum=WGS84"
	return def, false, true
}
