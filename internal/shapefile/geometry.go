package shapefile

import (
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// toGeometry maps a decoded shape to an orb geometry. ok is false for null and
// unsupported shapes.
func toGeometry(s shp.Shape) (g orb.Geometry, ok bool) {
	switch v := s.(type) {
	case *shp.Null:
		return nil, false
	case *shp.Point:
		return orb.Point{v.X, v.Y}, true
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}, true
	case *shp.PointM:
		return orb.Point{v.X, v.Y}, true
	case *shp.MultiPoint:
		return multiPoint(v.Points), true
	case *shp.MultiPointZ:
		return multiPoint(v.Points), true
	case *shp.MultiPointM:
		return multiPoint(v.Points), true
	case *shp.PolyLine:
		return lineGeometry(splitParts(v.Parts, v.Points)), true
	case *shp.PolyLineZ:
		return lineGeometry(splitParts(v.Parts, v.Points)), true
	case *shp.PolyLineM:
		return lineGeometry(splitParts(v.Parts, v.Points)), true
	case *shp.Polygon:
		return polygonGeometry(splitParts(v.Parts, v.Points))
	case *shp.PolygonZ:
		return polygonGeometry(splitParts(v.Parts, v.Points))
	case *shp.PolygonM:
		return polygonGeometry(splitParts(v.Parts, v.Points))
	default:
		return nil, false
	}
}

func multiPoint(points []shp.Point) orb.Geometry {
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, orb.Point{p.X, p.Y})
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// splitParts cuts the flat point array at the part offsets.
func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i := range parts {
		start := int(parts[i])
		end := len(points)
		if i < len(parts)-1 {
			end = int(parts[i+1])
		}
		if start < 0 || start > end || end > len(points) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func lineGeometry(parts [][]orb.Point) orb.Geometry {
	if len(parts) == 1 {
		return orb.LineString(parts[0])
	}
	mls := make(orb.MultiLineString, 0, len(parts))
	for _, p := range parts {
		mls = append(mls, orb.LineString(p))
	}
	return mls
}

// polygonGeometry groups shapefile rings into polygons. Outer rings wind
// clockwise; every other ring is a hole of the first outer ring containing
// its first vertex. A hole with no container becomes its own polygon.
func polygonGeometry(parts [][]orb.Point) (orb.Geometry, bool) {
	var outers []orb.Polygon
	var holes []orb.Ring
	for _, p := range parts {
		ring := orb.Ring(p)
		if len(ring) < 3 {
			continue
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		if ring.Orientation() == orb.CW {
			outers = append(outers, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	// Files written with the wrong winding have no clockwise ring at all.
	if len(outers) == 0 {
		for _, h := range holes {
			outers = append(outers, orb.Polygon{h})
		}
		holes = nil
	}

	for _, h := range holes {
		placed := false
		for i := range outers {
			if planar.RingContains(outers[i][0], h[0]) {
				outers[i] = append(outers[i], h)
				placed = true
				break
			}
		}
		if !placed {
			outers = append(outers, orb.Polygon{h})
		}
	}

	switch len(outers) {
	case 0:
		return nil, false
	case 1:
		return outers[0], true
	default:
		return orb.MultiPolygon(outers), true
	}
}
