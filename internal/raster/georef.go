package raster

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var ErrNoGeoreference = errors.New("raster: no bounds, world file or GeoTIFF tags")

// WorldFileBound reads an ESRI world file (.tfw) and returns the outer
// bound of a w×h image. Rotation terms are ignored.
func WorldFileBound(data []byte, w, h int) (orb.Bound, error) {
	var v []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("world file line %d: %w", len(v)+1, err)
		}
		v = append(v, f)
	}
	if len(v) != 6 {
		return orb.Bound{}, fmt.Errorf("world file: expected 6 values, got %d", len(v))
	}
	a, e, c, f := v[0], v[3], v[4], v[5]
	if a == 0 || e == 0 {
		return orb.Bound{}, errors.New("world file: zero pixel size")
	}

	// C and F are the center of the upper-left pixel.
	west := c - a/2
	north := f - e/2
	east := west + a*float64(w)
	south := north + e*float64(h)
	return orb.Bound{
		Min: orb.Point{math.Min(west, east), math.Min(south, north)},
		Max: orb.Point{math.Max(west, east), math.Max(south, north)},
	}, nil
}

const (
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	typeDouble         = 12
)

// GeoTIFFBound reads ModelPixelScale and ModelTiepoint from the first IFD of
// a classic TIFF. ok is false when either tag is missing.
func GeoTIFFBound(data []byte, w, h int) (orb.Bound, bool) {
	if len(data) < 8 {
		return orb.Bound{}, false
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return orb.Bound{}, false
	}
	if bo.Uint16(data[2:4]) != 42 {
		return orb.Bound{}, false
	}

	ifd := int(bo.Uint32(data[4:8]))
	if ifd+2 > len(data) {
		return orb.Bound{}, false
	}
	n := int(bo.Uint16(data[ifd : ifd+2]))

	var scale, tie []float64
	for i := 0; i < n; i++ {
		at := ifd + 2 + i*12
		if at+12 > len(data) {
			return orb.Bound{}, false
		}
		tag := bo.Uint16(data[at : at+2])
		typ := bo.Uint16(data[at+2 : at+4])
		count := int(bo.Uint32(data[at+4 : at+8]))
		if typ != typeDouble || (tag != tagModelPixelScale && tag != tagModelTiepoint) {
			continue
		}
		off := int(bo.Uint32(data[at+8 : at+12]))
		if count <= 0 || off+count*8 > len(data) {
			return orb.Bound{}, false
		}
		vals := make([]float64, count)
		for j := range vals {
			vals[j] = math.Float64frombits(bo.Uint64(data[off+j*8 : off+j*8+8]))
		}
		if tag == tagModelPixelScale {
			scale = vals
		} else {
			tie = vals
		}
	}
	if len(scale) < 2 || len(tie) < 6 || scale[0] == 0 || scale[1] == 0 {
		return orb.Bound{}, false
	}

	west := tie[3] - tie[0]*scale[0]
	north := tie[4] + tie[1]*scale[1]
	return orb.Bound{
		Min: orb.Point{west, north - float64(h)*scale[1]},
		Max: orb.Point{west + float64(w)*scale[0], north},
	}, true
}

// Geographic reports whether b already looks like lon/lat.
func Geographic(b orb.Bound) bool {
	return b.Min[0] >= -180 && b.Max[0] <= 180 && b.Min[1] >= -90 && b.Max[1] <= 90
}
