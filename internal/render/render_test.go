package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var opaqueRed = parcels.Style{FillColor: "#FF0000", Color: "black", Weight: 0.5, FillOpacity: 1}

func TestMap_FillsPolygonAndCutsHole(t *testing.T) {
	poly := orb.Polygon{
		{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}},
		// Same winding as the outer ring on purpose.
		{{0.4, 0.4}, {0.6, 0.4}, {0.6, 0.6}, {0.4, 0.6}, {0.4, 0.4}},
	}
	opts := Options{Width: 200, Height: 200, Padding: 10}
	img, err := Map([]Item{{Geometry: poly, Style: opaqueRed}}, poly.Bound(), opts)
	require.NoError(t, err)

	vp := newViewport(poly.Bound(), opts)

	x, y := vp.pixel(orb.Point{0.2, 0.2})
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(int(x), int(y)))

	x, y = vp.pixel(orb.Point{0.5, 0.5})
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(int(x), int(y)), "hole stays background")

	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(2, 2), "padding stays background")
}

func TestMap_AlphaBlends(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	style := parcels.Style{FillColor: "#0000FF", Color: "black", Weight: 0.5, FillOpacity: 0.5}
	opts := Options{Width: 100, Height: 100, Padding: 10}

	img, err := Map([]Item{{Geometry: poly, Style: style}}, poly.Bound(), opts)
	require.NoError(t, err)

	c := img.RGBAAt(50, 50)
	assert.InDelta(t, 127, int(c.R), 2)
	assert.InDelta(t, 127, int(c.G), 2)
	assert.Equal(t, uint8(255), c.B)
}

func TestMap_StrokesLinesAndPoints(t *testing.T) {
	line := orb.LineString{{0, 0.5}, {1, 0.5}}
	pt := orb.Point{0.5, 0.9}
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	opts := Options{Width: 100, Height: 100, Padding: 10}

	img, err := Map([]Item{
		{Geometry: line, Style: opaqueRed},
		{Geometry: pt, Style: opaqueRed},
	}, bound, opts)
	require.NoError(t, err)

	vp := newViewport(bound, opts)
	x, y := vp.pixel(orb.Point{0.5, 0.5})
	assert.Equal(t, uint8(0), img.RGBAAt(int(x), int(y)).R, "line is stroked black")

	x, y = vp.pixel(pt)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(int(x), int(y)))
}

func TestMap_Legend(t *testing.T) {
	opts := Options{Width: 400, Height: 400, Legend: parcels.DefaultScale().Legend()}
	img, err := Map(nil, orb.Bound{}, opts)
	require.NoError(t, err)

	// First swatch sits in the legend box above the bottom-right corner.
	found := false
	for y := 0; y < 400 && !found; y++ {
		for x := 200; x < 400; x++ {
			if img.RGBAAt(x, y) == (color.RGBA{0x8B, 0, 0, 255}) {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "legend swatch for the top class is drawn")
}

func TestMap_BadInput(t *testing.T) {
	_, err := Map(nil, orb.Bound{}, Options{})
	assert.ErrorIs(t, err, ErrBadSize)

	_, err = Map([]Item{{Geometry: orb.Point{0, 0}, Style: parcels.Style{FillColor: "mauve"}}}, orb.Bound{}, DefaultOptions())
	assert.Error(t, err)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#FFA500", 0.6)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0xFF, 0xA5, 0x00, 153}, c)

	c, err = ParseColor("black", 1)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, c)

	_, err = ParseColor("#12", 1)
	assert.Error(t, err)
}

func TestEncodePNG(t *testing.T) {
	img, err := Map(nil, orb.Bound{}, Options{Width: 10, Height: 10})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, img))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.Bounds().Dx())
}
