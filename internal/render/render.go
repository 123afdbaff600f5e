// Package render rasterizes styled parcels into a map image.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

var ErrBadSize = errors.New("render: width and height must be positive")

// Item is one geometry with the style it is drawn in.
type Item struct {
	Geometry orb.Geometry
	Style    parcels.Style
}

// Options control the output image.
type Options struct {
	Width, Height int
	// Padding in pixels around the fitted bound.
	Padding int
	// Background defaults to white.
	Background color.Color
	// Legend is drawn in the bottom-right corner when set.
	Legend []parcels.LegendEntry
}

// DefaultOptions matches the map size used for reports.
func DefaultOptions() Options {
	return Options{Width: 1600, Height: 1000, Padding: 50}
}

// Map draws items into a new image. The view is the Web Mercator projection of
// bound fitted into the image with padding.
func Map(items []Item, bound orb.Bound, opts Options) (*image.RGBA, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, ErrBadSize
	}
	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	bg := opts.Background
	if bg == nil {
		bg = color.White
	}
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	vp := newViewport(bound, opts)
	z := vector.NewRasterizer(opts.Width, opts.Height)
	z.DrawOp = draw.Over

	for _, it := range items {
		if it.Geometry == nil {
			continue
		}
		fill, err := ParseColor(it.Style.FillColor, it.Style.FillOpacity)
		if err != nil {
			return nil, err
		}
		stroke, err := ParseColor(it.Style.Color, 1)
		if err != nil {
			return nil, err
		}
		width := math.Max(it.Style.Weight*2, 1)
		drawGeometry(z, img, vp, it.Geometry, fill, stroke, width)
	}

	if len(opts.Legend) > 0 {
		drawLegend(img, opts.Legend)
	}
	return img, nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

type viewport struct {
	originX, originY float64
	scale            float64
	offX, offY       float64
}

func newViewport(b orb.Bound, opts Options) viewport {
	lo := project.WGS84.ToMercator(b.Min)
	hi := project.WGS84.ToMercator(b.Max)
	dx, dy := hi[0]-lo[0], hi[1]-lo[1]

	availW := float64(opts.Width - 2*opts.Padding)
	availH := float64(opts.Height - 2*opts.Padding)
	if availW <= 0 {
		availW = float64(opts.Width)
	}
	if availH <= 0 {
		availH = float64(opts.Height)
	}

	// A single point or a line along one axis still gets a sane zoom.
	const minSpan = 100.0
	if dx < minSpan {
		lo[0] -= (minSpan - dx) / 2
		dx = minSpan
	}
	if dy < minSpan {
		lo[1] -= (minSpan - dy) / 2
		dy = minSpan
	}

	scale := math.Min(availW/dx, availH/dy)
	return viewport{
		originX: lo[0],
		originY: lo[1] + dy,
		scale:   scale,
		offX:    (float64(opts.Width) - dx*scale) / 2,
		offY:    (float64(opts.Height) - dy*scale) / 2,
	}
}

// pixel maps a lon/lat point to image coordinates (y down).
func (v viewport) pixel(p orb.Point) (float32, float32) {
	m := project.WGS84.ToMercator(p)
	x := v.offX + (m[0]-v.originX)*v.scale
	y := v.offY + (v.originY-m[1])*v.scale
	return float32(x), float32(y)
}

func drawGeometry(z *vector.Rasterizer, dst draw.Image, vp viewport, g orb.Geometry, fill, stroke color.NRGBA, width float64) {
	switch g := g.(type) {
	case orb.Point:
		drawPoint(z, dst, vp, g, fill, stroke)
	case orb.MultiPoint:
		for _, p := range g {
			drawPoint(z, dst, vp, p, fill, stroke)
		}
	case orb.LineString:
		strokePath(z, dst, vp, g, stroke, width+1)
	case orb.MultiLineString:
		for _, ls := range g {
			strokePath(z, dst, vp, ls, stroke, width+1)
		}
	case orb.Ring:
		drawPolygon(z, dst, vp, orb.Polygon{g}, fill, stroke, width)
	case orb.Polygon:
		drawPolygon(z, dst, vp, g, fill, stroke, width)
	case orb.MultiPolygon:
		for _, p := range g {
			drawPolygon(z, dst, vp, p, fill, stroke, width)
		}
	case orb.Collection:
		for _, c := range g {
			drawGeometry(z, dst, vp, c, fill, stroke, width)
		}
	}
}

func drawPolygon(z *vector.Rasterizer, dst draw.Image, vp viewport, poly orb.Polygon, fill, stroke color.NRGBA, width float64) {
	if len(poly) == 0 {
		return
	}
	b := dst.Bounds()
	z.Reset(b.Dx(), b.Dy())
	outer := poly[0].Orientation()
	for i, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		// Holes must wind against the outer ring to be cut out.
		reverse := i > 0 && ring.Orientation() == outer
		addRing(z, vp, ring, reverse)
	}
	z.Draw(dst, b, image.NewUniform(fill), image.Point{})

	for _, ring := range poly {
		strokePath(z, dst, vp, orb.LineString(ring), stroke, width)
	}
}

func addRing(z *vector.Rasterizer, vp viewport, ring orb.Ring, reverse bool) {
	n := len(ring)
	at := func(i int) orb.Point {
		if reverse {
			return ring[n-1-i]
		}
		return ring[i]
	}
	x, y := vp.pixel(at(0))
	z.MoveTo(x, y)
	for i := 1; i < n; i++ {
		x, y = vp.pixel(at(i))
		z.LineTo(x, y)
	}
	z.ClosePath()
}

// strokePath draws each segment as a quad of the given pixel width.
func strokePath(z *vector.Rasterizer, dst draw.Image, vp viewport, ls orb.LineString, c color.NRGBA, width float64) {
	if len(ls) < 2 {
		return
	}
	b := dst.Bounds()
	z.Reset(b.Dx(), b.Dy())
	half := float32(width / 2)
	for i := 1; i < len(ls); i++ {
		x0, y0 := vp.pixel(ls[i-1])
		x1, y1 := vp.pixel(ls[i])
		dx, dy := x1-x0, y1-y0
		l := float32(math.Hypot(float64(dx), float64(dy)))
		if l == 0 {
			continue
		}
		nx, ny := -dy/l*half, dx/l*half
		z.MoveTo(x0+nx, y0+ny)
		z.LineTo(x1+nx, y1+ny)
		z.LineTo(x1-nx, y1-ny)
		z.LineTo(x0-nx, y0-ny)
		z.ClosePath()
	}
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

func drawPoint(z *vector.Rasterizer, dst draw.Image, vp viewport, p orb.Point, fill, stroke color.NRGBA) {
	const radius = 4
	b := dst.Bounds()
	cx, cy := vp.pixel(p)

	circle := func(r float32, c color.NRGBA) {
		z.Reset(b.Dx(), b.Dy())
		for i := 0; i <= 16; i++ {
			a := float64(i) * 2 * math.Pi / 16
			x := cx + r*float32(math.Cos(a))
			y := cy + r*float32(math.Sin(a))
			if i == 0 {
				z.MoveTo(x, y)
			} else {
				z.LineTo(x, y)
			}
		}
		z.ClosePath()
		z.Draw(dst, b, image.NewUniform(c), image.Point{})
	}
	circle(radius+1, stroke)
	circle(radius, fill)
}

var named = map[string]color.NRGBA{
	"black": {0, 0, 0, 255},
	"white": {255, 255, 255, 255},
}

// ParseColor reads #RRGGBB or a named color and applies opacity.
func ParseColor(s string, opacity float64) (color.NRGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	c, ok := named[s]
	if !ok {
		if len(s) != 7 || s[0] != '#' {
			return color.NRGBA{}, fmt.Errorf("render: bad color %q", s)
		}
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("render: bad color %q", s)
		}
		c = color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
	}
	c.A = uint8(math.Round(math.Max(0, math.Min(1, opacity)) * 255))
	return c, nil
}

var (
	faceOnce sync.Once
	face     font.Face
)

func legendFace() font.Face {
	faceOnce.Do(func() {
		face = basicfont.Face7x13
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			return
		}
		if fc, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 13, DPI: 72, Hinting: font.HintingFull}); err == nil {
			face = fc
		}
	})
	return face
}

func drawLegend(img *image.RGBA, entries []parcels.LegendEntry) {
	const (
		margin = 12
		swatch = 14
		gap    = 6
		row    = 20
	)
	f := legendFace()

	textW := 0
	for _, e := range entries {
		if w := font.MeasureString(f, e.Label).Ceil(); w > textW {
			textW = w
		}
	}
	boxW := margin*2 + swatch + gap + textW
	boxH := margin*2 + row*len(entries)
	b := img.Bounds()
	box := image.Rect(b.Max.X-boxW-margin, b.Max.Y-boxH-margin, b.Max.X-margin, b.Max.Y-margin)
	draw.Draw(img, box, image.NewUniform(color.NRGBA{255, 255, 255, 230}), image.Point{}, draw.Over)

	d := &font.Drawer{Dst: img, Src: image.Black, Face: f}
	ascent := f.Metrics().Ascent.Ceil()
	for i, e := range entries {
		y := box.Min.Y + margin + i*row
		c, err := ParseColor(e.Color, 1)
		if err != nil {
			continue
		}
		sw := image.Rect(box.Min.X+margin, y, box.Min.X+margin+swatch, y+swatch)
		draw.Draw(img, sw, image.Black, image.Point{}, draw.Src)
		draw.Draw(img, sw.Inset(1), image.NewUniform(c), image.Point{}, draw.Src)

		d.Dot = fixed.P(box.Min.X+margin+swatch+gap, y+(swatch+ascent)/2-1)
		d.DrawString(e.Label)
	}
}
