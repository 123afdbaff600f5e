// Package shapefile turns ESRI shapefiles into GeoJSON feature collections.
package shapefile

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrNoFeatures is returned when a file parses but holds nothing usable.
	ErrNoFeatures = errors.New("El archivo SHP no contiene datos válidos.")

	// ErrUnsupportedFile is returned for anything that is not .shp or .zip.
	ErrUnsupportedFile = errors.New("shapefile: expected a .shp or .zip file")
)

// Layer is one decoded shapefile.
type Layer struct {
	// Name is the shapefile base name without extension.
	Name string
	// Fields lists the DBF column names in file order.
	Fields []string
	// Prj is the raw .prj sidecar, empty when absent.
	Prj string
	// Collection holds one feature per non-null shape.
	Collection *geojson.FeatureCollection
}

// Open reads the shapefile(s) at path. A .zip may contain several shapefiles
// and yields one Layer per .shp entry.
func Open(p string) ([]Layer, error) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".zip":
		return ReadZip(p)
	case ".shp":
		l, err := ReadShp(p)
		if err != nil {
			return nil, err
		}
		return []Layer{l}, nil
	default:
		return nil, ErrUnsupportedFile
	}
}

// ReadShp reads a .shp with its optional .dbf, .prj and .cpg siblings.
func ReadShp(p string) (Layer, error) {
	r, err := shp.Open(p)
	if err != nil {
		return Layer{}, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	base := strings.TrimSuffix(p, filepath.Ext(p))
	prj := readSidecar(base, ".prj")
	cpg := readSidecar(base, ".cpg")

	layer, err := decode(&fileReader{Reader: r}, cpg)
	if err != nil {
		return Layer{}, err
	}
	layer.Name = filepath.Base(base)
	layer.Prj = prj
	return layer, nil
}

// ReadZip reads every shapefile inside a zip archive.
func ReadZip(p string) ([]Layer, error) {
	entries, err := shp.ShapesInZip(p)
	if err != nil {
		return nil, fmt.Errorf("list zip: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoFeatures
	}

	sidecars, err := zipSidecars(p)
	if err != nil {
		return nil, err
	}

	layers := make([]Layer, 0, len(entries))
	for _, name := range entries {
		zr, err := shp.OpenShapeFromZip(p, name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		base := strings.TrimSuffix(name, path.Ext(name))
		key := strings.ToLower(base)

		layer, err := decode(zr, sidecars[key+".cpg"])
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		layer.Name = path.Base(base)
		layer.Prj = sidecars[key+".prj"]
		layers = append(layers, layer)
	}
	return layers, nil
}

// sequentialReader is the read surface shared by shp.Reader and
// shp.ZipReader.
type sequentialReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Fields() []shp.Field
	Attribute(n int) string
	Err() error
}

// fileReader adapts shp.Reader, which reads attributes by row, to
// sequentialReader.
type fileReader struct {
	*shp.Reader
	row int
}

func (f *fileReader) Shape() (int, shp.Shape) {
	n, s := f.Reader.Shape()
	f.row = n
	return n, s
}

func (f *fileReader) Attribute(n int) string {
	return f.Reader.ReadAttribute(f.row, n)
}

func decode(r sequentialReader, cpg string) (Layer, error) {
	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}

	utf8Declared := strings.Contains(strings.ToUpper(cpg), "UTF")
	fc := geojson.NewFeatureCollection()
	for r.Next() {
		_, s := r.Shape()
		g, ok := toGeometry(s)
		if !ok {
			continue
		}
		f := geojson.NewFeature(g)
		for i, name := range names {
			raw := r.Attribute(i)
			if !utf8Declared {
				raw = toUTF8(raw)
			}
			f.Properties[name] = typedValue(fields[i], raw)
		}
		fc.Append(f)
	}
	if err := r.Err(); err != nil {
		return Layer{}, fmt.Errorf("iterate shapes: %w", err)
	}
	if len(fc.Features) == 0 {
		return Layer{}, ErrNoFeatures
	}
	return Layer{Fields: names, Collection: fc}, nil
}

// typedValue converts the raw DBF text to a JSON-friendly value.
func typedValue(f shp.Field, raw string) interface{} {
	raw = strings.Trim(raw, " \x00")
	switch f.Fieldtype {
	case 'N', 'F':
		if raw == "" || strings.Trim(raw, "*") == "" {
			return nil
		}
		if f.Fieldtype == 'N' && f.Precision == 0 {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return n
			}
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return raw
	case 'L':
		switch raw {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		default:
			return nil
		}
	default:
		return raw
	}
}

// toUTF8 decodes Windows-1252 text, the usual DBF code page when no .cpg
// says otherwise. Valid UTF-8 passes through.
func toUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func readSidecar(base, ext string) string {
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if b, err := os.ReadFile(candidate); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return ""
}

// zipSidecars returns the .prj and .cpg entries keyed by lower-cased name.
func zipSidecars(p string) (map[string]string, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		ext := strings.ToLower(path.Ext(f.Name))
		if ext != ".prj" && ext != ".cpg" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, 64<<10))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out[strings.ToLower(f.Name)] = strings.TrimSpace(string(b))
	}
	return out, nil
}
