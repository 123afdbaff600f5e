package parcels

import (
	"fmt"
	"strings"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/EmpoweredVote/GIS-Backend/internal/shapefile"
)

// Loader runs the upload pipeline: parse, pick the source CRS, reproject.
type Loader struct {
	Factory       reproject.Factory
	DefaultSource string
}

// LoadOptions tune one load.
type LoadOptions struct {
	// Name overrides the layer name. With several shapefiles in one zip it
	// becomes a prefix.
	Name string
	// SourceProj wins over the .prj sidecar and the default.
	SourceProj string
}

// Timings reports how long each pipeline stage took.
type Timings struct {
	Parse     time.Duration
	Reproject time.Duration
}

// Load parses the file at path and returns one reprojected layer per
// shapefile found. SourcePath is set to path.
func (ld Loader) Load(path string, opts LoadOptions) ([]*Layer, Timings, error) {
	var tm Timings

	start := time.Now()
	decoded, err := shapefile.Open(path)
	if err != nil {
		return nil, tm, err
	}
	tm.Parse = time.Since(start)

	start = time.Now()
	out := make([]*Layer, 0, len(decoded))
	features := 0
	for _, d := range decoded {
		src, err := ld.resolveSource(opts.SourceProj, d.Prj)
		if err != nil {
			return nil, tm, err
		}

		var tr reproject.Transformer = reproject.Identity{}
		if src != "" {
			tr, err = ld.Factory.New(src)
			if err != nil {
				return nil, tm, fmt.Errorf("%s: %w", d.Name, err)
			}
		}
		err = reproject.Collection(d.Collection, tr)
		if c, ok := tr.(interface{ Close() }); ok {
			c.Close()
		}
		if err != nil {
			return nil, tm, fmt.Errorf("reproject %s: %w", d.Name, err)
		}

		l := NewLayer(layerName(opts.Name, d.Name, len(decoded)), d.Fields, d.Collection)
		l.SourceProj = src
		l.SourcePath = path
		out = append(out, l)
		features += len(d.Collection.Features)
	}
	tm.Reproject = time.Since(start)

	logging.LogTransform("reproject", features, features, tm.Reproject)
	return out, tm, nil
}

// resolveSource returns "" when the data is already geographic.
func (ld Loader) resolveSource(override, prj string) (string, error) {
	if s := strings.TrimSpace(override); s != "" {
		return s, nil
	}
	if def, geographic, ok := reproject.SourceFromPrj(prj); ok {
		if geographic {
			return "", nil
		}
		return def, nil
	}
	if ld.DefaultSource == "" {
		return "", fmt.Errorf("no source projection for upload")
	}
	return ld.DefaultSource, nil
}

func layerName(override, shapeName string, count int) string {
	switch {
	case override == "":
		return shapeName
	case count == 1:
		return override
	default:
		return override + " / " + shapeName
	}
}
