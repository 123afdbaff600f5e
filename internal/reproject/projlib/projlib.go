// Package projlib implements reproject.Transformer on top of the PROJ
// library. It needs cgo and libproj at build time.
package projlib

import (
	"fmt"
	"strings"
	"sync"

	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/paulmach/orb"
	"github.com/pebbe/proj/v5"
)

// Factory creates PROJ-backed transformers. The zero value is ready to use.
type Factory struct{}

// New returns a transformer from sourceProj to WGS84 degrees.
func (Factory) New(sourceProj string) (reproject.Transformer, error) {
	return New(sourceProj)
}

// Transformer wraps one PROJ context and pipeline. PROJ contexts are not safe
// for concurrent use, so Transform serializes callers.
type Transformer struct {
	mu  sync.Mutex
	ctx *proj.Context
	pj  *proj.PJ
}

// New builds the pipeline inverse(sourceProj) followed by radians → degrees.
func New(sourceProj string) (*Transformer, error) {
	sourceProj = strings.TrimSpace(sourceProj)
	if sourceProj == "" {
		return nil, fmt.Errorf("projlib: empty source definition")
	}

	ctx := proj.NewContext()
	pj, err := ctx.Create(Pipeline(sourceProj))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("projlib: create pipeline for %q: %w", sourceProj, err)
	}
	return &Transformer{ctx: ctx, pj: pj}, nil
}

// Pipeline returns the PROJ pipeline string used for sourceProj.
func Pipeline(sourceProj string) string {
	return "+proj=pipeline +step +inv " + sourceProj + " +step +proj=unitconvert +xy_in=rad +xy_out=deg"
}

// Transform converts a projected coordinate to longitude/latitude.
func (t *Transformer) Transform(p orb.Point) (orb.Point, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var in proj.Coord
	in[0], in[1] = p[0], p[1]
	out, err := t.pj.Trans(proj.Fwd, in)
	if err != nil {
		return p, fmt.Errorf("projlib: transform %v: %w", p, err)
	}
	return orb.Point{out[0], out[1]}, nil
}

// Close releases the PROJ objects.
func (t *Transformer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pj != nil {
		t.pj.Close()
		t.pj = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
}
