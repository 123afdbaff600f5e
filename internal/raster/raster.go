// Package raster turns georeferenced TIFF uploads into PNG overlays.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"sort"
	"sync"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"
)

// DefaultOpacity is the overlay opacity the map uses.
const DefaultOpacity = 0.7

var ErrNotFound = errors.New("raster not found")

// Overlay is a decoded raster ready to be laid over the map.
type Overlay struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Bounds    [4]float64 `json:"bounds"` // west, south, east, north
	Opacity   float64    `json:"opacity"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	CreatedAt time.Time  `json:"created_at"`

	png []byte
}

// PNG returns the encoded image.
func (o *Overlay) PNG() []byte { return o.png }

// Input is one upload.
type Input struct {
	Name  string
	TIFF  []byte
	World []byte     // optional .tfw
	Bound *orb.Bound // optional explicit bounds, in the source CRS
}

// Build decodes the TIFF, works out its bound and reprojects the corners with
// tr. Bounds that are already lon/lat, or a nil tr, are kept as they are.
func Build(in Input, tr reproject.Transformer) (*Overlay, error) {
	img, err := tiff.Decode(bytes.NewReader(in.TIFF))
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	b, err := Resolve(in, w, h)
	if err != nil {
		return nil, err
	}
	if tr != nil && !Geographic(b) {
		if b, err = reprojectBound(b, tr); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return &Overlay{
		ID:        uuid.New(),
		Name:      in.Name,
		Bounds:    [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		Opacity:   DefaultOpacity,
		Width:     w,
		Height:    h,
		CreatedAt: time.Now().UTC(),
		png:       buf.Bytes(),
	}, nil
}

// Resolve picks the bound in the source CRS: explicit, then world file, then
// GeoTIFF tags.
func Resolve(in Input, w, h int) (orb.Bound, error) {
	switch {
	case in.Bound != nil:
		return *in.Bound, nil
	case len(in.World) > 0:
		return WorldFileBound(in.World, w, h)
	}
	if b, ok := GeoTIFFBound(in.TIFF, w, h); ok {
		return b, nil
	}
	return orb.Bound{}, ErrNoGeoreference
}

func reprojectBound(b orb.Bound, tr reproject.Transformer) (orb.Bound, error) {
	corners := []orb.Point{
		b.Min,
		{b.Max[0], b.Min[1]},
		b.Max,
		{b.Min[0], b.Max[1]},
	}
	var out orb.Bound
	for i, c := range corners {
		p, err := tr.Transform(c)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("reproject corner %d: %w", i, err)
		}
		if i == 0 {
			out = orb.Bound{Min: p, Max: p}
			continue
		}
		out = out.Extend(p)
	}
	return out, nil
}

// Store keeps overlays in memory.
type Store struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Overlay
}

func NewStore() *Store {
	return &Store{items: make(map[uuid.UUID]*Overlay)}
}

func (s *Store) Add(o *Overlay) {
	s.mu.Lock()
	s.items[o.ID] = o
	s.mu.Unlock()
}

func (s *Store) Get(id uuid.UUID) (*Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// List returns overlays oldest first.
func (s *Store) List() []*Overlay {
	s.mu.RLock()
	out := make([]*Overlay, 0, len(s.items))
	for _, o := range s.items {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
