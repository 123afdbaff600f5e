// Package layers is the HTTP surface of the GIS server: uploads, filtering,
// styled features, vector tiles, exports and raster overlays.
package layers

import (
	"github.com/EmpoweredVote/GIS-Backend/internal/config"
	"github.com/EmpoweredVote/GIS-Backend/internal/metrics"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/raster"
	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/EmpoweredVote/GIS-Backend/internal/tilecache"
)

// Loader parses an uploaded file into layers.
type Loader interface {
	Load(path string, opts parcels.LoadOptions) ([]*parcels.Layer, parcels.Timings, error)
}

// Service holds what the handlers share.
type Service struct {
	Catalogue *parcels.Catalogue
	Loader    Loader
	Factory   reproject.Factory
	Scale     parcels.Scale
	Rasters   *raster.Store
	Tiles     tilecache.Cache

	UploadDir  string
	MaxUpload  int64
	SourceProj string
}

// Init wires a Service from the configuration.
func Init(cfg config.Config, cat *parcels.Catalogue, factory reproject.Factory, tiles tilecache.Cache) (*Service, error) {
	scale, err := parcels.ScaleFromConfig(cfg.Thematic)
	if err != nil {
		return nil, err
	}
	s := &Service{
		Catalogue:  cat,
		Loader:     parcels.Loader{Factory: factory, DefaultSource: cfg.SourceProj},
		Factory:    factory,
		Scale:      scale,
		Rasters:    raster.NewStore(),
		Tiles:      tiles,
		UploadDir:  cfg.UploadDir,
		MaxUpload:  cfg.MaxUploadBytes(),
		SourceProj: cfg.SourceProj,
	}
	s.observe()
	return s, nil
}

func (s *Service) observe() {
	metrics.ObserveCatalogue(s.Catalogue.Stats())
}
