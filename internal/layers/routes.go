package layers

import (
	"net/http"

	"github.com/EmpoweredVote/GIS-Backend/internal/middleware"
	"github.com/go-chi/chi/v5"
)

func (s *Service) SetupRoutes(limiter *middleware.RateLimiter, adminHash string) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/layers", s.ListLayers)
	r.Get("/layers/{id}", s.GetLayer)
	r.Get("/layers/{id}/features/{fid}", s.GetFeature)
	r.Post("/layers/{id}/refresh", s.RefreshLayer)
	r.Get("/features", s.Features)
	r.Get("/legend", s.Legend)
	r.Get("/tiles/{z}/{x}/{y}.mvt", s.Tile)
	r.Get("/export/xlsx", s.ExportXLSX)
	r.Get("/export/pdf", s.ExportPDF)
	r.Get("/export/png", s.ExportPNG)
	r.Get("/rasters", s.ListRasters)
	r.Get("/rasters/{id}", s.GetRaster)
	r.Get("/rasters/{id}/image.png", s.RasterImage)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Post("/layers", s.UploadLayer)
		r.Post("/rasters", s.UploadRaster)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminMiddleware(adminHash))
		r.Delete("/layers/{id}", s.DeleteLayer)
		r.Delete("/rasters/{id}", s.DeleteRaster)
	})

	return r
}
