package layers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/raster"
	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/paulmach/orb"
)

// UploadRaster takes a multipart "file" (.tif/.tiff) and optionally a
// "world" file or "west", "south", "east", "north" bounds.
func (s *Service) UploadRaster(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, msgTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Debe seleccionar un archivo GeoTIFF.", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	tif, name, err := formFile(r, "file")
	if err != nil {
		http.Error(w, "Debe seleccionar un archivo GeoTIFF.", http.StatusBadRequest)
		return
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != ".tif" && ext != ".tiff" {
		http.Error(w, "Debe seleccionar un archivo GeoTIFF.", http.StatusBadRequest)
		return
	}

	in := raster.Input{Name: strings.TrimSuffix(name, filepath.Ext(name)), TIFF: tif}
	if world, _, err := formFile(r, "world"); err == nil {
		in.World = world
	}
	if b, ok, err := formBound(r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	} else if ok {
		in.Bound = &b
	}

	src := strings.TrimSpace(r.FormValue("source_proj"))
	if src == "" {
		src = s.SourceProj
	}
	tr, err := s.Factory.New(src)
	if err != nil {
		http.Error(w, "Proyección de origen inválida.", http.StatusBadRequest)
		return
	}
	o, err := raster.Build(in, tr)
	closeTransformer(tr)
	if err != nil {
		logging.LogError("raster", "build", err)
		if errors.Is(err, raster.ErrNoGeoreference) {
			http.Error(w, "El GeoTIFF no tiene georreferencia; envíe un archivo .tfw o los límites.", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "Error al procesar el archivo GeoTIFF.", http.StatusUnprocessableEntity)
		return
	}

	s.Rasters.Add(o)
	writeJSONStatus(w, http.StatusCreated, o)
}

func (s *Service) ListRasters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Rasters.List())
}

func (s *Service) GetRaster(w http.ResponseWriter, r *http.Request) {
	o, ok := s.raster(w, r)
	if !ok {
		return
	}
	writeJSON(w, o)
}

func (s *Service) RasterImage(w http.ResponseWriter, r *http.Request) {
	o, ok := s.raster(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Write(o.PNG())
}

func (s *Service) DeleteRaster(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		http.Error(w, "Invalid raster id", http.StatusBadRequest)
		return
	}
	if err := s.Rasters.Delete(id); err != nil {
		http.Error(w, "Raster no encontrado.", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) raster(w http.ResponseWriter, r *http.Request) (*raster.Overlay, bool) {
	id, ok := idParam(r, "id")
	if !ok {
		http.Error(w, "Invalid raster id", http.StatusBadRequest)
		return nil, false
	}
	o, err := s.Rasters.Get(id)
	if err != nil {
		http.Error(w, "Raster no encontrado.", http.StatusNotFound)
		return nil, false
	}
	return o, true
}

func formFile(r *http.Request, field string) ([]byte, string, error) {
	f, fh, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	return data, filepath.Base(fh.Filename), err
}

// formBound reads west/south/east/north. ok is false when none is set.
func formBound(r *http.Request) (orb.Bound, bool, error) {
	keys := []string{"west", "south", "east", "north"}
	var v [4]float64
	set := 0
	for i, k := range keys {
		raw := strings.TrimSpace(r.FormValue(k))
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return orb.Bound{}, false, errors.New("Límite inválido: " + k)
		}
		v[i] = f
		set++
	}
	switch set {
	case 0:
		return orb.Bound{}, false, nil
	case 4:
		if v[0] >= v[2] || v[1] >= v[3] {
			return orb.Bound{}, false, errors.New("Los límites están invertidos.")
		}
		return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, true, nil
	default:
		return orb.Bound{}, false, errors.New("Debe indicar west, south, east y north.")
	}
}

func closeTransformer(tr reproject.Transformer) {
	if c, ok := tr.(interface{ Close() }); ok {
		c.Close()
	}
}
