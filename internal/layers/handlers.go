package layers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/metrics"
	"github.com/EmpoweredVote/GIS-Backend/internal/middleware"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/shapefile"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	msgProcessError = "Error al procesar el archivo SHP."
	msgNoFile       = "Debe seleccionar un archivo SHP o ZIP."
	msgTooLarge     = "El archivo supera el tamaño máximo permitido."
	msgLayerMissing = "Capa no encontrada."
)

var uploadExts = map[string]bool{
	".zip": true, ".shp": true, ".dbf": true, ".shx": true, ".prj": true, ".cpg": true,
}

// UploadResponse is returned after an upload or a refresh.
type UploadResponse struct {
	Message string            `json:"message"`
	Layers  []parcels.Summary `json:"layers"`
}

func (s *Service) ListLayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Catalogue.List())
}

func (s *Service) GetLayer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		http.Error(w, "Invalid layer id", http.StatusBadRequest)
		return
	}
	l, err := s.Catalogue.Get(id)
	if err != nil {
		http.Error(w, msgLayerMissing, http.StatusNotFound)
		return
	}
	writeJSON(w, l.Summary())
}

// UploadLayer takes a multipart "file": a .zip, or a .shp sent together with
// its sidecars. Optional "name" and "source_proj" fields tune the load.
func (s *Service) UploadLayer(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			metrics.UploadsTotal.WithLabelValues("too_large").Inc()
			http.Error(w, msgTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, msgNoFile, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, msgNoFile, http.StatusBadRequest)
		return
	}

	dir := filepath.Join(s.UploadDir, uuid.NewString())
	primary, err := saveUpload(dir, files)
	if err != nil {
		os.RemoveAll(dir)
		if errors.Is(err, shapefile.ErrUnsupportedFile) {
			http.Error(w, msgNoFile, http.StatusBadRequest)
			return
		}
		logging.LogError("upload", "save", err)
		http.Error(w, msgProcessError, http.StatusInternalServerError)
		return
	}

	// Layers are named after the uploaded file unless a name is given.
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = filepath.Base(primary)
	}
	loaded, tm, err := s.Loader.Load(primary, parcels.LoadOptions{
		Name:       name,
		SourceProj: strings.TrimSpace(r.FormValue("source_proj")),
	})
	if err != nil {
		os.RemoveAll(dir)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		logging.L().Warn("upload failed", zap.String("file", filepath.Base(primary)), zap.Error(err))
		if errors.Is(err, shapefile.ErrNoFeatures) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, msgProcessError, http.StatusUnprocessableEntity)
		return
	}

	s.Catalogue.Add(r.Context(), loaded...)
	s.observe()
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	metrics.StageDurationMs.WithLabelValues("parse").Observe(float64(tm.Parse.Milliseconds()))
	metrics.StageDurationMs.WithLabelValues("reproject").Observe(float64(tm.Reproject.Milliseconds()))

	middleware.AddServerTiming(w,
		[2]string{"parse", middleware.Millis(tm.Parse)},
		[2]string{"reproject", middleware.Millis(tm.Reproject)},
		[2]string{"total", middleware.Millis(time.Since(t0))},
	)
	writeJSONStatus(w, http.StatusCreated, UploadResponse{
		Message: layerMessage(loaded, "cargada"),
		Layers:  summaries(loaded),
	})
}

// saveUpload writes every part into dir and returns the file to load.
func saveUpload(dir string, files []*multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	primary := ""
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		ext := strings.ToLower(filepath.Ext(name))
		if !uploadExts[ext] {
			return "", shapefile.ErrUnsupportedFile
		}
		dst := filepath.Join(dir, name)
		if err := copyPart(fh, dst); err != nil {
			return "", fmt.Errorf("save %s: %w", name, err)
		}
		if primary == "" && (ext == ".zip" || ext == ".shp") {
			primary = dst
		}
	}
	if primary == "" {
		return "", shapefile.ErrUnsupportedFile
	}
	return primary, nil
}

func copyPart(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RefreshLayer re-reads the file a layer was loaded from and swaps the result
// in, keeping ids.
func (s *Service) RefreshLayer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		http.Error(w, "Invalid layer id", http.StatusBadRequest)
		return
	}
	l, err := s.Catalogue.Get(id)
	if err != nil {
		http.Error(w, msgLayerMissing, http.StatusNotFound)
		return
	}
	if _, err := os.Stat(l.SourcePath); err != nil {
		http.Error(w, "El archivo original ya no está disponible.", http.StatusGone)
		return
	}

	fresh, tm, err := s.Loader.Load(l.SourcePath, parcels.LoadOptions{SourceProj: l.SourceProj})
	if err != nil {
		logging.L().Warn("refresh failed", zap.String("layer", id.String()), zap.Error(err))
		http.Error(w, msgProcessError, http.StatusUnprocessableEntity)
		return
	}
	updated := s.Catalogue.SyncSource(r.Context(), l.SourcePath, fresh)
	s.observe()

	middleware.AddServerTiming(w,
		[2]string{"parse", middleware.Millis(tm.Parse)},
		[2]string{"reproject", middleware.Millis(tm.Reproject)},
	)
	writeJSON(w, UploadResponse{
		Message: layerMessage(updated, "recargada"),
		Layers:  summaries(updated),
	})
}

func (s *Service) DeleteLayer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		http.Error(w, "Invalid layer id", http.StatusBadRequest)
		return
	}
	l, err := s.Catalogue.Get(id)
	if err != nil {
		http.Error(w, msgLayerMissing, http.StatusNotFound)
		return
	}
	if err := s.Catalogue.Delete(r.Context(), id); err != nil {
		http.Error(w, msgLayerMissing, http.StatusNotFound)
		return
	}
	s.observe()
	s.dropUpload(l.SourcePath)
	w.WriteHeader(http.StatusNoContent)
}

// dropUpload removes a retained upload once no layer refers to it. Files
// outside UploadDir, such as the watch directory, are left alone.
func (s *Service) dropUpload(path string) {
	if path == "" || s.UploadDir == "" || len(s.Catalogue.FindBySource(path)) > 0 {
		return
	}
	dir := filepath.Dir(path)
	root := filepath.Clean(s.UploadDir) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(dir)+string(filepath.Separator), root) || filepath.Clean(dir) == filepath.Clean(s.UploadDir) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logging.LogError("upload", "cleanup", err)
	}
}

// FeatureResponse is the popup payload for one parcel.
type FeatureResponse struct {
	LayerID    uuid.UUID            `json:"layer_id"`
	LayerName  string               `json:"layer_name"`
	FeatureID  int                  `json:"feature_id"`
	Fields     []string             `json:"fields"`
	Properties map[string]any       `json:"properties"`
	Debt       *float64             `json:"debt"`
	Color      string               `json:"color"`
	BBox       [4]float64           `json:"bbox"`
	Class      *parcels.LegendEntry `json:"class,omitempty"`
}

func (s *Service) GetFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		http.Error(w, "Invalid layer id", http.StatusBadRequest)
		return
	}
	fid, err := strconv.Atoi(chi.URLParam(r, "fid"))
	if err != nil {
		http.Error(w, "Invalid feature id", http.StatusBadRequest)
		return
	}
	l, err := s.Catalogue.Get(id)
	if err != nil {
		http.Error(w, msgLayerMissing, http.StatusNotFound)
		return
	}
	f, ok := l.Feature(fid)
	if !ok {
		http.Error(w, "Parcela no encontrada.", http.StatusNotFound)
		return
	}

	resp := FeatureResponse{
		LayerID:    l.ID,
		LayerName:  l.Name,
		FeatureID:  fid,
		Fields:     l.Fields,
		Properties: f.Properties,
		Color:      s.Scale.ColorFor(f.Properties),
	}
	if v, ok := parcels.DebtValue(f.Properties, s.Scale.Fields...); ok {
		resp.Debt = &v
		for _, e := range s.Scale.Legend() {
			if e.Color == resp.Color {
				entry := e
				resp.Class = &entry
				break
			}
		}
	}
	if f.Geometry != nil {
		b := f.Geometry.Bound()
		resp.BBox = [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	writeJSON(w, resp)
}

func (s *Service) Legend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Scale.Legend())
}

func summaries(ls []*parcels.Layer) []parcels.Summary {
	out := make([]parcels.Summary, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Summary())
	}
	return out
}

func layerMessage(ls []*parcels.Layer, verb string) string {
	names := make([]string, 0, len(ls))
	for _, l := range ls {
		names = append(names, l.Name)
	}
	if len(names) == 1 {
		return fmt.Sprintf(`Capa "%s" %s correctamente.`, names[0], verb)
	}
	return fmt.Sprintf(`Capas "%s" %ss correctamente.`, strings.Join(names, `", "`), verb)
}
