package layers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EmpoweredVote/GIS-Backend/internal/config"
	"github.com/EmpoweredVote/GIS-Backend/internal/middleware"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/render"
	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/EmpoweredVote/GIS-Backend/internal/shapefile/shapetest"
	"github.com/EmpoweredVote/GIS-Backend/internal/tilecache"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/image/tiff"
)

const adminToken = "s3cret"

type identityFactory struct{}

func (identityFactory) New(string) (reproject.Transformer, error) { return reproject.Identity{}, nil }

// parcelFixture describes one square parcel of the test shapefile.
type parcelFixture struct {
	lon, lat float64
	barrio   string
	unidad   string
	saldo    float64
}

var fixtures = []parcelFixture{
	{-66.8705, -29.4405, "Centro", "U-001", 150000},
	{-66.8695, -29.4395, "Centro", "U-002", 450},
	{-66.8685, -29.4385, "Vargas", "U-003", 50},
}

// writeShapefile writes the fixture parcels as a geographic shapefile and
// returns the paths of every file written.
func writeShapefile(t *testing.T, dir, name string) []string {
	t.Helper()
	base := filepath.Join(dir, name)
	w, err := shp.Create(base+".shp", shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("barrio", 30),
		shp.StringField("unidad", 10),
		shp.FloatField("saldo", 14, 2),
	}))
	const d = 0.0004
	for i, p := range fixtures {
		pts := []shp.Point{{X: p.lon, Y: p.lat}, {X: p.lon, Y: p.lat + d}, {X: p.lon + d, Y: p.lat + d}, {X: p.lon + d, Y: p.lat}, {X: p.lon, Y: p.lat}}
		w.Write(&shp.Polygon{Box: shp.BBoxFromPoints(pts), NumParts: 1, NumPoints: int32(len(pts)), Parts: []int32{0}, Points: pts})
		require.NoError(t, w.WriteAttribute(i, 0, p.barrio))
		require.NoError(t, w.WriteAttribute(i, 1, p.unidad))
		require.NoError(t, w.WriteAttribute(i, 2, p.saldo))
	}
	shapetest.Close(t, w, base+".shp")
	require.NoError(t, os.WriteFile(base+".prj", []byte(`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]`), 0o644))
	return []string{base + ".shp", base + ".shx", base + ".dbf", base + ".prj"}
}

func zipFiles(t *testing.T, files []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		fw, err := zw.Create(filepath.Base(f))
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type part struct {
	field, filename string
	data            []byte
}

func multipartBody(t *testing.T, parts []part, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type harness struct {
	svc     *Service
	handler http.Handler
	uploads string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.UploadDir = t.TempDir()

	svc, err := Init(cfg, parcels.NewCatalogue(nil), identityFactory{}, tilecache.NewMemory(100))
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	return &harness{
		svc:     svc,
		handler: svc.SetupRoutes(middleware.NewRateLimiter(100, 100), string(hash)),
		uploads: cfg.UploadDir,
	}
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(t *testing.T, url string) *httptest.ResponseRecorder {
	return h.do(t, httptest.NewRequest(http.MethodGet, url, nil))
}

// upload posts the fixture shapefile as a zip and returns the response.
func (h *harness) upload(t *testing.T, fields map[string]string) (*httptest.ResponseRecorder, UploadResponse) {
	t.Helper()
	files := writeShapefile(t, t.TempDir(), "parcelas")
	body, ct := multipartBody(t, []part{{"file", "parcelas.zip", zipFiles(t, files)}}, fields)
	req := httptest.NewRequest(http.MethodPost, "/layers", body)
	req.Header.Set("Content-Type", ct)
	rec := h.do(t, req)

	var resp UploadResponse
	if rec.Code == http.StatusCreated {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestUploadLayer_Zip(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.upload(t, map[string]string{"name": "Catastro"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, `Capa "Catastro" cargada correctamente.`, resp.Message)
	require.Len(t, resp.Layers, 1)
	assert.Equal(t, 3, resp.Layers[0].FeatureCount)
	assert.Equal(t, []string{"barrio", "unidad", "saldo"}, resp.Layers[0].Fields)
	assert.Contains(t, rec.Header().Get("Server-Timing"), "parse;dur=")

	rec = h.get(t, "/layers")
	var list []parcels.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestUploadLayer_ShpWithSidecars(t *testing.T) {
	h := newHarness(t)
	var parts []part
	for _, f := range writeShapefile(t, t.TempDir(), "lotes") {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		parts = append(parts, part{"file", filepath.Base(f), data})
	}
	body, ct := multipartBody(t, parts, nil)
	req := httptest.NewRequest(http.MethodPost, "/layers", body)
	req.Header.Set("Content-Type", ct)

	rec := h.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `Capa \"lotes.shp\" cargada correctamente.`)
}

func TestUploadLayer_NamedAfterFile(t *testing.T) {
	h := newHarness(t)
	rec, resp := h.upload(t, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, `Capa "parcelas.zip" cargada correctamente.`, resp.Message)
	require.Len(t, resp.Layers, 1)
	assert.Equal(t, "parcelas.zip", resp.Layers[0].Name)
}

func TestUploadLayer_Rejections(t *testing.T) {
	h := newHarness(t)

	body, ct := multipartBody(t, []part{{"file", "notes.txt", []byte("hi")}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/layers", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, h.do(t, req).Code)

	body, ct = multipartBody(t, []part{{"file", "broken.zip", []byte("not a zip")}}, nil)
	req = httptest.NewRequest(http.MethodPost, "/layers", body)
	req.Header.Set("Content-Type", ct)
	rec := h.do(t, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error al procesar el archivo SHP.")

	req = httptest.NewRequest(http.MethodPost, "/layers", strings.NewReader(""))
	assert.Equal(t, http.StatusBadRequest, h.do(t, req).Code)

	entries, err := os.ReadDir(h.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed uploads leave nothing behind")
}

func TestUploadLayer_TooLarge(t *testing.T) {
	h := newHarness(t)
	h.svc.MaxUpload = 512

	body, ct := multipartBody(t, []part{{"file", "big.zip", bytes.Repeat([]byte("x"), 4096)}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/layers", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, h.do(t, req).Code)
}

func TestFeatures_FilterThematicAndFocus(t *testing.T) {
	h := newHarness(t)
	_, up := h.upload(t, nil)
	layerID := up.Layers[0].ID

	rec := h.get(t, "/features?barrio=centro&thematic=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp FeaturesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "FeatureCollection", resp.Type)
	require.Len(t, resp.Features, 2, "only matching parcels are drawn")
	assert.Equal(t, 2, resp.Count)
	assert.InDelta(t, 150450, resp.TotalDebt, 1e-6)
	assert.Equal(t, []string{parcels.SelectionID(layerID, 0), parcels.SelectionID(layerID, 1)}, resp.Selected)
	assert.Equal(t, "#8B0000", resp.Features[0].Style.FillColor)
	assert.Equal(t, "#ADD8E6", resp.Features[1].Style.FillColor)
	for _, f := range resp.Features {
		assert.NotEqual(t, "U-003", f.Properties["unidad"], "debt below the range is left off the map")
	}
	assert.Nil(t, resp.Focus)

	rec = h.get(t, "/features?unidad=u-002")
	resp = FeaturesResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Features, 1)
	assert.Equal(t, "#FFA500", resp.Features[0].Style.FillColor)
	require.NotNil(t, resp.Focus)
	assert.Equal(t, layerID, resp.Focus.LayerID)
	assert.Equal(t, 50, resp.Focus.Padding)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/features?unidad=u-002", nil)
	req.Header.Set("If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, h.do(t, req).Code)
}

func TestGetFeature(t *testing.T) {
	h := newHarness(t)
	_, up := h.upload(t, nil)
	id := up.Layers[0].ID

	rec := h.get(t, fmt.Sprintf("/layers/%s/features/1", id))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp FeatureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "U-002", resp.Properties["unidad"])
	require.NotNil(t, resp.Debt)
	assert.Equal(t, 450.0, *resp.Debt)
	assert.Equal(t, "#ADD8E6", resp.Color)
	require.NotNil(t, resp.Class)
	assert.Equal(t, "Deuda 401 - 500", resp.Class.Label)

	assert.Equal(t, http.StatusNotFound, h.get(t, fmt.Sprintf("/layers/%s/features/99", id)).Code)
	assert.Equal(t, http.StatusBadRequest, h.get(t, fmt.Sprintf("/layers/%s/features/x", id)).Code)
	assert.Equal(t, http.StatusBadRequest, h.get(t, "/layers/nope").Code)
}

func TestRefreshLayer_KeepsID(t *testing.T) {
	h := newHarness(t)
	_, up := h.upload(t, map[string]string{"name": "Catastro"})
	id := up.Layers[0].ID

	rec := h.do(t, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/layers/%s/refresh", id), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, `Capa "Catastro" recargada correctamente.`, resp.Message)
	require.Len(t, resp.Layers, 1)
	assert.Equal(t, id, resp.Layers[0].ID)
	assert.Len(t, h.svc.Catalogue.List(), 1)
}

func TestDeleteLayer_Admin(t *testing.T) {
	h := newHarness(t)
	_, up := h.upload(t, nil)
	id := up.Layers[0].ID
	url := fmt.Sprintf("/layers/%s", id)

	assert.Equal(t, http.StatusUnauthorized, h.do(t, httptest.NewRequest(http.MethodDelete, url, nil)).Code)

	req := httptest.NewRequest(http.MethodDelete, url, nil)
	req.Header.Set("X-Admin-Token", adminToken)
	assert.Equal(t, http.StatusNoContent, h.do(t, req).Code)
	assert.Empty(t, h.svc.Catalogue.List())

	entries, err := os.ReadDir(h.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries, "retained upload is removed with its last layer")

	req = httptest.NewRequest(http.MethodDelete, url, nil)
	req.Header.Set("X-Admin-Token", adminToken)
	assert.Equal(t, http.StatusNotFound, h.do(t, req).Code)
}

func TestTile_CachedByVersion(t *testing.T) {
	h := newHarness(t)
	_, up := h.upload(t, nil)

	tile := maptile.At(orb.Point{-66.8703, -29.4403}, 16)
	url := fmt.Sprintf("/tiles/%d/%d/%d.mvt?thematic=1", tile.Z, tile.X, tile.Y)

	rec := h.get(t, url)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Tile-Cache"))
	assert.Equal(t, "application/vnd.mapbox-vector-tile", rec.Header().Get("Content-Type"))

	decoded, err := mvt.Unmarshal(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, up.Layers[0].ID.String(), decoded[0].Name)
	require.NotEmpty(t, decoded[0].Features)
	assert.Equal(t, "#8B0000", decoded[0].Features[0].Properties["fill"])
	for _, f := range decoded[0].Features {
		assert.NotEqual(t, "U-003", f.Properties["unidad"], "tiles carry matches only")
	}

	rec = h.get(t, url)
	assert.Equal(t, "HIT", rec.Header().Get("X-Tile-Cache"))

	h.upload(t, nil)
	rec = h.get(t, url)
	assert.Equal(t, "MISS", rec.Header().Get("X-Tile-Cache"), "a new upload bumps the version")

	assert.Equal(t, http.StatusBadRequest, h.get(t, "/tiles/2/9/0.mvt").Code)
	assert.Equal(t, http.StatusBadRequest, h.get(t, "/tiles/30/0/0.mvt").Code)
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	h.upload(t, nil)

	rec := h.get(t, "/export/xlsx")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "DatosFiltrados.xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = h.get(t, "/export/pdf?thematic=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "reporte.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = h.get(t, "/export/png?width=300&height=200")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())

	rec = h.get(t, "/export/xlsx?unidad=nadie")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "No hay datos filtrados para exportar.")
}

func TestRenderMap_DrawsMatchesOnly(t *testing.T) {
	square := func(lon, lat float64) orb.Polygon {
		return orb.Polygon{{{lon, lat}, {lon + 0.01, lat}, {lon + 0.01, lat + 0.01}, {lon, lat + 0.01}, {lon, lat}}}
	}
	fc := geojson.NewFeatureCollection()
	for i, p := range []struct {
		lon   float64
		saldo float64
	}{{-66.90, 500}, {-66.89, 50}} {
		f := geojson.NewFeature(square(p.lon, -29.45))
		f.ID = i
		f.Properties["saldo"] = p.saldo
		fc.Append(f)
	}
	layer := parcels.NewLayer("lotes", []string{"saldo"}, fc)
	all := []*parcels.Layer{layer}
	res := parcels.DefaultFilter().Apply(all)
	require.Len(t, res.Matches, 1)

	s := &Service{Scale: parcels.DefaultScale()}
	img, err := s.renderMap(all, res, false, render.Options{Width: 400, Height: 400, Padding: 50})
	require.NoError(t, err)

	assertRGB(t, img.At(200, 200), 0xff, 0xc9, 0x66, "match is filled as selected")
	assertRGB(t, img.At(385, 200), 0xff, 0xff, 0xff, "parcel outside the filter is not drawn")
}

func assertRGB(t *testing.T, c color.Color, r, g, b uint8, msg string) {
	t.Helper()
	cr, cg, cb, _ := c.RGBA()
	assert.InDelta(t, float64(r), float64(cr>>8), 2, msg)
	assert.InDelta(t, float64(g), float64(cg>>8), 2, msg)
	assert.InDelta(t, float64(b), float64(cb>>8), 2, msg)
}

func TestExport_EmptyCatalogue(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusUnprocessableEntity, h.get(t, "/export/png").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, h.get(t, "/export/pdf").Code)
}

func TestLegend(t *testing.T) {
	h := newHarness(t)
	rec := h.get(t, "/legend")
	var legend []parcels.LegendEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &legend))
	assert.Len(t, legend, 12)
}

func TestRasters(t *testing.T) {
	h := newHarness(t)

	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.RGBA{0, 255, 0, 255})
	var tif bytes.Buffer
	require.NoError(t, tiff.Encode(&tif, img, nil))

	body, ct := multipartBody(t, []part{{"file", "orto.tif", tif.Bytes()}}, map[string]string{
		"west": "-66.88", "south": "-29.45", "east": "-66.86", "north": "-29.43",
	})
	req := httptest.NewRequest(http.MethodPost, "/rasters", body)
	req.Header.Set("Content-Type", ct)
	rec := h.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var o struct {
		ID      string     `json:"id"`
		Name    string     `json:"name"`
		Bounds  [4]float64 `json:"bounds"`
		Opacity float64    `json:"opacity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "orto", o.Name)
	assert.Equal(t, [4]float64{-66.88, -29.45, -66.86, -29.43}, o.Bounds)
	assert.Equal(t, 0.7, o.Opacity)

	rec = h.get(t, "/rasters/"+o.ID+"/image.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, h.get(t, "/rasters/"+o.ID).Code)

	body, ct = multipartBody(t, []part{{"file", "orto.tif", tif.Bytes()}}, nil)
	req = httptest.NewRequest(http.MethodPost, "/rasters", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(t, req).Code, "no georeference")

	body, ct = multipartBody(t, []part{{"file", "orto.tif", tif.Bytes()}}, map[string]string{"west": "1"})
	req = httptest.NewRequest(http.MethodPost, "/rasters", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, h.do(t, req).Code)
}
