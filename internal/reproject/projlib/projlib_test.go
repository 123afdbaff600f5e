package projlib

import (
	"testing"

	"github.com/EmpoweredVote/GIS-Backend/internal/reproject"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_CentralMeridianOfZone18(t *testing.T) {
	tr, err := New("+proj=utm +zone=18 +datum=WGS84")
	require.NoError(t, err)
	defer tr.Close()

	// False easting on the equator sits exactly on the zone's central meridian.
	got, err := tr.Transform(orb.Point{500000, 0})
	require.NoError(t, err)
	assert.InDelta(t, -75.0, got[0], 1e-9)
	assert.InDelta(t, 0.0, got[1], 1e-9)
}

func TestTransform_SouthernHemisphere(t *testing.T) {
	tr, err := New("+proj=utm +zone=19 +south +datum=WGS84")
	require.NoError(t, err)
	defer tr.Close()

	// 10,000,000 m false northing on the south grid is the equator.
	got, err := tr.Transform(orb.Point{500000, 10000000})
	require.NoError(t, err)
	assert.InDelta(t, -69.0, got[0], 1e-9)
	assert.InDelta(t, 0.0, got[1], 1e-6)
}

func TestCollection_WithPROJ(t *testing.T) {
	tr, err := Factory{}.New("+proj=utm +zone=18 +datum=WGS84")
	require.NoError(t, err)

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{{{500000, 0}, {500100, 0}, {500100, 100}, {500000, 0}}}))
	require.NoError(t, reproject.Collection(fc, tr))

	poly := fc.Features[0].Geometry.(orb.Polygon)
	for _, p := range poly[0] {
		assert.True(t, p[0] > -76 && p[0] < -74, "lon out of range: %v", p)
		assert.True(t, p[1] > -1e-9 && p[1] < 0.01, "lat out of range: %v", p)
	}
}

func TestNew_RejectsGarbage(t *testing.T) {
	_, err := New("+proj=nonsense")
	assert.Error(t, err)

	_, err = New("   ")
	assert.Error(t, err)
}
