package parcels

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterFromQuery_Defaults(t *testing.T) {
	f := FilterFromQuery(url.Values{})
	assert.Equal(t, DefaultFilter(), f)

	f = FilterFromQuery(url.Values{"saldo_min": {"abc"}, "saldo_max": {"0"}})
	assert.Equal(t, DefaultSaldoMin, f.SaldoMin, "unparseable bound falls back")
	assert.Equal(t, DefaultSaldoMax, f.SaldoMax, "zero bound falls back")

	f = FilterFromQuery(url.Values{
		"cod_ser":   {"12"},
		"barrio":    {"centro"},
		"saldo_min": {" 250.5 "},
		"saldo_max": {"5000"},
	})
	assert.Equal(t, "12", f.CodSer)
	assert.Equal(t, "centro", f.Barrio)
	assert.Equal(t, 250.5, f.SaldoMin)
	assert.Equal(t, 5000.0, f.SaldoMax)
}

func TestFilter_Matches(t *testing.T) {
	props := geojson.Properties{
		"cod_ser": int64(1203),
		"barrio":  "Barrio CENTRO",
		"calle":   "Av. Perón",
		"unidad":  "U-77",
		"saldo":   1500.0,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"defaults", DefaultFilter(), true},
		{"cod_ser substring", Filter{CodSer: "20", SaldoMin: 100, SaldoMax: 1e6}, true},
		{"cod_ser miss", Filter{CodSer: "99", SaldoMin: 100, SaldoMax: 1e6}, false},
		{"barrio case-insensitive", Filter{Barrio: "centro", SaldoMin: 100, SaldoMax: 1e6}, true},
		{"calle case-insensitive accented", Filter{Calle: "PERÓN", SaldoMin: 100, SaldoMax: 1e6}, true},
		{"unidad miss", Filter{Unidad: "u-78", SaldoMin: 100, SaldoMax: 1e6}, false},
		{"below range", Filter{SaldoMin: 2000, SaldoMax: 1e6}, false},
		{"above range", Filter{SaldoMin: 100, SaldoMax: 1000}, false},
		{"inclusive bounds", Filter{SaldoMin: 1500, SaldoMax: 1500}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(props))
		})
	}
}

func TestFilter_MissingAttributes(t *testing.T) {
	f := Filter{Barrio: "centro", SaldoMin: 100, SaldoMax: 1e6}
	assert.False(t, f.Matches(geojson.Properties{"saldo": 500.0}), "missing barrio fails a barrio filter")
	assert.False(t, DefaultFilter().Matches(geojson.Properties{"barrio": "x"}), "missing debt never matches")
	assert.False(t, DefaultFilter().Matches(geojson.Properties{"saldo": nil}))
}

func TestFilter_RangeReadsPrimaryDebtOnly(t *testing.T) {
	f := DefaultFilter()
	assert.False(t, f.Matches(geojson.Properties{"saldo": 0.0, "saldos": 500.0}), "zero saldo is below the range")
	assert.False(t, f.Matches(geojson.Properties{"saldos": 500.0}), "saldos alone is not filtered on")
	assert.True(t, f.Matches(geojson.Properties{"saldo": "500", "saldos": 0.0}))

	f.DebtFields = []string{"deuda", "saldo"}
	assert.True(t, f.Matches(geojson.Properties{"deuda": 250.0}))
	assert.False(t, f.Matches(geojson.Properties{"saldo": 250.0}))
}

func TestDebtValue_FallsBackToSaldos(t *testing.T) {
	v, ok := DebtValue(geojson.Properties{"saldo": 0.0, "saldos": 320.0}, DefaultDebtFields...)
	require.True(t, ok)
	assert.Equal(t, 320.0, v)

	v, ok = DebtValue(geojson.Properties{"saldos": json.Number("42.5")}, DefaultDebtFields...)
	require.True(t, ok)
	assert.Equal(t, 42.5, v)

	v, ok = DebtValue(geojson.Properties{"saldo": int64(0)}, DefaultDebtFields...)
	assert.True(t, ok)
	assert.Zero(t, v)

	_, ok = DebtValue(geojson.Properties{"saldo": "n/a"}, DefaultDebtFields...)
	assert.False(t, ok)
}

func TestFilter_ApplyAcrossLayersWithFocus(t *testing.T) {
	a := testLayer("a",
		parcel(0, square(0, 0, 1), geojson.Properties{"unidad": "X-1", "saldo": 50.0}),
		parcel(1, square(2, 2, 1), geojson.Properties{"unidad": "X-2", "saldo": 500.0}),
	)
	b := testLayer("b",
		parcel(0, square(10, 10, 2), geojson.Properties{"unidad": "x-3", "saldo": 900.0}),
	)

	res := DefaultFilter().Apply([]*Layer{a, b})
	require.Len(t, res.Matches, 2)
	assert.True(t, res.Selected[SelectionID(a.ID, 1)])
	assert.True(t, res.Selected[SelectionID(b.ID, 0)])
	assert.False(t, res.Selected[SelectionID(a.ID, 0)])
	assert.Nil(t, res.Focus, "no focus without a unit search")

	f := DefaultFilter()
	f.Unidad = "x-3"
	res = f.Apply([]*Layer{a, b})
	require.Len(t, res.Matches, 1)
	require.NotNil(t, res.Focus)
	assert.Equal(t, b.ID, res.Focus.LayerID)
	assert.Equal(t, 0, res.Focus.FeatureID)
	assert.Equal(t, [4]float64{10, 10, 12, 12}, res.Focus.BBox)
	assert.Equal(t, 50, res.Focus.Padding)

	f.Unidad = "nothing"
	res = f.Apply([]*Layer{a, b})
	assert.Empty(t, res.Matches)
	assert.Nil(t, res.Focus)
}

func TestFilter_KeyDiffers(t *testing.T) {
	a := DefaultFilter()
	b := DefaultFilter()
	b.Barrio = "centro"
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), DefaultFilter().Key())
}
