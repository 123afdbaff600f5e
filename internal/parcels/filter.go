package parcels

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/text/cases"
)

const (
	DefaultSaldoMin = 100.00
	DefaultSaldoMax = 1000000.00
)

// DefaultDebtFields are the attributes read for the debt value, in order.
var DefaultDebtFields = []string{"saldo", "saldos"}

// Filter selects parcels by service code, neighbourhood, street, unit and
// debt range. Empty text filters match everything.
type Filter struct {
	CodSer   string  `json:"cod_ser,omitempty"`
	Barrio   string  `json:"barrio,omitempty"`
	Calle    string  `json:"calle,omitempty"`
	Unidad   string  `json:"unidad,omitempty"`
	SaldoMin float64 `json:"saldo_min"`
	SaldoMax float64 `json:"saldo_max"`

	// DebtFields overrides DefaultDebtFields when set.
	DebtFields []string `json:"-"`
}

// DefaultFilter matches every parcel with a debt between the default bounds.
func DefaultFilter() Filter {
	return Filter{SaldoMin: DefaultSaldoMin, SaldoMax: DefaultSaldoMax}
}

// FilterFromQuery reads cod_ser, barrio, calle, unidad, saldo_min and
// saldo_max. A bound that is missing, unparseable or zero falls back to its
// default.
func FilterFromQuery(q url.Values) Filter {
	f := DefaultFilter()
	f.CodSer = q.Get("cod_ser")
	f.Barrio = q.Get("barrio")
	f.Calle = q.Get("calle")
	f.Unidad = q.Get("unidad")
	f.SaldoMin = boundOr(q.Get("saldo_min"), DefaultSaldoMin)
	f.SaldoMax = boundOr(q.Get("saldo_max"), DefaultSaldoMax)
	return f
}

func boundOr(raw string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v == 0 {
		return def
	}
	return v
}

// Key is a stable string form of the filter, used in cache keys.
func (f Filter) Key() string {
	return fmt.Sprintf("c=%s|b=%s|s=%s|u=%s|min=%g|max=%g",
		f.CodSer, f.Barrio, f.Calle, f.Unidad, f.SaldoMin, f.SaldoMax)
}

func (f Filter) debtFields() []string {
	if len(f.DebtFields) > 0 {
		return f.DebtFields
	}
	return DefaultDebtFields
}

// Matches reports whether props pass every predicate. The debt range is
// checked against the first debt field only.
func (f Filter) Matches(props geojson.Properties) bool {
	if f.CodSer != "" {
		s, ok := text(props, "cod_ser")
		if !ok || !strings.Contains(s, f.CodSer) {
			return false
		}
	}
	fold := cases.Fold()
	for _, tf := range []struct{ field, needle string }{
		{"barrio", f.Barrio},
		{"calle", f.Calle},
		{"unidad", f.Unidad},
	} {
		if tf.needle == "" {
			continue
		}
		s, ok := text(props, tf.field)
		if !ok || !strings.Contains(fold.String(s), fold.String(tf.needle)) {
			return false
		}
	}

	// Only the primary field is range-checked.
	debt, ok := number(props[f.debtFields()[0]])
	if !ok {
		return false
	}
	return debt >= f.SaldoMin && debt <= f.SaldoMax
}

// Match is one feature that passed the filter.
type Match struct {
	LayerID uuid.UUID
	Feature *geojson.Feature
}

// SelectionID is the catalogue-wide id of a matched feature.
func (m Match) SelectionID() string {
	return SelectionID(m.LayerID, m.Feature.ID)
}

// SelectionID formats a layer id and feature id as "layer/feature".
func SelectionID(layerID uuid.UUID, featureID interface{}) string {
	return fmt.Sprintf("%s/%v", layerID, featureID)
}

// Focus is where the map should fly to after a unit search: the first hit.
type Focus struct {
	LayerID    uuid.UUID          `json:"layer_id"`
	FeatureID  interface{}        `json:"feature_id"`
	BBox       [4]float64         `json:"bbox"`
	Padding    int                `json:"padding"`
	Properties geojson.Properties `json:"properties"`
}

// Result is the outcome of filtering the whole catalogue.
type Result struct {
	Matches  []Match
	Selected map[string]bool
	Focus    *Focus
}

// Apply filters every layer in order and flattens the matches.
func (f Filter) Apply(layers []*Layer) Result {
	res := Result{Selected: make(map[string]bool)}
	for _, l := range layers {
		for _, feat := range l.Collection.Features {
			if !f.Matches(feat.Properties) {
				continue
			}
			m := Match{LayerID: l.ID, Feature: feat}
			res.Matches = append(res.Matches, m)
			res.Selected[m.SelectionID()] = true
		}
	}

	if f.Unidad != "" && len(res.Matches) > 0 {
		first := res.Matches[0]
		focus := &Focus{
			LayerID:    first.LayerID,
			FeatureID:  first.Feature.ID,
			Padding:    50,
			Properties: first.Feature.Properties,
		}
		if first.Feature.Geometry != nil {
			b := first.Feature.Geometry.Bound()
			focus.BBox = [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
		}
		res.Focus = focus
	}
	return res
}

// DebtValue returns the first non-zero numeric value among fields. When every
// present field is zero the value is 0; ok is false when none is numeric.
func DebtValue(props geojson.Properties, fields ...string) (float64, bool) {
	found := false
	for _, name := range fields {
		v, ok := number(props[name])
		if !ok {
			continue
		}
		if v != 0 {
			return v, true
		}
		found = true
	}
	return 0, found
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// text renders an attribute the way it reads on screen.
func text(props geojson.Properties, key string) (string, bool) {
	switch v := props[key].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprint(v), true
	}
}
