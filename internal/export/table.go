// Package export writes filtered parcels to XLSX and PDF.
package export

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/google/uuid"
)

// ErrEmptyExport is returned when the filter matched nothing.
var ErrEmptyExport = errors.New("No hay datos filtrados para exportar.")

// Table is the flat attribute view of a filter result.
type Table struct {
	// Columns is the union of the matched layers' fields, in the order the
	// layers were first seen.
	Columns   []string
	Rows      [][]interface{}
	TotalDebt float64
}

// NewTable builds the attribute table for matches. layers supplies the field
// order of each layer.
func NewTable(layers []*parcels.Layer, matches []parcels.Match, debtFields []string) (Table, error) {
	if len(matches) == 0 {
		return Table{}, ErrEmptyExport
	}
	if len(debtFields) == 0 {
		debtFields = parcels.DefaultDebtFields
	}

	byID := make(map[uuid.UUID]*parcels.Layer, len(layers))
	for _, l := range layers {
		byID[l.ID] = l
	}

	var t Table
	seenLayer := make(map[uuid.UUID]bool)
	seenCol := make(map[string]bool)
	addCol := func(c string) {
		if !seenCol[c] {
			seenCol[c] = true
			t.Columns = append(t.Columns, c)
		}
	}
	for _, m := range matches {
		if seenLayer[m.LayerID] {
			continue
		}
		seenLayer[m.LayerID] = true
		if l, ok := byID[m.LayerID]; ok {
			for _, f := range l.Fields {
				addCol(f)
			}
			continue
		}
		// Unknown layer: fall back to whatever keys the feature carries.
		for k := range m.Feature.Properties {
			addCol(k)
		}
	}

	t.Rows = make([][]interface{}, 0, len(matches))
	for _, m := range matches {
		row := make([]interface{}, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = m.Feature.Properties[c]
		}
		t.Rows = append(t.Rows, row)
		if v, ok := parcels.DebtValue(m.Feature.Properties, debtFields...); ok {
			t.TotalDebt += v
		}
	}
	return t, nil
}

// FormatValue renders an attribute for a text cell.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		if x {
			return "Sí"
		}
		return "No"
	default:
		return fmt.Sprint(x)
	}
}
