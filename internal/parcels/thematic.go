package parcels

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/EmpoweredVote/GIS-Backend/internal/config"
	"github.com/paulmach/orb/geojson"
)

var ErrBadScale = errors.New("thematic scale: classes must have distinct thresholds and #RRGGBB colors")

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Class colors every value strictly above Above.
type Class struct {
	Above float64 `json:"above"`
	Color string  `json:"color"`
	Label string  `json:"label"`
}

// Scale is the debt → color lookup table. Classes are kept sorted by
// descending threshold.
type Scale struct {
	Fields    []string
	NullColor string
	BaseColor string
	BaseLabel string
	Classes   []Class
}

// DefaultScale is the municipal debt table.
func DefaultScale() Scale {
	return Scale{
		Fields:    DefaultDebtFields,
		NullColor: "#FFFFFF",
		BaseColor: "#00008B",
		BaseLabel: "Deuda ≤ 100",
		Classes: []Class{
			{Above: 100000, Color: "#8B0000", Label: "Deuda > 100,000"},
			{Above: 15000, Color: "#FF0012", Label: "Deuda 15,001 - 100,000"},
			{Above: 10000, Color: "#FF4500", Label: "Deuda 10,001 - 15,000"},
			{Above: 5000, Color: "#FF8C00", Label: "Deuda 5,001 - 10,000"},
			{Above: 2000, Color: "#FFA500", Label: "Deuda 2,001 - 5,000"},
			{Above: 1000, Color: "#FFFF00", Label: "Deuda 1,001 - 2,000"},
			{Above: 500, Color: "#00FF00", Label: "Deuda 501 - 1,000"},
			{Above: 400, Color: "#ADD8E6", Label: "Deuda 401 - 500"},
			{Above: 300, Color: "#87CEEB", Label: "Deuda 301 - 400"},
			{Above: 200, Color: "#6495ED", Label: "Deuda 201 - 300"},
			{Above: 100, Color: "#4169E1", Label: "Deuda 101 - 200"},
		},
	}
}

// ScaleFromConfig overlays the YAML thematic block on the default table.
func ScaleFromConfig(t *config.Thematic) (Scale, error) {
	s := DefaultScale()
	if t == nil {
		return s, nil
	}
	if t.Field != "" {
		s.Fields = []string{t.Field}
		if t.FallbackField != "" {
			s.Fields = append(s.Fields, t.FallbackField)
		}
	}
	if t.NullColor != "" {
		s.NullColor = t.NullColor
	}
	if t.BaseColor != "" {
		s.BaseColor = t.BaseColor
	}
	if t.BaseLabel != "" {
		s.BaseLabel = t.BaseLabel
	}
	if len(t.Classes) > 0 {
		s.Classes = make([]Class, 0, len(t.Classes))
		for _, c := range t.Classes {
			label := c.Label
			if label == "" {
				label = fmt.Sprintf("> %g", c.Above)
			}
			s.Classes = append(s.Classes, Class{Above: c.Above, Color: c.Color, Label: label})
		}
	}
	if err := s.normalize(); err != nil {
		return DefaultScale(), err
	}
	return s, nil
}

func (s *Scale) normalize() error {
	for _, c := range []string{s.NullColor, s.BaseColor} {
		if !hexColor.MatchString(c) {
			return ErrBadScale
		}
	}
	seen := make(map[float64]bool, len(s.Classes))
	for _, c := range s.Classes {
		if seen[c.Above] || !hexColor.MatchString(c.Color) {
			return ErrBadScale
		}
		seen[c.Above] = true
	}
	sort.SliceStable(s.Classes, func(i, j int) bool { return s.Classes[i].Above > s.Classes[j].Above })
	return nil
}

// Color returns the fill for a debt value. A missing or zero value gets the
// null color.
func (s Scale) Color(value float64, ok bool) string {
	if !ok || value == 0 {
		return s.NullColor
	}
	for _, c := range s.Classes {
		if value > c.Above {
			return c.Color
		}
	}
	return s.BaseColor
}

// ColorFor colors a feature from its debt attributes.
func (s Scale) ColorFor(props geojson.Properties) string {
	return s.Color(DebtValue(props, s.Fields...))
}

// LegendEntry is one legend row.
type LegendEntry struct {
	Color string `json:"color"`
	Label string `json:"label"`
}

// Legend lists the classes from the highest threshold down, ending with the
// base class.
func (s Scale) Legend() []LegendEntry {
	out := make([]LegendEntry, 0, len(s.Classes)+1)
	for _, c := range s.Classes {
		out = append(out, LegendEntry{Color: c.Color, Label: c.Label})
	}
	return append(out, LegendEntry{Color: s.BaseColor, Label: s.BaseLabel})
}

// Style is the Leaflet path style for one feature.
type Style struct {
	FillColor   string  `json:"fillColor"`
	Color       string  `json:"color"`
	Weight      float64 `json:"weight"`
	FillOpacity float64 `json:"fillOpacity"`
}

const (
	outlineColor   = "black"
	outlineWeight  = 0.5
	selectedFill   = "#FFA500"
	unselectedFill = "#3388ff"
)

// StyleFor returns the style for a feature. In thematic mode the fill comes
// from the debt table; otherwise selected features are highlighted.
func (s Scale) StyleFor(props geojson.Properties, thematic, selected bool) Style {
	st := Style{Color: outlineColor, Weight: outlineWeight}
	switch {
	case thematic:
		st.FillColor = s.ColorFor(props)
		st.FillOpacity = 0.5
	case selected:
		st.FillColor = selectedFill
		st.FillOpacity = 0.6
	default:
		st.FillColor = unselectedFill
		st.FillOpacity = 0.5
	}
	return st
}
