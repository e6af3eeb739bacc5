package ui

import "fmt"

// Colour is a dashboard colour name or hex string.
type Colour string

// Colours the dashboard recognises by name.
const (
	ColourBlue      Colour = "blue"
	ColourYellow    Colour = "yellow"
	ColourRed       Colour = "red"
	ColourGreen     Colour = "green"
	ColourMagenta   Colour = "magenta"
	ColourLimeGreen Colour = "limegreen"
	ColourTomato    Colour = "tomato"
	ColourOrange    Colour = "orange"
	ColourPurple    Colour = "purple"
	ColourGrey      Colour = "grey"
)

// ColourFromHex accepts a "#rrggbb" string as a colour.
func ColourFromHex(hex string) Colour { return Colour(hex) }

// Widget selects how a numeric variable is drawn.
type Widget string

const (
	WidgetLinear Widget = "linearGauge"
	WidgetRadial Widget = "radialGauge"
)

// Range is a labelled band of values drawn on a variable's gauge or graph.
type Range struct {
	Label       string
	Min         *float64
	Max         *float64
	Colour      Colour
	ShowOnGraph bool
}

// NewRange returns a range shown on graphs.
func NewRange(label string, min, max float64, colour Colour) Range {
	if colour == "" {
		colour = ColourBlue
	}
	return Range{Label: label, Min: Float(min), Max: Float(max), Colour: colour, ShowOnGraph: true}
}

func (r Range) ToDict() Document {
	d := Document{
		"min":           floatOrNil(r.Min),
		"max":           floatOrNil(r.Max),
		"colour":        string(r.Colour),
		"show_on_graph": r.ShowOnGraph,
	}
	putString(d, "label", r.Label)
	return d
}

// RangeFromDict parses a serialized range. min, max, colour and
// show_on_graph are required; label is optional.
func RangeFromDict(d Document) (Range, error) {
	var r Range
	for _, k := range []string{"min", "max", "colour", "show_on_graph"} {
		if _, ok := d[k]; !ok {
			return r, fmt.Errorf("range: missing %q", k)
		}
	}
	var err error
	if r.Min, err = optionalFloat(d["min"]); err != nil {
		return r, fmt.Errorf("range min: %w", err)
	}
	if r.Max, err = optionalFloat(d["max"]); err != nil {
		return r, fmt.Errorf("range max: %w", err)
	}
	colour, ok := d["colour"].(string)
	if !ok {
		return r, fmt.Errorf("range: colour is %T, want string", d["colour"])
	}
	r.Colour = Colour(colour)
	if r.ShowOnGraph, ok = d["show_on_graph"].(bool); !ok {
		return r, fmt.Errorf("range: show_on_graph is %T, want bool", d["show_on_graph"])
	}
	r.Label, _ = d["label"].(string)
	return r, nil
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func optionalFloat(v any) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, ok := asNumber(v)
	if !ok {
		return nil, fmt.Errorf("%v is not a number", v)
	}
	return &f, nil
}

// UserOption is one choice of a StateCommand.
type UserOption struct {
	Name        string
	DisplayName string
}

func (o UserOption) ToDict() Document {
	return Document{"name": o.Name, "displayString": o.DisplayName, "type": TypeElement}
}

// UserOptionFromDict parses the legacy {"name", "display_str"} form.
func UserOptionFromDict(d Document) (UserOption, error) {
	name, ok := d["name"].(string)
	if !ok {
		return UserOption{}, fmt.Errorf("option: missing name")
	}
	display, ok := d["display_str"].(string)
	if !ok {
		return UserOption{}, fmt.Errorf("option %s: missing display_str", name)
	}
	return UserOption{Name: name, DisplayName: display}, nil
}
