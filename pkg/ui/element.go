package ui

import "time"

// Element types as the dashboard knows them.
const (
	TypeElement         = "uiElement"
	TypeInteraction     = "uiInteraction"
	TypeContainer       = "uiContainer"
	TypeSubmodule       = "uiSubmodule"
	TypeVariable        = "uiVariable"
	TypeAction          = "uiAction"
	TypeWarning         = "uiWarningIndicator"
	TypeHiddenValue     = "uiHiddenValue"
	TypeStateCommand    = "uiStateCommand"
	TypeSlider          = "uiSlider"
	TypeFloatParam      = "uiFloatParam"
	TypeTextParam       = "uiTextParam"
	TypeDateTimeParam   = "uiDatetimeParam"
	TypeCamera          = "uiCamera"
	TypeMultiPlot       = "uiMultiPlot"
	TypeRemoteComponent = "uiRemoteComponent"
	TypeAlertStream     = "uiAlertStream"
	TypeConnectionInfo  = "uiConnectionInfo"
)

// Element is a node in the UI tree.
type Element interface {
	Metadata() *Base
	ToDict() Document
}

// Base holds the metadata every element carries. Zero values are treated as
// unset and are left out of the serialized document.
type Base struct {
	Name          string
	DisplayName   string
	IsAvailable   *bool
	HelpString    string
	VerboseString string
	ShowActivity  *bool
	Form          string
	Graphic       string
	Layout        string
	ComponentURL  string
	Position      *int

	kind   string
	parent *Container
}

func newBase(kind, name, displayName string) Base {
	return Base{kind: kind, Name: name, DisplayName: displayName}
}

// Metadata returns the element's common fields.
func (b *Base) Metadata() *Base { return b }

// Type returns the dashboard type identifier.
func (b *Base) Type() string {
	if b.kind == "" {
		return TypeElement
	}
	return b.kind
}

// Parent returns the container holding the element, if any.
func (b *Base) Parent() *Container { return b.parent }

// ToDict serializes the common fields.
func (b *Base) ToDict() Document {
	d := Document{"type": b.Type()}
	putString(d, "name", b.Name)
	putString(d, "displayString", b.DisplayName)
	if b.IsAvailable != nil {
		d["isAvailable"] = *b.IsAvailable
	}
	putString(d, "helpString", b.HelpString)
	putString(d, "verboseString", b.VerboseString)
	if b.ShowActivity != nil {
		d["showActivity"] = *b.ShowActivity
	}
	putString(d, "form", b.Form)
	putString(d, "graphic", b.Graphic)
	putString(d, "layout", b.Layout)
	putString(d, "componentUrl", b.ComponentURL)
	if b.Position != nil {
		d["position"] = *b.Position
	}
	return d
}

func putString(d Document, key, v string) {
	if v != "" {
		d[key] = v
	}
}

// Diff returns the parts of e's serialized form that differ from other. With
// remove set, keys present only in other are reported as nil so the receiver
// deletes them. The result is nil when e and other already agree.
func Diff(e Element, other Document, remove bool) Document {
	if d, ok := e.(interface {
		GetDiff(Document, bool) Document
	}); ok {
		return d.GetDiff(other, remove)
	}
	return diffDocuments(e.ToDict(), other, remove)
}

// ElementOption configures an element at construction. Options that do not
// apply to the element they are given are ignored.
type ElementOption func(Element)

func applyOptions(e Element, opts []ElementOption) {
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
}

// Bool returns a pointer to v, for the optional flags on Base.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// WithHelp sets the help text shown next to the element.
func WithHelp(s string) ElementOption {
	return func(e Element) { e.Metadata().HelpString = s }
}

// WithVerbose sets the long-form description.
func WithVerbose(s string) ElementOption {
	return func(e Element) { e.Metadata().VerboseString = s }
}

// WithPosition pins the element's position within its container.
func WithPosition(p int) ElementOption {
	return func(e Element) { e.Metadata().Position = Int(p) }
}

// WithAvailable marks the element available or greyed out.
func WithAvailable(v bool) ElementOption {
	return func(e Element) { e.Metadata().IsAvailable = Bool(v) }
}

// WithActivity toggles the activity indicator.
func WithActivity(v bool) ElementOption {
	return func(e Element) { e.Metadata().ShowActivity = Bool(v) }
}

// WithForm sets the rendering form, for example a gauge widget.
func WithForm(form string) ElementOption {
	return func(e Element) { e.Metadata().Form = form }
}

// WithGraphic sets the graphic identifier.
func WithGraphic(g string) ElementOption {
	return func(e Element) { e.Metadata().Graphic = g }
}

// WithLayout sets the layout hint.
func WithLayout(l string) ElementOption {
	return func(e Element) { e.Metadata().Layout = l }
}

// WithComponentURL points the element at a remotely hosted component.
func WithComponentURL(u string) ElementOption {
	return func(e Element) { e.Metadata().ComponentURL = u }
}

// WithValue sets an initial value on interactions and variables without
// firing callbacks.
func WithValue(v any) ElementOption {
	return func(e Element) {
		switch t := e.(type) {
		case Interactive:
			t.Control().value = ValueOf(v)
		case *Variable:
			t.Update(v)
		}
	}
}

// WithDefault sets the value an interaction falls back to when unset or null.
func WithDefault(v any) ElementOption {
	return func(e Element) {
		if t, ok := e.(Interactive); ok {
			t.Control().defaultValue = normalizeValue(v)
		}
	}
}

// OnChange registers the callback invoked after an inbound value is accepted.
func OnChange(fn func(value any) error) ElementOption {
	return func(e Element) {
		if t, ok := e.(Interactive); ok {
			t.Control().Callback = fn
		}
	}
}

// WithTransform replaces the default transform hook. Returning an error
// rejects the inbound value.
func WithTransform(fn func(value any) (any, error)) ElementOption {
	return func(e Element) {
		if t, ok := e.(Interactive); ok {
			t.Control().TransformCheck = fn
		}
	}
}

// WithPrecision rounds numeric variable values to p decimal places.
func WithPrecision(p int) ElementOption {
	return func(e Element) {
		if v, ok := e.(*Variable); ok {
			v.Precision = Int(p)
		}
	}
}

// WithRanges attaches coloured bands to a variable.
func WithRanges(ranges ...Range) ElementOption {
	return func(e Element) {
		if v, ok := e.(*Variable); ok {
			v.Ranges = append(v.Ranges, ranges...)
		}
	}
}

// WithEarliestData limits how far back history is plotted.
func WithEarliestData(t time.Time) ElementOption {
	return func(e Element) {
		epoch := t.Unix()
		switch v := e.(type) {
		case *Variable:
			v.EarliestDataDate = &epoch
		case *Multiplot:
			v.EarliestDataDate = &epoch
		}
	}
}

// WithMin sets the lower bound of a numeric parameter or slider.
func WithMin(min float64) ElementOption {
	return func(e Element) {
		switch v := e.(type) {
		case *NumericParameter:
			v.Min = Float(min)
		case *Slider:
			v.Min = min
		}
	}
}

// WithMax sets the upper bound of a numeric parameter or slider.
func WithMax(max float64) ElementOption {
	return func(e Element) {
		switch v := e.(type) {
		case *NumericParameter:
			v.Max = Float(max)
		case *Slider:
			v.Max = max
		}
	}
}

// WithColour sets the colour of an action.
func WithColour(c Colour) ElementOption {
	return func(e Element) {
		if a, ok := e.(*Action); ok {
			a.Colour = c
		}
	}
}

// WithChildren adds children to a container element.
func WithChildren(children ...Element) ElementOption {
	return func(e Element) {
		if c, ok := e.(interface{ AddChildren(...Element) *Container }); ok {
			c.AddChildren(children...)
		}
	}
}
