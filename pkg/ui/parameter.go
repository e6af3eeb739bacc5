package ui

import "time"

// NumericParameter is a free-form number input with optional bounds.
type NumericParameter struct {
	Interaction
	Min *float64
	Max *float64
}

func NewNumericParameter(name, displayName string, opts ...ElementOption) *NumericParameter {
	p := &NumericParameter{Interaction: newInteraction(TypeFloatParam, name, displayName)}
	applyOptions(p, opts)
	p.applyDefault()
	return p
}

func (p *NumericParameter) ToDict() Document {
	d := p.Interaction.ToDict()
	if p.Min != nil {
		d["min"] = *p.Min
	}
	if p.Max != nil {
		d["max"] = *p.Max
	}
	return d
}

// TextParameter is a text input, optionally multi-line.
type TextParameter struct {
	Interaction
	IsTextArea bool
}

func NewTextParameter(name, displayName string, opts ...ElementOption) *TextParameter {
	p := &TextParameter{Interaction: newInteraction(TypeTextParam, name, displayName)}
	applyOptions(p, opts)
	p.applyDefault()
	return p
}

func (p *TextParameter) ToDict() Document {
	d := p.Interaction.ToDict()
	d["isTextArea"] = p.IsTextArea
	return d
}

// DateTimeParameter is a date picker. Values are held as epoch seconds.
type DateTimeParameter struct {
	Interaction
	IncludeTime bool
}

func NewDateTimeParameter(name, displayName string, opts ...ElementOption) *DateTimeParameter {
	p := &DateTimeParameter{Interaction: newInteraction(TypeDateTimeParam, name, displayName)}
	applyOptions(p, opts)
	p.applyDefault()
	return p
}

// Time returns the current value as a UTC time. It reports false when the
// value is unset, null or not numeric.
func (p *DateTimeParameter) Time() (time.Time, bool) {
	f, ok := asNumber(p.CurrentValue())
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(f), 0).UTC(), true
}

func (p *DateTimeParameter) ToDict() Document {
	d := p.Interaction.ToDict()
	d["includeTime"] = p.IncludeTime
	return d
}
