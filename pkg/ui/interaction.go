package ui

import (
	"fmt"
	"log/slog"
)

// Interactive is an element whose value can be changed from the dashboard.
type Interactive interface {
	Element
	Control() *Interaction
}

// Interaction carries the value and hooks shared by every interactive widget.
type Interaction struct {
	Base

	// Callback runs after an inbound value passes TransformCheck.
	Callback func(value any) error
	// TransformCheck validates or rewrites an inbound value. When nil, a nil
	// value is replaced by the default.
	TransformCheck func(value any) (any, error)

	value        Value
	defaultValue any
	manager      *Manager
}

func newInteraction(kind, name, displayName string) Interaction {
	return Interaction{Base: newBase(kind, name, displayName)}
}

// NewInteraction returns a generic interaction.
func NewInteraction(name, displayName string, opts ...ElementOption) *Interaction {
	i := &Interaction{Base: newBase(TypeInteraction, name, displayName)}
	applyOptions(i, opts)
	i.applyDefault()
	return i
}

// Control returns the interaction itself; it lets widgets embedding
// Interaction satisfy Interactive.
func (i *Interaction) Control() *Interaction { return i }

// Value returns the tri-state current value.
func (i *Interaction) Value() Value { return i.value }

// CurrentValue returns the current value, or nil when unset or null.
func (i *Interaction) CurrentValue() any { return i.value.Get() }

// Default returns the configured default value.
func (i *Interaction) Default() any { return i.defaultValue }

// Coerce sets the value locally. When critical is set and the value changes,
// the owning manager pushes on its next cycle regardless of rate limits.
func (i *Interaction) Coerce(value any, critical bool) {
	value = normalizeValue(value)
	if critical && i.manager != nil && !Equal(value, i.value.Get()) {
		i.manager.criticalPending = true
	}
	i.value = ValueOf(value)
}

// applyDefault coerces an unset or null value to the default. Constructors
// call it once options are applied.
func (i *Interaction) applyDefault() {
	if i.value.Get() == nil && i.defaultValue != nil {
		i.logger().Debug("coercing to default value", "name", i.Name, "default", i.defaultValue)
		i.Coerce(i.defaultValue, false)
	}
}

func (i *Interaction) transform(value any) (any, error) {
	if i.TransformCheck != nil {
		return i.TransformCheck(value)
	}
	if value == nil && i.defaultValue != nil {
		return i.defaultValue, nil
	}
	return value, nil
}

// handleNewValue applies an inbound value: transform, store, then callback.
// A rejected value leaves the current value untouched.
func (i *Interaction) handleNewValue(value any) {
	v, err := i.transform(value)
	if err != nil {
		i.logger().Error("error transforming value", "name", i.Name, "error", err)
		return
	}
	i.value = ValueOf(v)
	if err := i.invokeCallback(v); err != nil {
		i.logger().Error("error in callback", "name", i.Name, "error", err)
	}
}

func (i *Interaction) invokeCallback(v any) (err error) {
	if i.Callback == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return i.Callback(v)
}

func (i *Interaction) logger() *slog.Logger {
	if i.manager != nil {
		return i.manager.logger
	}
	return slog.Default().With("component", "ui")
}

// ToDict serializes the base fields plus currentValue when one is held.
func (i *Interaction) ToDict() Document {
	d := i.Base.ToDict()
	if v := i.value.Get(); v != nil {
		d["currentValue"] = v
	}
	return d
}

// Action is a button.
type Action struct {
	Interaction
	Colour          Colour
	RequiresConfirm bool
}

// NewAction returns a blue action that asks for confirmation.
func NewAction(name, displayName string, opts ...ElementOption) *Action {
	a := &Action{
		Interaction:     newInteraction(TypeAction, name, displayName),
		Colour:          ColourBlue,
		RequiresConfirm: true,
	}
	applyOptions(a, opts)
	a.applyDefault()
	return a
}

func (a *Action) ToDict() Document {
	d := a.Interaction.ToDict()
	d["colour"] = string(a.Colour)
	d["requiresConfirm"] = a.RequiresConfirm
	return d
}

// WarningIndicator is a dismissable warning banner.
type WarningIndicator struct {
	Interaction
	CanCancel bool
}

func NewWarningIndicator(name, displayName string, opts ...ElementOption) *WarningIndicator {
	w := &WarningIndicator{Interaction: newInteraction(TypeWarning, name, displayName), CanCancel: true}
	applyOptions(w, opts)
	w.applyDefault()
	return w
}

func (w *WarningIndicator) ToDict() Document {
	d := w.Interaction.ToDict()
	d["can_cancel"] = w.CanCancel
	return d
}

// HiddenValue is a command with no visible widget. Only its name and type are
// published; the value travels on the commands channel.
type HiddenValue struct {
	Interaction
}

func NewHiddenValue(name string, opts ...ElementOption) *HiddenValue {
	h := &HiddenValue{Interaction: newInteraction(TypeHiddenValue, name, "")}
	applyOptions(h, opts)
	h.applyDefault()
	return h
}

func (h *HiddenValue) ToDict() Document {
	return Document{"name": h.Name, "type": h.Type()}
}

// SlimCommand is a bare state command. The manager creates these as
// placeholders for inbound commands no local widget declares.
type SlimCommand struct {
	Interaction
}

func NewSlimCommand(name, displayName string, opts ...ElementOption) *SlimCommand {
	s := &SlimCommand{Interaction: newInteraction(TypeStateCommand, name, displayName)}
	applyOptions(s, opts)
	s.applyDefault()
	return s
}

// StateCommand is a selector over a fixed set of user options.
type StateCommand struct {
	Interaction
	UserOptions []UserOption
}

func NewStateCommand(name, displayName string, options []UserOption, opts ...ElementOption) *StateCommand {
	s := &StateCommand{Interaction: newInteraction(TypeStateCommand, name, displayName)}
	s.AddUserOptions(options...)
	applyOptions(s, opts)
	s.applyDefault()
	return s
}

// AddUserOptions appends options, replacing none.
func (s *StateCommand) AddUserOptions(options ...UserOption) *StateCommand {
	s.UserOptions = append(s.UserOptions, options...)
	return s
}

func (s *StateCommand) ToDict() Document {
	d := s.Interaction.ToDict()
	opts := make(Document, len(s.UserOptions))
	for _, o := range s.UserOptions {
		opts[o.Name] = o.ToDict()
	}
	d["userOptions"] = opts
	return d
}

// Slider is a numeric range input.
type Slider struct {
	Interaction
	Min        float64
	Max        float64
	StepSize   float64
	DualSlider bool
	Inverted   bool
	Icon       string
}

// NewSlider returns a 0 to 100 slider with a 0.1 step.
func NewSlider(name, displayName string, opts ...ElementOption) *Slider {
	s := &Slider{
		Interaction: newInteraction(TypeSlider, name, displayName),
		Max:         100,
		StepSize:    0.1,
		DualSlider:  true,
		Inverted:    true,
	}
	applyOptions(s, opts)
	s.applyDefault()
	return s
}

func (s *Slider) ToDict() Document {
	d := s.Interaction.ToDict()
	d["min"] = s.Min
	d["max"] = s.Max
	d["stepSize"] = s.StepSize
	d["dualSlider"] = s.DualSlider
	d["isInverted"] = s.Inverted
	putString(d, "icon", s.Icon)
	return d
}
