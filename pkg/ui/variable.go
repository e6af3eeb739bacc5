package ui

// VarType is the kind of value a Variable displays.
type VarType string

const (
	VarFloat  VarType = "float"
	VarString VarType = "string"
	VarBool   VarType = "bool"
	VarTime   VarType = "time"
)

// Variable is a read-only value shown on the dashboard.
type Variable struct {
	Base
	VarType          VarType
	Precision        *int
	Ranges           []Range
	EarliestDataDate *int64

	value any
}

// NewVariable returns a variable of the given type. Precision applies to the
// initial value regardless of option order.
func NewVariable(name, displayName string, varType VarType, opts ...ElementOption) *Variable {
	v := &Variable{Base: newBase(TypeVariable, name, displayName), VarType: varType}
	applyOptions(v, opts)
	v.Update(v.value)
	return v
}

func NewNumericVariable(name, displayName string, opts ...ElementOption) *Variable {
	return NewVariable(name, displayName, VarFloat, opts...)
}

func NewTextVariable(name, displayName string, opts ...ElementOption) *Variable {
	return NewVariable(name, displayName, VarString, opts...)
}

func NewBooleanVariable(name, displayName string, opts ...ElementOption) *Variable {
	return NewVariable(name, displayName, VarBool, opts...)
}

func NewDateTimeVariable(name, displayName string, opts ...ElementOption) *Variable {
	return NewVariable(name, displayName, VarTime, opts...)
}

// CurrentValue returns the displayed value.
func (v *Variable) CurrentValue() any { return v.value }

// Update sets the displayed value, rounding numbers to Precision decimal
// places when set. Times are stored as epoch seconds.
func (v *Variable) Update(value any) {
	value = normalizeValue(value)
	if v.Precision != nil && value != nil {
		value = roundValue(value, *v.Precision)
	}
	v.value = value
}

func roundValue(value any, precision int) any {
	switch n := value.(type) {
	case float64:
		return roundTo(n, precision)
	case float32:
		return roundTo(float64(n), precision)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if precision >= 0 {
			return value
		}
		f, _ := asNumber(value)
		return int64(roundTo(f, precision))
	}
	return value
}

// AddRanges appends display ranges.
func (v *Variable) AddRanges(ranges ...Range) *Variable {
	v.Ranges = append(v.Ranges, ranges...)
	return v
}

func (v *Variable) ToDict() Document {
	d := v.Base.ToDict()
	d["varType"] = string(v.VarType)
	if v.value != nil {
		d["currentValue"] = v.value
	}
	if v.Precision != nil {
		d["decPrecision"] = *v.Precision
	}
	if v.EarliestDataDate != nil {
		d["earliestDataDate"] = *v.EarliestDataDate
	}
	ranges := make([]any, 0, len(v.Ranges))
	for _, r := range v.Ranges {
		ranges = append(ranges, r.ToDict())
	}
	d["ranges"] = ranges
	return d
}
