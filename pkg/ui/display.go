package ui

import (
	"errors"
	"maps"
)

// ErrNotPeriodic is returned when schedule fields are set on a connection
// that is not periodic.
var ErrNotPeriodic = errors.New("connection type must be periodic to set a schedule")

// ConnectionType describes how a device connects.
type ConnectionType string

const (
	ConnectionConstant ConnectionType = "constant"
	ConnectionPeriodic ConnectionType = "periodic"
)

// ConnectionSchedule describes a periodic device's expected connections, in
// seconds. Nil fields are unset.
type ConnectionSchedule struct {
	Period         *int
	NextConnection *int
	OfflineAfter   *int
	AllowedMisses  *int
}

func (s ConnectionSchedule) empty() bool {
	return s.Period == nil && s.NextConnection == nil && s.OfflineAfter == nil && s.AllowedMisses == nil
}

// ConnectionInfo tells the dashboard when to consider the device offline.
type ConnectionInfo struct {
	Base
	ConnectionType ConnectionType
	Schedule       ConnectionSchedule
}

// NewConnectionInfo returns a connection info element named
// "connectionInfo" when name is empty.
func NewConnectionInfo(name string, ct ConnectionType, schedule ConnectionSchedule) (*ConnectionInfo, error) {
	if name == "" {
		name = "connectionInfo"
	}
	if ct == "" {
		ct = ConnectionConstant
	}
	if ct != ConnectionPeriodic && !schedule.empty() {
		return nil, ErrNotPeriodic
	}
	return &ConnectionInfo{Base: newBase(TypeConnectionInfo, name, ""), ConnectionType: ct, Schedule: schedule}, nil
}

func (c *ConnectionInfo) ToDict() Document {
	d := Document{"name": c.Name, "type": c.Type(), "connectionType": string(c.ConnectionType)}
	putInt(d, "connectionPeriod", c.Schedule.Period)
	putInt(d, "nextConnection", c.Schedule.NextConnection)
	putInt(d, "offlineAfter", c.Schedule.OfflineAfter)
	putInt(d, "allowedMisses", c.Schedule.AllowedMisses)
	return d
}

func putInt(d Document, key string, v *int) {
	if v != nil {
		d[key] = *v
	}
}

// AlertStream shows the device's alert history.
type AlertStream struct {
	Base
}

func NewAlertStream(name, displayName string, opts ...ElementOption) *AlertStream {
	a := &AlertStream{Base: newBase(TypeAlertStream, name, displayName)}
	applyOptions(a, opts)
	return a
}

// Camera shows snapshots or clips from a device camera.
type Camera struct {
	Base
	URI             string
	OutputType      string
	MP4OutputLength *int
	WakeDelay       int
}

// NewCamera returns a camera with a five second wake delay.
func NewCamera(name, displayName, uri string, opts ...ElementOption) *Camera {
	c := &Camera{Base: newBase(TypeCamera, name, displayName), URI: uri, WakeDelay: 5}
	applyOptions(c, opts)
	return c
}

func (c *Camera) ToDict() Document {
	d := c.Base.ToDict()
	putString(d, "uri", c.URI)
	putString(d, "outputType", c.OutputType)
	putInt(d, "mp4OutputLength", c.MP4OutputLength)
	d["wakeDelay"] = c.WakeDelay
	return d
}

// Multiplot plots several series on one chart.
type Multiplot struct {
	Base
	Series           []string
	SeriesColours    []Colour
	SeriesActive     []bool
	EarliestDataDate *int64
}

func NewMultiplot(name, displayName string, series []string, colours []Colour, active []bool, opts ...ElementOption) *Multiplot {
	m := &Multiplot{
		Base:          newBase(TypeMultiPlot, name, displayName),
		Series:        series,
		SeriesColours: colours,
		SeriesActive:  active,
	}
	applyOptions(m, opts)
	return m
}

func (m *Multiplot) ToDict() Document {
	d := m.Base.ToDict()
	series := make([]any, len(m.Series))
	for i, s := range m.Series {
		series[i] = s
	}
	colours := make([]any, len(m.SeriesColours))
	for i, c := range m.SeriesColours {
		colours[i] = string(c)
	}
	active := make([]any, len(m.SeriesActive))
	for i, a := range m.SeriesActive {
		active[i] = a
	}
	d["series"] = series
	d["colours"] = colours
	d["activeSeries"] = active
	if m.EarliestDataDate != nil {
		d["earliestDataDate"] = *m.EarliestDataDate
	}
	return d
}

// RemoteComponent embeds a separately hosted component. Extra keys are
// passed through to the component as-is.
type RemoteComponent struct {
	Base
	Extra map[string]any
}

func NewRemoteComponent(name, displayName, componentURL string, extra map[string]any, opts ...ElementOption) *RemoteComponent {
	r := &RemoteComponent{Base: newBase(TypeRemoteComponent, name, displayName), Extra: extra}
	r.ComponentURL = componentURL
	applyOptions(r, opts)
	return r
}

func (r *RemoteComponent) ToDict() Document {
	d := r.Base.ToDict()
	maps.Copy(d, r.Extra)
	return d
}
