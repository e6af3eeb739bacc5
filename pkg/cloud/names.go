package cloud

import (
	"encoding/json"
	"strings"
)

// Channel name prefixes that mark processor and task channels.
const (
	ProcessorPrefix = "#"
	TaskPrefix      = "!"
)

// ProcessorName returns name with exactly one processor prefix.
func ProcessorName(name string) string {
	return ProcessorPrefix + strings.TrimLeft(name, ProcessorPrefix)
}

// TaskName returns name with exactly one task prefix.
func TaskName(name string) string {
	return TaskPrefix + strings.TrimLeft(name, TaskPrefix)
}

// MaybeJSON decodes s as JSON, returning s unchanged when it is not valid
// JSON.
func MaybeJSON(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
