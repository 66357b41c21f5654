package messagepipeline

import (
	"time"
)

// Point is the canonical time-series record produced by the transformer and
// written to the store. It is deliberately independent of any store client's
// point type; writers convert it at the edge.
//
// Tag and field sets are last-write-wins: a later SetTag or SetField for an
// existing key silently replaces the earlier value. Callers that depend on
// override behavior (the fixed routing_key/exchange tags, renamed field
// collisions) rely on their call order, so Point never reorders entries.
type Point struct {
	// Measurement is the logical series name. Invariant: never empty.
	Measurement string

	// Time is the instant of the record, nanosecond resolution.
	Time time.Time

	// Tags are always string-valued.
	Tags map[string]string

	// Fields hold scalar values: int64, float64, bool or string.
	Fields map[string]any
}

// NewPoint creates an empty Point for the given measurement and instant.
func NewPoint(measurement string, t time.Time) *Point {
	return &Point{
		Measurement: measurement,
		Time:        t,
		Tags:        make(map[string]string),
		Fields:      make(map[string]any),
	}
}

// SetTag sets a tag value, replacing any earlier value for the same key.
func (p *Point) SetTag(key, value string) {
	p.Tags[key] = value
}

// SetField sets a field value, replacing any earlier value for the same key.
func (p *Point) SetField(key string, value any) {
	p.Fields[key] = value
}
