package domain

import (
	"fmt"
	"time"
)

// EventType is the kind of loss event a signal or cluster describes.
type EventType string

const (
	EventFire   EventType = "Fire"
	EventWind   EventType = "Wind"
	EventHail   EventType = "Hail"
	EventFreeze EventType = "Freeze"
)

// ParseEventType validates an event type string. Matching is exact; the
// ingestion adapters are responsible for normalizing casing.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventFire, EventWind, EventHail, EventFreeze:
		return EventType(s), nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// SourceType is the reporting channel that produced a signal.
type SourceType string

const (
	SourceWeather        SourceType = "weather"
	SourceFireReport     SourceType = "fire_report"
	SourceCAD            SourceType = "cad"
	SourceNews           SourceType = "news"
	SourceCommercialFire SourceType = "commercial_fire"
)

// Point is a WGS-84 latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Address holds best-effort postal fields reported alongside a signal.
type Address struct {
	Street string `json:"address,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
}

// Completeness counts the populated fields. Used to pick the best address
// among a group of signals.
func (a Address) Completeness() int {
	n := 0
	for _, f := range []string{a.Street, a.City, a.State, a.Zip} {
		if f != "" {
			n++
		}
	}
	return n
}

// Signal is one source-reported observation of a possible loss event.
// Signals are written by ingestion adapters and never mutated here.
type Signal struct {
	ID            string     `json:"id"`
	EventType     EventType  `json:"event_type"`
	OccurredAt    time.Time  `json:"occurred_at"`
	Location      *Point     `json:"location,omitempty"`
	Address       Address    `json:"address"`
	SourceType    SourceType `json:"source_type"`
	SeverityRaw   *float64   `json:"severity_raw,omitempty"`
	ConfidenceRaw *float64   `json:"confidence_raw,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// HasLocation reports whether the signal carries coordinates. Signals without
// coordinates never take part in spatial clustering.
func (s Signal) HasLocation() bool { return s.Location != nil }

func (s Signal) severity() float64 {
	if s.SeverityRaw == nil {
		return 0
	}
	return *s.SeverityRaw
}

func (s Signal) confidence() float64 {
	if s.ConfidenceRaw == nil {
		return 0
	}
	return *s.ConfidenceRaw
}
