package domain

import (
	"fmt"
	"time"
)

// Matching and suppression thresholds.
const (
	DefaultMaxDistanceKm   = 5.0
	DefaultTimeWindowHours = 24.0

	// The two suppression thresholds are on different scales (confidence is
	// 0–1, severity 0–100 in practice). They are kept as reported upstream.
	SuppressConfidenceBelow = 0.70
	SuppressSeverityBelow   = 60.0
)

// MatchOptions controls candidate grouping and cluster lookup.
type MatchOptions struct {
	MaxDistanceKm   float64
	TimeWindowHours float64
}

// DefaultMatchOptions returns the production thresholds: 5 km and 24 h.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		MaxDistanceKm:   DefaultMaxDistanceKm,
		TimeWindowHours: DefaultTimeWindowHours,
	}
}

// TimeWindow returns the time tolerance as a duration.
func (o MatchOptions) TimeWindow() time.Duration {
	return time.Duration(o.TimeWindowHours * float64(time.Hour))
}

// Candidate is a group of unclustered signals that plausibly describe the
// same incident, annotated for merging.
type Candidate struct {
	EventType   EventType
	Signals     []Signal
	Centroid    Point
	Window      TimeWindow
	SourceTypes SourceSet
	Address     Address
}

// String identifies the candidate in logs and error messages.
func (c Candidate) String() string {
	return fmt.Sprintf("%s candidate at (%.5f, %.5f) with %d signals", c.EventType, c.Centroid.Lat, c.Centroid.Lng, len(c.Signals))
}

// SignalIDs returns the member IDs in candidate order.
func (c Candidate) SignalIDs() []string {
	ids := make([]string, len(c.Signals))
	for i, s := range c.Signals {
		ids[i] = s.ID
	}
	return ids
}

// Subset returns the candidate restricted to the given signal IDs, with its
// annotation recomputed. Used when only some members could be linked.
func (c Candidate) Subset(ids []string) Candidate {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	members := make([]Signal, 0, len(ids))
	for _, s := range c.Signals {
		if _, ok := keep[s.ID]; ok {
			members = append(members, s)
		}
	}
	return newCandidate(c.EventType, members)
}

// Suppressed reports whether the candidate is a single-source group in which
// every member is below both the confidence and the severity threshold.
// Corroborated candidates are never suppressed.
func (c Candidate) Suppressed() bool {
	if len(c.SourceTypes) != 1 {
		return false
	}
	for _, s := range c.Signals {
		if s.confidence() >= SuppressConfidenceBelow || s.severity() >= SuppressSeverityBelow {
			return false
		}
	}
	return true
}

func (c Candidate) coordinateSum() Point {
	var sum Point
	for _, s := range c.Signals {
		sum.Lat += s.Location.Lat
		sum.Lng += s.Location.Lng
	}
	return sum
}

// newCandidate annotates a group of located signals that share an event type.
func newCandidate(eventType EventType, members []Signal) Candidate {
	c := Candidate{
		EventType:   eventType,
		Signals:     members,
		SourceTypes: make(SourceSet, len(members)),
	}
	if len(members) == 0 {
		return c
	}

	sum := c.coordinateSum()
	n := float64(len(members))
	c.Centroid = Point{Lat: sum.Lat / n, Lng: sum.Lng / n}
	c.Window = TimeWindow{Start: members[0].OccurredAt, End: members[0].OccurredAt}

	best := -1
	for _, s := range members {
		c.SourceTypes[s.SourceType] = struct{}{}
		if s.OccurredAt.Before(c.Window.Start) {
			c.Window.Start = s.OccurredAt
		}
		if s.OccurredAt.After(c.Window.End) {
			c.Window.End = s.OccurredAt
		}
		if n := s.Address.Completeness(); n > best {
			best = n
			c.Address = s.Address
		}
	}
	return c
}

// BuildStats summarizes one candidate-building pass.
type BuildStats struct {
	Skipped              int // signals without coordinates
	SuppressedSignals    int
	SuppressedCandidates int
}

// BuildCandidates groups unclustered signals into candidates.
//
// Grouping is single-seed: each unassigned signal with coordinates seeds a
// group and pulls in every other unassigned signal of the same event type
// within MaxDistanceKm and TimeWindowHours of the seed itself. Matching is not
// transitive, so a chain of signals each near its neighbour can split across
// groups depending on input order. Callers pass signals in a stable order.
//
// Suppressed candidates are dropped and counted in the returned stats.
func BuildCandidates(signals []Signal, opts MatchOptions) ([]Candidate, BuildStats) {
	var stats BuildStats
	assigned := make([]bool, len(signals))
	var out []Candidate

	for i, seed := range signals {
		if assigned[i] {
			continue
		}
		if !seed.HasLocation() {
			stats.Skipped++
			assigned[i] = true
			continue
		}
		assigned[i] = true
		members := []Signal{seed}

		for j := i + 1; j < len(signals); j++ {
			other := signals[j]
			if assigned[j] || !other.HasLocation() || other.EventType != seed.EventType {
				continue
			}
			if DistanceKm(*seed.Location, *other.Location) > opts.MaxDistanceKm {
				continue
			}
			if HoursBetween(seed.OccurredAt, other.OccurredAt) > opts.TimeWindowHours {
				continue
			}
			assigned[j] = true
			members = append(members, other)
		}

		cand := newCandidate(seed.EventType, members)
		if cand.Suppressed() {
			stats.SuppressedCandidates++
			stats.SuppressedSignals += len(members)
			continue
		}
		out = append(out, cand)
	}
	return out, stats
}
