package domain

import (
	"encoding/json"
	"slices"
)

// MaxConfidence caps the additive confidence score.
const MaxConfidence = 100

// Weight is the fixed score contribution of a source type. Every recognized
// source type must have a case here; unrecognized types contribute nothing.
func (t SourceType) Weight() int {
	switch t {
	case SourceWeather:
		return 40
	case SourceFireReport:
		return 25
	case SourceCAD:
		return 20
	case SourceNews:
		return 15
	case SourceCommercialFire:
		return 20
	default:
		return 0
	}
}

// Known reports whether the source type has a scoring weight.
func (t SourceType) Known() bool { return t.Weight() > 0 }

// SourceSet is a set of distinct source types.
type SourceSet map[SourceType]struct{}

// NewSourceSet builds a set from the given types, dropping duplicates.
func NewSourceSet(types ...SourceType) SourceSet {
	s := make(SourceSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is in the set.
func (s SourceSet) Has(t SourceType) bool {
	_, ok := s[t]
	return ok
}

// Union returns a new set holding the members of both sets.
func (s SourceSet) Union(other SourceSet) SourceSet {
	out := make(SourceSet, len(s)+len(other))
	for t := range s {
		out[t] = struct{}{}
	}
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s SourceSet) Sorted() []SourceType {
	out := make([]SourceType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Strings returns the members as sorted strings, the form persisted in storage.
func (s SourceSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, t := range sorted {
		out[i] = string(t)
	}
	return out
}

// SourceSetFromStrings is the inverse of Strings.
func SourceSetFromStrings(values []string) SourceSet {
	s := make(SourceSet, len(values))
	for _, v := range values {
		s[SourceType(v)] = struct{}{}
	}
	return s
}

func (s SourceSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *SourceSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = SourceSetFromStrings(values)
	return nil
}

// Score maps a set of distinct source types to a 0–100 confidence score.
// Only presence matters, so the score depends on the set and not on how many
// signals of each type were seen. Contributions are non-negative, so adding a
// type to a set can never lower its score.
func Score(types SourceSet) int {
	total := 0
	for t := range types {
		total += t.Weight()
	}
	return min(total, MaxConfidence)
}

// VerificationStatus is the tier derived from a confidence score.
type VerificationStatus string

const (
	StatusProbable  VerificationStatus = "probable"
	StatusReported  VerificationStatus = "reported"
	StatusConfirmed VerificationStatus = "confirmed"
)

const (
	reportedThreshold  = 60
	confirmedThreshold = 86
)

// StatusForScore bands a confidence score into a verification tier:
// below 60 probable, 60–85 reported, 86 and above confirmed.
func StatusForScore(score int) VerificationStatus {
	switch {
	case score >= confirmedThreshold:
		return StatusConfirmed
	case score >= reportedThreshold:
		return StatusReported
	default:
		return StatusProbable
	}
}

// ParseVerificationStatus validates a tier name, e.g. from a query string.
func ParseVerificationStatus(s string) (VerificationStatus, bool) {
	switch VerificationStatus(s) {
	case StatusProbable, StatusReported, StatusConfirmed:
		return VerificationStatus(s), true
	default:
		return "", false
	}
}

// MinScore is the lowest confidence score that maps to the tier.
func (v VerificationStatus) MinScore() int {
	switch v {
	case StatusConfirmed:
		return confirmedThreshold
	case StatusReported:
		return reportedThreshold
	default:
		return 0
	}
}
