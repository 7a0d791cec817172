package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleCandidate(t *testing.T, signals ...Signal) Candidate {
	t.Helper()
	cands, _ := BuildCandidates(signals, DefaultMatchOptions())
	require.Len(t, cands, 1)
	return cands[0]
}

func TestNewCluster(t *testing.T) {
	now := t0.Add(48 * time.Hour)
	cand := singleCandidate(t,
		testSignal("A", EventFire, SourceWeather, 34.0, -118.0, t0, withAddress(Address{City: "Pasadena", State: "CA"})),
		testSignal("B", EventFire, SourceFireReport, 34.0+kmNorth(2), -118.0, t0.Add(3*time.Hour)),
	)

	c := NewCluster("c-1", cand, now)

	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, EventFire, c.EventType)
	assert.Equal(t, cand.Centroid, c.Center)
	assert.Equal(t, cand.Window, c.Window)
	assert.Equal(t, 65, c.ConfidenceScore)
	assert.Equal(t, StatusReported, c.VerificationStatus)
	assert.Equal(t, 2, c.SignalCount)
	assert.Equal(t, []string{"fire_report", "weather"}, c.SourceTypes.Strings())
	assert.Equal(t, Address{City: "Pasadena", State: "CA"}, c.Address)
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now, c.UpdatedAt)
}

func TestCluster_Absorb(t *testing.T) {
	created := t0.Add(time.Hour)
	base := NewCluster("c-1", singleCandidate(t,
		testSignal("A", EventFire, SourceWeather, 34.0, -118.0, t0),
		testSignal("B", EventFire, SourceFireReport, 34.0, -118.0, t0.Add(time.Hour)),
	), created)

	t.Run("adds sources and rescores", func(t *testing.T) {
		later := created.Add(time.Hour)
		cand := singleCandidate(t, testSignal("C", EventFire, SourceCAD, 34.0+kmNorth(3), -118.0, t0.Add(5*time.Hour)))

		got := base.Absorb(cand, later)

		assert.Equal(t, 85, got.ConfidenceScore)
		assert.Equal(t, StatusReported, got.VerificationStatus)
		assert.Equal(t, 3, got.SignalCount)
		assert.Equal(t, []string{"cad", "fire_report", "weather"}, got.SourceTypes.Strings())
		assert.InDelta(t, 34.0+kmNorth(1), got.Center.Lat, 1e-9, "count-weighted centroid")
		assert.Equal(t, TimeWindow{Start: t0, End: t0.Add(5 * time.Hour)}, got.Window)
		assert.Equal(t, created, got.CreatedAt)
		assert.Equal(t, later, got.UpdatedAt)
	})

	t.Run("confirmed once score passes threshold", func(t *testing.T) {
		withCAD := base.Absorb(singleCandidate(t, testSignal("C", EventFire, SourceCAD, 34, -118, t0)), created)
		got := withCAD.Absorb(singleCandidate(t, testSignal("D", EventFire, SourceNews, 34, -118, t0)), created)

		assert.Equal(t, 100, got.ConfidenceScore)
		assert.Equal(t, StatusConfirmed, got.VerificationStatus)
	})

	t.Run("score never decreases", func(t *testing.T) {
		high := base
		high.ConfidenceScore = 90
		high.VerificationStatus = StatusConfirmed

		got := high.Absorb(singleCandidate(t, testSignal("C", EventFire, SourceWeather, 34, -118, t0)), created)

		assert.Equal(t, 90, got.ConfidenceScore)
		assert.Equal(t, StatusConfirmed, got.VerificationStatus)
	})

	t.Run("status is re-derived from score", func(t *testing.T) {
		stale := base
		stale.VerificationStatus = StatusConfirmed

		got := stale.Absorb(singleCandidate(t, testSignal("C", EventFire, SourceWeather, 34, -118, t0)), created)

		assert.Equal(t, 65, got.ConfidenceScore)
		assert.Equal(t, StatusReported, got.VerificationStatus)
	})

	t.Run("more complete address replaces current", func(t *testing.T) {
		full := Address{Street: "1 Main", City: "Pasadena", State: "CA", Zip: "91101"}
		got := base.Absorb(singleCandidate(t, testSignal("C", EventFire, SourceNews, 34, -118, t0, withAddress(full))), created)
		assert.Equal(t, full, got.Address)

		partial := Address{City: "Altadena"}
		kept := got.Absorb(singleCandidate(t, testSignal("D", EventFire, SourceNews, 34, -118, t0, withAddress(partial))), created)
		assert.Equal(t, full, kept.Address)
	})

	t.Run("receiver is not modified", func(t *testing.T) {
		before := base.SourceTypes.Strings()
		_ = base.Absorb(singleCandidate(t, testSignal("C", EventFire, SourceNews, 34, -118, t0)), created)
		assert.Equal(t, before, base.SourceTypes.Strings())
		assert.Equal(t, 2, base.SignalCount)
	})
}

func TestClusterFilter_EffectiveMinConfidence(t *testing.T) {
	assert.Equal(t, 0, ClusterFilter{}.EffectiveMinConfidence())
	assert.Equal(t, 70, ClusterFilter{MinConfidence: 70}.EffectiveMinConfidence())
	assert.Equal(t, 86, ClusterFilter{Status: StatusConfirmed, MinConfidence: 70}.EffectiveMinConfidence())
	assert.Equal(t, 90, ClusterFilter{Status: StatusConfirmed, MinConfidence: 90}.EffectiveMinConfidence())
}

func TestClusterFilter_Matches(t *testing.T) {
	c := Cluster{
		EventType:          EventHail,
		Center:             Point{Lat: 32.75, Lng: -97.33},
		ConfidenceScore:    65,
		VerificationStatus: StatusReported,
		Address:            Address{State: "TX"},
	}

	tests := []struct {
		name   string
		filter ClusterFilter
		want   bool
	}{
		{"empty", ClusterFilter{}, true},
		{"event type match", ClusterFilter{EventType: EventHail}, true},
		{"event type mismatch", ClusterFilter{EventType: EventFire}, false},
		{"status match", ClusterFilter{Status: StatusReported}, true},
		{"status mismatch", ClusterFilter{Status: StatusConfirmed}, false},
		{"min confidence met", ClusterFilter{MinConfidence: 65}, true},
		{"min confidence not met", ClusterFilter{MinConfidence: 66}, false},
		{"state match", ClusterFilter{State: "TX"}, true},
		{"state mismatch", ClusterFilter{State: "OK"}, false},
		{"inside bbox", ClusterFilter{BBox: &BoundingBox{MinLat: 32, MinLng: -98, MaxLat: 33, MaxLng: -97}}, true},
		{"outside bbox", ClusterFilter{BBox: &BoundingBox{MinLat: 30, MinLng: -98, MaxLat: 31, MaxLng: -97}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(c))
		})
	}
}
