package domain

import "time"

// Cluster is the deduplicated, confidence-scored record of one inferred
// incident. Its event type is fixed at creation.
type Cluster struct {
	ID                 string             `json:"id"`
	EventType          EventType          `json:"event_type"`
	Center             Point              `json:"center"`
	Window             TimeWindow         `json:"time_window"`
	ConfidenceScore    int                `json:"confidence_score"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	SignalCount        int                `json:"signal_count"`
	SourceTypes        SourceSet          `json:"source_types"`
	Address            Address            `json:"address"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewCluster builds a cluster from a candidate. The caller assigns the ID.
func NewCluster(id string, c Candidate, now time.Time) Cluster {
	score := Score(c.SourceTypes)
	return Cluster{
		ID:                 id,
		EventType:          c.EventType,
		Center:             c.Centroid,
		Window:             c.Window,
		ConfidenceScore:    score,
		VerificationStatus: StatusForScore(score),
		SignalCount:        len(c.Signals),
		SourceTypes:        c.SourceTypes,
		Address:            c.Address,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Absorb folds a candidate into an existing cluster. Every candidate signal
// is assumed to be newly linked to this cluster. The centroid is recomputed as
// the mean over all members, the score is recomputed from the union of source
// types and never drops below its previous value, and the status is always
// re-derived from the score.
func (c Cluster) Absorb(cand Candidate, now time.Time) Cluster {
	out := c
	out.SourceTypes = c.SourceTypes.Union(cand.SourceTypes)
	out.ConfidenceScore = max(c.ConfidenceScore, Score(out.SourceTypes))
	out.VerificationStatus = StatusForScore(out.ConfidenceScore)

	if n := len(cand.Signals); n > 0 {
		total := float64(c.SignalCount + n)
		sum := cand.coordinateSum()
		out.Center = Point{
			Lat: (c.Center.Lat*float64(c.SignalCount) + sum.Lat) / total,
			Lng: (c.Center.Lng*float64(c.SignalCount) + sum.Lng) / total,
		}
		out.SignalCount = c.SignalCount + n
		out.Window = c.Window.Union(cand.Window)
	}

	if cand.Address.Completeness() > c.Address.Completeness() {
		out.Address = cand.Address
	}
	out.UpdatedAt = now
	return out
}

// Membership links one signal to one cluster.
type Membership struct {
	ClusterID string `json:"cluster_id"`
	SignalID  string `json:"signal_id"`
}

// ClusterDetail is a cluster together with its linked signals.
type ClusterDetail struct {
	Cluster Cluster  `json:"cluster"`
	Signals []Signal `json:"signals"`
}

// ClusterFilter narrows a cluster listing. Zero values mean "no filter".
type ClusterFilter struct {
	EventType     EventType
	Status        VerificationStatus
	MinConfidence int
	State         string
	BBox          *BoundingBox
	Limit         int
	Offset        int
}

// DefaultClusterLimit and MaxClusterLimit bound list queries.
const (
	DefaultClusterLimit = 100
	MaxClusterLimit     = 1000
)

// EffectiveMinConfidence combines MinConfidence and the lower bound of Status.
func (f ClusterFilter) EffectiveMinConfidence() int {
	if f.Status != "" {
		return max(f.MinConfidence, f.Status.MinScore())
	}
	return f.MinConfidence
}

// Matches reports whether a cluster passes the filter. Pagination is not
// applied here.
func (f ClusterFilter) Matches(c Cluster) bool {
	if f.EventType != "" && c.EventType != f.EventType {
		return false
	}
	if f.Status != "" && c.VerificationStatus != f.Status {
		return false
	}
	if c.ConfidenceScore < f.MinConfidence {
		return false
	}
	if f.State != "" && c.Address.State != f.State {
		return false
	}
	if f.BBox != nil && !f.BBox.Contains(c.Center) {
		return false
	}
	return true
}
