package domain

import "time"

// ClusterAction names the change a fusion pass made to a cluster.
type ClusterAction string

const (
	ClusterCreated ClusterAction = "created"
	ClusterUpdated ClusterAction = "updated"
)

// ClusterEvent announces a cluster change to downstream consumers. It carries
// the cluster state as of the end of the merge.
type ClusterEvent struct {
	Action     ClusterAction `json:"action"`
	Cluster    Cluster       `json:"cluster"`
	Linked     []string      `json:"linked_signal_ids"`
	OccurredAt time.Time     `json:"occurred_at"`
}
