package models

import "time"

type SnapshotKind string

const (
	SnapshotInitRequest  SnapshotKind = "init_request"
	SnapshotInitResponse SnapshotKind = "init_response"
	SnapshotWebhook      SnapshotKind = "webhook"
	SnapshotVerification SnapshotKind = "verification"
)

// Snapshot is a raw audit payload. Snapshots are append-only and are only
// read for diagnostics.
type Snapshot struct {
	Reference string       `json:"reference" db:"reference"`
	Kind      SnapshotKind `json:"kind" db:"kind"`
	Payload   string       `json:"payload" db:"payload"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// LatestSnapshot returns the most recent snapshot of the given kind.
func LatestSnapshot(snapshots []Snapshot, kind SnapshotKind) (Snapshot, bool) {
	for i := len(snapshots) - 1; i >= 0; i-- {
		if snapshots[i].Kind == kind {
			return snapshots[i], true
		}
	}
	return Snapshot{}, false
}
