// Package gatestore is the Gate Local Store of spec.md §4.5: a single
// sqlite file holding a mirror of the slots the gate cares about, a
// durable outbound event queue, small sync-state key/value pairs, and the
// supplemented reconciliation report surface. Single-writer discipline:
// the only mutators are the Gate Local API handlers and the two
// reconciler workers, all in one process (spec.md §5).
package gatestore

import "time"

// SlotLocal mirrors cloudcore.Slot, plus bookkeeping of when it was last
// refreshed from a Cloud snapshot.
type SlotLocal struct {
	SlotID          string  `gorm:"column:slotid;primaryKey;size:32" json:"slotid"`
	Zone            string  `gorm:"size:64" json:"zone"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Occupied        bool    `json:"occupied"`
	Plate           *string `gorm:"size:32" json:"plate"`
	Version         int     `json:"version"`
	LastCloudSyncAt *time.Time `json:"last_cloud_sync_at"`
}

// QueuedEvent is one outbound vehicle_in/vehicle_out waiting to be pushed
// to the Cloud; the durable outbox backing offline operation.
type QueuedEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID   string    `gorm:"column:event_id;uniqueIndex;size:64" json:"event_id"`
	EventType string    `gorm:"size:32" json:"event_type"`
	Payload   string    `gorm:"type:text" json:"payload"` // JSON-encoded
	Status    string    `gorm:"size:16;index" json:"status"` // pending | done
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const (
	EventPending = "pending"
	EventDone    = "done"
)

// SyncState is a generic key/value row; this store only ever uses one key,
// "last_cloud_ok_at", but the shape is open-ended like the teacher's
// small side tables.
type SyncState struct {
	Key   string `gorm:"primaryKey;size:64" json:"key"`
	Value string `gorm:"size:128" json:"value"`
}

const KeyLastCloudOKAt = "last_cloud_ok_at"

// ReconciliationReport records one queued event the Cloud permanently
// rejected with CONFLICT, so a human can resolve the real-world
// discrepancy spec.md §7 says the design cannot auto-heal.
type ReconciliationReport struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID         string    `gorm:"column:event_id;size:64" json:"event_id"`
	EventType       string    `gorm:"size:32" json:"event_type"`
	Payload         string    `gorm:"type:text" json:"payload"`
	RejectedReason  string    `gorm:"type:text" json:"rejected_reason"`
	RejectedAt      time.Time `gorm:"autoCreateTime" json:"rejected_at"`
}

// AllTables lists every gorm-managed model for AutoMigrate.
func AllTables() []interface{} {
	return []interface{}{
		&SlotLocal{}, &QueuedEvent{}, &SyncState{}, &ReconciliationReport{},
	}
}
