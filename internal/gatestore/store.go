package gatestore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
	"github.com/meomeohuhu/ParkingDistributed/internal/clock"
)

// Store wraps the Gate's local gorm connection.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(AllTables()...)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// UpsertFromSnapshot overwrites occupied/plate/version/zone/x/y for every
// row the Cloud snapshot returned, exactly the reconvergence point spec.md
// §4.7's Snapshot Puller describes.
func (s *Store) UpsertFromSnapshot(ctx context.Context, slots []SlotLocal) error {
	if len(slots) == 0 {
		return nil
	}
	now := clock.Now()
	for i := range slots {
		slots[i].LastCloudSyncAt = &now
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slotid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"zone", "x", "y", "occupied", "plate", "version", "last_cloud_sync_at",
		}),
	}).Create(&slots).Error
}

// EnsureSlot makes sure a local row for slotID exists, inserting an
// unoccupied placeholder if not (spec.md §4.6 vehicle_in step 1).
func (s *Store) EnsureSlot(ctx context.Context, slotID string) error {
	var slot SlotLocal
	err := s.DB.WithContext(ctx).Where("slotid = ?", slotID).First(&slot).Error
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return apperr.Wrap("ensure_slot", "slot", apperr.Internal, err)
	}
	return s.DB.WithContext(ctx).Create(&SlotLocal{SlotID: slotID}).Error
}

// ApplyOccupy optimistically marks slotID occupied by plate, bumping its
// local version without regard to the Cloud's version (Open Question #2:
// the local version is never reconciled except by wholesale snapshot
// overwrite).
func (s *Store) ApplyOccupy(ctx context.Context, slotID, plate string) error {
	return s.DB.WithContext(ctx).Model(&SlotLocal{}).Where("slotid = ?", slotID).
		Updates(map[string]interface{}{
			"occupied": true, "plate": plate, "version": gorm.Expr("version + 1"),
		}).Error
}

// ApplyFree optimistically marks slotID free.
func (s *Store) ApplyFree(ctx context.Context, slotID string) error {
	return s.DB.WithContext(ctx).Model(&SlotLocal{}).Where("slotid = ?", slotID).
		Updates(map[string]interface{}{
			"occupied": false, "plate": nil, "version": gorm.Expr("version + 1"),
		}).Error
}

// FindOpenSlotByPlate returns the local slot currently marked occupied by
// plate, if any.
func (s *Store) FindOpenSlotByPlate(ctx context.Context, plate string) (*SlotLocal, error) {
	var slot SlotLocal
	err := s.DB.WithContext(ctx).Where("occupied = ? AND plate = ?", true, plate).First(&slot).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap("find_open_slot", "slot", apperr.Internal, err)
	}
	return &slot, nil
}

// ListSlots returns every local slot, ordered by slotid.
func (s *Store) ListSlots(ctx context.Context) ([]SlotLocal, error) {
	var slots []SlotLocal
	if err := s.DB.WithContext(ctx).Order("slotid").Find(&slots).Error; err != nil {
		return nil, apperr.Wrap("list_slots", "slots", apperr.Internal, err)
	}
	return slots, nil
}

// Enqueue durably appends an outbound event to the local outbox.
func (s *Store) Enqueue(ctx context.Context, eventID, eventType, payloadJSON string) error {
	return s.DB.WithContext(ctx).Create(&QueuedEvent{
		EventID: eventID, EventType: eventType, Payload: payloadJSON, Status: EventPending,
	}).Error
}

// PendingEvents returns up to limit pending events, oldest first, the
// order the Queue Drainer processes them in.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]QueuedEvent, error) {
	var events []QueuedEvent
	err := s.DB.WithContext(ctx).Where("status = ?", EventPending).
		Order("created_at ASC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, apperr.Wrap("pending_events", "queue", apperr.Internal, err)
	}
	return events, nil
}

// MarkDone flips a queued event to done, terminal regardless of whether
// the Cloud accepted or permanently rejected it (spec.md §7: CONFLICTs are
// marked done too, to prevent poison-pill retry loops).
func (s *Store) MarkDone(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Model(&QueuedEvent{}).Where("id = ?", id).
		Update("status", EventDone).Error
}

// MarkDoneByEventID flips a queued event to done by its event_id, used by
// callers that only have the id they minted, not the row's numeric id.
func (s *Store) MarkDoneByEventID(ctx context.Context, eventID string) error {
	return s.DB.WithContext(ctx).Model(&QueuedEvent{}).Where("event_id = ?", eventID).
		Update("status", EventDone).Error
}

// UpdatePayload rewrites a queued event's payload (used when the drainer
// upgrades a "local:" image path to a cloud path before retrying).
func (s *Store) UpdatePayload(ctx context.Context, id uint, payloadJSON string) error {
	return s.DB.WithContext(ctx).Model(&QueuedEvent{}).Where("id = ?", id).
		Update("payload", payloadJSON).Error
}

// AppendReconciliationReport records a terminal CONFLICT for operator
// inspection via GET /reconciliation_reports.
func (s *Store) AppendReconciliationReport(ctx context.Context, eventID, eventType, payloadJSON, reason string) error {
	return s.DB.WithContext(ctx).Create(&ReconciliationReport{
		EventID: eventID, EventType: eventType, Payload: payloadJSON, RejectedReason: reason,
	}).Error
}

// ListReconciliationReports returns every recorded report, newest first.
func (s *Store) ListReconciliationReports(ctx context.Context) ([]ReconciliationReport, error) {
	var reports []ReconciliationReport
	if err := s.DB.WithContext(ctx).Order("rejected_at DESC").Find(&reports).Error; err != nil {
		return nil, apperr.Wrap("list_reports", "reports", apperr.Internal, err)
	}
	return reports, nil
}

// SetSyncState upserts a sync_state key/value pair.
func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&SyncState{Key: key, Value: value}).Error
}

// GetSyncState reads a sync_state value, returning "" if unset.
func (s *Store) GetSyncState(ctx context.Context, key string) (string, error) {
	var row SyncState
	err := s.DB.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap("get_sync_state", "sync_state", apperr.Internal, err)
	}
	return row.Value, nil
}
