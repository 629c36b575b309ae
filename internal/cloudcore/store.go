package cloudcore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the durable gorm connection with the row-level operations the
// Mutation Engine needs. Every mutating method here is expected to run
// inside a *gorm.DB transaction handed in by the caller (Store.WithTx), per
// spec.md §4.1's "a transaction boundary wrapping the entire vehicle_in /
// vehicle_out effect".
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Migrate creates/updates every table AllTables() lists.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(AllTables()...)
}

// WithTx runs fn inside a single database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(fn)
}

// ErrNotFound is returned by lookups that find no row; callers translate it
// to apperr.NotFound at the boundary.
var ErrNotFound = gorm.ErrRecordNotFound

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// InsertProcessedEvent appends the dedup ledger row. The insert uses
// ON CONFLICT DO NOTHING, so a row whose EventID already exists is skipped
// without an error; callers detect "already processed" beforehand with
// EventAlreadyProcessed.
func InsertProcessedEvent(tx *gorm.DB, eventID, eventType, gateID string) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ProcessedEvent{EventID: eventID, EventType: eventType, GateID: gateID}).Error
}

// EventAlreadyProcessed checks the ledger for eventID.
func EventAlreadyProcessed(tx *gorm.DB, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	var count int64
	if err := tx.Model(&ProcessedEvent{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GateExists checks gates by id.
func GateExists(tx *gorm.DB, gateID string) (bool, error) {
	var count int64
	if err := tx.Model(&Gate{}).Where("gateid = ?", gateID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// LoadSlot fetches a slot row, locking it for update so concurrent
// vehicle_in/out on the same slot serialize on the row (spec.md §5(a)).
func LoadSlot(tx *gorm.DB, slotID string) (*Slot, error) {
	var slot Slot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("slotid = ?", slotID).First(&slot).Error; err != nil {
		return nil, err
	}
	return &slot, nil
}

// OpenVehicleForPlate returns the most recent open vehicle row for plate, if
// any.
func OpenVehicleForPlate(tx *gorm.DB, plate string) (*Vehicle, error) {
	var v Vehicle
	err := tx.Where("plate = ? AND time_out IS NULL", plate).
		Order("time_in DESC").First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// OpenTransactionForPlate returns the single open transaction for plate.
func OpenTransactionForPlate(tx *gorm.DB, plate string) (*Transaction, error) {
	var t Transaction
	err := tx.Where("plate = ? AND time_out IS NULL", plate).
		Order("time_in DESC").First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}
