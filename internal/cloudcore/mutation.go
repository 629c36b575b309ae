package cloudcore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
	"github.com/meomeohuhu/ParkingDistributed/internal/clock"
)

const defaultReservationTTL = 15 * time.Second

// Engine is the Cloud Mutation Engine: VehicleIn, VehicleOut, DeleteSlot and
// LayoutGrid each run inside one store transaction; the other methods are
// single statements or reads. It enforces spec.md §3's invariants, grounded on
// original_source/parking-cloud/gates_api.py's vehicle_in/vehicle_out
// handlers generalized from raw SQL into gorm calls.
type Engine struct {
	store        *Store
	reservations ReservationRegistry
	bus          Broadcaster
}

func NewEngine(store *Store, reservations ReservationRegistry, bus Broadcaster) *Engine {
	if bus == nil {
		bus = NopBroadcaster{}
	}
	return &Engine{store: store, reservations: reservations, bus: bus}
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// VehicleInInput carries the request fields for vehicle_in.
type VehicleInInput struct {
	Plate   string
	Gate    string
	Slot    string
	ImgIn   string
	EventID string
}

// VehicleInResult is returned on success; Dedup is true when the event_id
// had already been processed and nothing new was written.
type VehicleInResult struct {
	Dedup bool
}

// VehicleIn implements spec.md §4.3's ten-step transaction.
func (e *Engine) VehicleIn(ctx context.Context, in VehicleInInput) (VehicleInResult, error) {
	plate := normalize(in.Plate)
	gate := normalize(in.Gate)
	slot := normalize(in.Slot)
	eventID := strings.TrimSpace(in.EventID)

	if plate == "" || gate == "" || slot == "" {
		return VehicleInResult{}, apperr.New("vehicle_in", "input", apperr.BadInput, "missing plate/gate/slot")
	}

	var dedup bool
	err := e.store.WithTx(ctx, func(tx *gorm.DB) error {
		already, err := EventAlreadyProcessed(tx, eventID)
		if err != nil {
			return apperr.Wrap("vehicle_in", "dedup", apperr.Internal, err)
		}
		if already {
			dedup = true
			return nil
		}

		exists, err := GateExists(tx, gate)
		if err != nil {
			return apperr.Wrap("vehicle_in", "gate", apperr.Internal, err)
		}
		if !exists {
			return apperr.New("vehicle_in", "gate", apperr.NotFound, "gate does not exist")
		}

		slotRow, err := LoadSlot(tx, slot)
		if err != nil {
			if isNotFound(err) {
				return apperr.New("vehicle_in", "slot", apperr.NotFound, "slot does not exist")
			}
			return apperr.Wrap("vehicle_in", "slot", apperr.Internal, err)
		}
		if slotRow.Occupied {
			return apperr.New("vehicle_in", "slot", apperr.Conflict, fmt.Sprintf("slot %s occupied", slot))
		}

		if _, err := OpenVehicleForPlate(tx, plate); err == nil {
			return apperr.New("vehicle_in", "plate", apperr.Conflict, fmt.Sprintf("plate %s already in yard", plate))
		} else if !isNotFound(err) {
			return apperr.Wrap("vehicle_in", "plate", apperr.Internal, err)
		}

		owner, _, err := e.reservations.Inspect(ctx, slot)
		if err != nil {
			return apperr.Wrap("vehicle_in", "reservation", apperr.Internal, err)
		}
		if owner != "" && owner != gate {
			return apperr.New("vehicle_in", "reservation", apperr.Conflict, fmt.Sprintf("slot %s held by gate %s", slot, owner))
		}

		if err := tx.Model(&Slot{}).Where("slotid = ?", slot).
			Updates(map[string]interface{}{
				"occupied": true,
				"plate":    plate,
				"version":  gorm.Expr("version + 1"),
			}).Error; err != nil {
			return apperr.Wrap("vehicle_in", "slot", apperr.Internal, err)
		}

		now := clock.Now()
		var imgIn *string
		if in.ImgIn != "" {
			imgIn = &in.ImgIn
		}
		if err := tx.Create(&Vehicle{Plate: plate, SlotID: slot, GateID: gate, TimeIn: now}).Error; err != nil {
			return apperr.Wrap("vehicle_in", "vehicle", apperr.Internal, err)
		}
		if err := tx.Create(&Transaction{Plate: plate, SlotID: slot, GateID: gate, TimeIn: now, ImgIn: imgIn}).Error; err != nil {
			return apperr.Wrap("vehicle_in", "transaction", apperr.Internal, err)
		}
		if eventID != "" {
			if err := InsertProcessedEvent(tx, eventID, "vehicle_in", gate); err != nil {
				return apperr.Wrap("vehicle_in", "ledger", apperr.Internal, err)
			}
		}
		return nil
	})
	if err != nil {
		return VehicleInResult{}, err
	}
	if dedup {
		return VehicleInResult{Dedup: true}, nil
	}

	// Outside the transaction: release the reservation and fan out.
	_ = e.reservations.Release(ctx, slot)
	e.bus.Broadcast("slot_update", map[string]interface{}{
		"slotId": slot, "occupied": true, "plate": plate,
	})
	e.bus.Broadcast("vehicle_in", map[string]interface{}{
		"plate": plate, "slot": slot, "gate": gate,
	})
	return VehicleInResult{}, nil
}

// VehicleOutInput carries the request fields for vehicle_out.
type VehicleOutInput struct {
	Plate   string
	Gate    string
	ImgOut  string
	EventID string
}

// VehicleOutResult reports the computed fee and freed slot.
type VehicleOutResult struct {
	Dedup           bool
	Slot            string
	DurationMinutes int
	Fee             int64
}

// VehicleOut implements spec.md §4.3's vehicle_out transaction plus §4.8's
// fee computation.
func (e *Engine) VehicleOut(ctx context.Context, in VehicleOutInput) (VehicleOutResult, error) {
	plate := normalize(in.Plate)
	gate := normalize(in.Gate)
	eventID := strings.TrimSpace(in.EventID)

	if plate == "" {
		return VehicleOutResult{}, apperr.New("vehicle_out", "input", apperr.BadInput, "missing plate")
	}

	var result VehicleOutResult
	var dedup bool
	err := e.store.WithTx(ctx, func(tx *gorm.DB) error {
		already, err := EventAlreadyProcessed(tx, eventID)
		if err != nil {
			return apperr.Wrap("vehicle_out", "dedup", apperr.Internal, err)
		}
		if already {
			dedup = true
			return nil
		}

		vehicle, err := OpenVehicleForPlate(tx, plate)
		if err != nil {
			if isNotFound(err) {
				return apperr.New("vehicle_out", "vehicle", apperr.NotFound, "vehicle not in yard")
			}
			return apperr.Wrap("vehicle_out", "vehicle", apperr.Internal, err)
		}

		timeOut := clock.Now()
		fee, duration := ComputeFee(vehicle.TimeIn, timeOut)

		if err := tx.Model(&Slot{}).Where("slotid = ?", vehicle.SlotID).
			Updates(map[string]interface{}{
				"occupied": false,
				"plate":    nil,
				"version":  gorm.Expr("version + 1"),
			}).Error; err != nil {
			return apperr.Wrap("vehicle_out", "slot", apperr.Internal, err)
		}

		if err := tx.Model(&Vehicle{}).Where("id = ?", vehicle.ID).
			Update("time_out", timeOut).Error; err != nil {
			return apperr.Wrap("vehicle_out", "vehicle", apperr.Internal, err)
		}

		trans, err := OpenTransactionForPlate(tx, plate)
		if err != nil {
			if isNotFound(err) {
				return apperr.New("vehicle_out", "transaction", apperr.NotFound, "no open transaction")
			}
			return apperr.Wrap("vehicle_out", "transaction", apperr.Internal, err)
		}
		var imgOut *string
		if in.ImgOut != "" {
			imgOut = &in.ImgOut
		}
		if err := tx.Model(&Transaction{}).Where("trans_id = ?", trans.TransID).
			Updates(map[string]interface{}{
				"time_out":         timeOut,
				"duration_minutes": duration,
				"fee":              fee,
				"img_out":          imgOut,
			}).Error; err != nil {
			return apperr.Wrap("vehicle_out", "transaction", apperr.Internal, err)
		}

		if eventID != "" {
			if err := InsertProcessedEvent(tx, eventID, "vehicle_out", gate); err != nil {
				return apperr.Wrap("vehicle_out", "ledger", apperr.Internal, err)
			}
		}

		result = VehicleOutResult{Slot: vehicle.SlotID, DurationMinutes: duration, Fee: fee}
		return nil
	})
	if err != nil {
		return VehicleOutResult{}, err
	}
	if dedup {
		return VehicleOutResult{Dedup: true}, nil
	}

	e.bus.Broadcast("slot_update", map[string]interface{}{
		"slotId": result.Slot, "occupied": false, "plate": nil,
	})
	e.bus.Broadcast("vehicle_out", map[string]interface{}{
		"plate": plate, "slot": result.Slot, "gate": gate,
	})
	return result, nil
}

// SuggestSlot returns the free slot Euclidean-closest to gate's (x,y), ties
// broken lexicographically by slotid; nil if all occupied.
func (e *Engine) SuggestSlot(ctx context.Context, gateID string) (*Slot, float64, error) {
	gateID = normalize(gateID)
	var gate Gate
	if err := e.store.DB.WithContext(ctx).Where("gateid = ?", gateID).First(&gate).Error; err != nil {
		if isNotFound(err) {
			return nil, 0, apperr.New("suggest_slot", "gate", apperr.NotFound, "gate does not exist")
		}
		return nil, 0, apperr.Wrap("suggest_slot", "gate", apperr.Internal, err)
	}

	var free []Slot
	if err := e.store.DB.WithContext(ctx).Where("occupied = ?", false).Find(&free).Error; err != nil {
		return nil, 0, apperr.Wrap("suggest_slot", "slots", apperr.Internal, err)
	}
	if len(free) == 0 {
		return nil, 0, nil
	}

	sort.Slice(free, func(i, j int) bool {
		di := distance(gate.X, gate.Y, free[i].X, free[i].Y)
		dj := distance(gate.X, gate.Y, free[j].X, free[j].Y)
		if di != dj {
			return di < dj
		}
		return free[i].SlotID < free[j].SlotID
	})
	best := free[0]
	return &best, distance(gate.X, gate.Y, best.X, best.Y), nil
}

func distance(x1, y1, x2, y2 float64) float64 {
	dx, dy := x1-x2, y1-y2
	return math.Sqrt(dx*dx + dy*dy)
}

// SlotWithDistance is the DTO slots_for_gate returns.
type SlotWithDistance struct {
	Slot
	Distance float64 `json:"distance"`
}

// SlotsForGate returns every slot annotated with distance to gate, sorted
// ascending.
func (e *Engine) SlotsForGate(ctx context.Context, gateID string) ([]SlotWithDistance, error) {
	gateID = normalize(gateID)
	var gate Gate
	if err := e.store.DB.WithContext(ctx).Where("gateid = ?", gateID).First(&gate).Error; err != nil {
		if isNotFound(err) {
			return nil, apperr.New("slots_for_gate", "gate", apperr.NotFound, "gate does not exist")
		}
		return nil, apperr.Wrap("slots_for_gate", "gate", apperr.Internal, err)
	}

	var slots []Slot
	if err := e.store.DB.WithContext(ctx).Find(&slots).Error; err != nil {
		return nil, apperr.Wrap("slots_for_gate", "slots", apperr.Internal, err)
	}

	out := make([]SlotWithDistance, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotWithDistance{Slot: s, Distance: distance(gate.X, gate.Y, s.X, s.Y)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// SlotsMap returns every slot, unsorted-by-distance (ordered by slotid).
func (e *Engine) SlotsMap(ctx context.Context) ([]Slot, error) {
	var slots []Slot
	if err := e.store.DB.WithContext(ctx).Order("slotid").Find(&slots).Error; err != nil {
		return nil, apperr.Wrap("slots_map", "slots", apperr.Internal, err)
	}
	return slots, nil
}

// SlotInfoResult is the current open vehicle joined with its open
// transaction's image paths.
type SlotInfoResult struct {
	Vehicle
	ImgIn  *string `json:"img_in"`
	ImgOut *string `json:"img_out"`
}

// SlotInfo returns the open vehicle/transaction info for slotID, or nil.
func (e *Engine) SlotInfo(ctx context.Context, slotID string) (*SlotInfoResult, error) {
	slotID = normalize(slotID)
	var vehicle Vehicle
	err := e.store.DB.WithContext(ctx).
		Where("slotid = ? AND time_out IS NULL", slotID).
		Order("time_in DESC").First(&vehicle).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap("slot_info", "vehicle", apperr.Internal, err)
	}

	var trans Transaction
	err = e.store.DB.WithContext(ctx).
		Where("plate = ? AND time_out IS NULL", vehicle.Plate).
		Order("time_in DESC").First(&trans).Error
	result := &SlotInfoResult{Vehicle: vehicle}
	if err == nil {
		result.ImgIn = trans.ImgIn
		result.ImgOut = trans.ImgOut
	} else if !isNotFound(err) {
		return nil, apperr.Wrap("slot_info", "transaction", apperr.Internal, err)
	}
	return result, nil
}

// AddSlot creates a new unoccupied slot.
func (e *Engine) AddSlot(ctx context.Context, slotID, zone string, x, y float64) error {
	slotID = normalize(slotID)
	if slotID == "" {
		return apperr.New("add_slot", "input", apperr.BadInput, "missing slotid")
	}
	slot := Slot{SlotID: slotID, Zone: zone, X: x, Y: y, Occupied: false}
	if err := e.store.DB.WithContext(ctx).Create(&slot).Error; err != nil {
		return apperr.Wrap("add_slot", "slot", apperr.Internal, err)
	}
	return nil
}

// UpdateSlot edits geometry/zone only.
func (e *Engine) UpdateSlot(ctx context.Context, slotID, zone string, x, y float64) error {
	slotID = normalize(slotID)
	res := e.store.DB.WithContext(ctx).Model(&Slot{}).Where("slotid = ?", slotID).
		Updates(map[string]interface{}{"zone": zone, "x": x, "y": y})
	if res.Error != nil {
		return apperr.Wrap("update_slot", "slot", apperr.Internal, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New("update_slot", "slot", apperr.NotFound, "slot does not exist")
	}
	return nil
}

// DeleteSlot fails with Conflict if the slot is occupied.
func (e *Engine) DeleteSlot(ctx context.Context, slotID string) error {
	slotID = normalize(slotID)
	return e.store.WithTx(ctx, func(tx *gorm.DB) error {
		slot, err := LoadSlot(tx, slotID)
		if err != nil {
			if isNotFound(err) {
				return apperr.New("delete_slot", "slot", apperr.NotFound, "slot does not exist")
			}
			return apperr.Wrap("delete_slot", "slot", apperr.Internal, err)
		}
		if slot.Occupied {
			return apperr.New("delete_slot", "slot", apperr.Conflict, "slot is occupied")
		}
		if err := tx.Where("slotid = ?", slotID).Delete(&Slot{}).Error; err != nil {
			return apperr.Wrap("delete_slot", "slot", apperr.Internal, err)
		}
		return nil
	})
}

// LayoutGrid re-numbers every slot's (x,y) onto a width-wide grid in slotid
// order, grounded on original_source/parking-cloud/gate_monitor.py's
// one-off seed script.
func (e *Engine) LayoutGrid(ctx context.Context, width int) error {
	if width <= 0 {
		return apperr.New("layout_grid", "input", apperr.BadInput, "width must be positive")
	}
	var slots []Slot
	if err := e.store.DB.WithContext(ctx).Order("slotid").Find(&slots).Error; err != nil {
		return apperr.Wrap("layout_grid", "slots", apperr.Internal, err)
	}
	return e.store.WithTx(ctx, func(tx *gorm.DB) error {
		for idx, s := range slots {
			x := float64(idx % width)
			y := float64(idx / width)
			if err := tx.Model(&Slot{}).Where("slotid = ?", s.SlotID).
				Updates(map[string]interface{}{"x": x, "y": y}).Error; err != nil {
				return apperr.Wrap("layout_grid", "slot", apperr.Internal, err)
			}
		}
		return nil
	})
}

// Heartbeat touches a gate's last_sync outside any mutation transaction,
// per spec.md §9's resolved Open Question: heartbeats are not coordinated
// with mutation transactions by design.
func (e *Engine) Heartbeat(ctx context.Context, gateID string) error {
	gateID = normalize(gateID)
	now := clock.Now()
	res := e.store.DB.WithContext(ctx).Model(&Gate{}).Where("gateid = ?", gateID).
		Update("last_sync", now)
	if res.Error != nil {
		return apperr.Wrap("heartbeat", "gate", apperr.Internal, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New("heartbeat", "gate", apperr.NotFound, "gate does not exist")
	}
	return nil
}

// ListGates returns every gate annotated with Online().
func (e *Engine) ListGates(ctx context.Context) ([]Gate, error) {
	var gates []Gate
	if err := e.store.DB.WithContext(ctx).Order("gateid").Find(&gates).Error; err != nil {
		return nil, apperr.Wrap("list_gates", "gates", apperr.Internal, err)
	}
	return gates, nil
}

// DefaultReservationTTL reports the TTL ReserveSlot applies when it is
// given a ttl of zero or less.
func DefaultReservationTTL() time.Duration { return defaultReservationTTL }

// ReserveSlot is the public entry to the Reservation Registry spec.md
// §4.2 describes: a soft, TTL-bounded pre-claim that vehicle_in rechecks
// inside its own transaction.
func (e *Engine) ReserveSlot(ctx context.Context, gate, slot string, ttl time.Duration) error {
	gate = normalize(gate)
	slot = normalize(slot)
	if gate == "" || slot == "" {
		return apperr.New("reserve_slot", "input", apperr.BadInput, "missing gate/slot")
	}
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	if err := e.reservations.Reserve(ctx, gate, slot, ttl); err != nil {
		if held, ok := err.(*ErrHeldByOtherGate); ok {
			return apperr.New("reserve_slot", "reservation", apperr.Conflict, held.Error())
		}
		return apperr.Wrap("reserve_slot", "reservation", apperr.Internal, err)
	}
	return nil
}

// ReservationInfo reports the live reservation (if any) for a slot.
type ReservationInfo struct {
	SlotID    string
	Owner     string
	Remaining time.Duration
}

// InspectReservation is the public entry to Reservation Registry.Inspect.
func (e *Engine) InspectReservation(ctx context.Context, slot string) (ReservationInfo, error) {
	slot = normalize(slot)
	owner, remaining, err := e.reservations.Inspect(ctx, slot)
	if err != nil {
		return ReservationInfo{}, apperr.Wrap("inspect_reservation", "reservation", apperr.Internal, err)
	}
	return ReservationInfo{SlotID: slot, Owner: owner, Remaining: remaining}, nil
}

// ListTransactions returns the most recent transactions, newest first, for
// GET /transactions. limit<=0 defaults to 100.
func (e *Engine) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var trans []Transaction
	if err := e.store.DB.WithContext(ctx).Order("time_in DESC").Limit(limit).Find(&trans).Error; err != nil {
		return nil, apperr.Wrap("list_transactions", "transactions", apperr.Internal, err)
	}
	return trans, nil
}
