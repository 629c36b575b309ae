// Package cloudcore is the Cloud's authoritative data model and mutation
// engine: the distributed state machine spec.md §3-§4 describes, built the
// way the teacher repo builds its parking domain (gorm structs with json
// tags, uint/string primary keys) generalized to the spec's entities.
package cloudcore

import "time"

// Gate is a physical entry/exit point. Immutable except LastSync.
type Gate struct {
	GateID   string     `gorm:"column:gateid;primaryKey;size:32" json:"gateid"`
	X        float64    `json:"x"`
	Y        float64    `json:"y"`
	LastSync *time.Time `json:"last_sync"`
	Role     string     `gorm:"size:16" json:"role"` // admin | guard
}

// Online reports whether the gate has heartbeat'd in the last 60 seconds
// relative to now.
func (g Gate) Online(now time.Time) bool {
	if g.LastSync == nil {
		return false
	}
	return now.Sub(*g.LastSync) < 60*time.Second
}

// Slot is an individually addressable parking space.
type Slot struct {
	SlotID   string  `gorm:"column:slotid;primaryKey;size:32" json:"slotid"`
	Zone     string  `gorm:"size:64" json:"zone"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Occupied bool    `json:"occupied"`
	Plate    *string `gorm:"size:32" json:"plate"`
	Version  int     `json:"version"`
}

// Vehicle is one open-or-closed park-and-leave presence record.
type Vehicle struct {
	ID       uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Plate    string     `gorm:"size:32;index" json:"plate"`
	SlotID   string     `gorm:"column:slotid;size:32" json:"slotid"`
	GateID   string     `gorm:"column:gateid;size:32" json:"gateid"`
	TimeIn   time.Time  `json:"time_in"`
	TimeOut  *time.Time `json:"time_out"`
}

// Open reports whether this vehicle has not yet left.
func (v Vehicle) Open() bool { return v.TimeOut == nil }

// Transaction is the billable record tied to one Vehicle's stay.
type Transaction struct {
	TransID         uint       `gorm:"column:trans_id;primaryKey;autoIncrement" json:"trans_id"`
	Plate           string     `gorm:"size:32;index" json:"plate"`
	SlotID          string     `gorm:"column:slotid;size:32" json:"slotid"`
	GateID          string     `gorm:"column:gateid;size:32" json:"gateid"`
	TimeIn          time.Time  `json:"time_in"`
	TimeOut         *time.Time `json:"time_out"`
	DurationMinutes *int       `json:"duration_minutes"`
	Fee             *int64     `json:"fee"`
	ImgIn           *string    `json:"img_in"`
	ImgOut          *string    `json:"img_out"`
	PaymentID       *string    `gorm:"column:payment_id;size:36" json:"payment_id"`
}

// Open reports whether this transaction has not yet closed.
func (t Transaction) Open() bool { return t.TimeOut == nil }

// ProcessedEvent is the append-only idempotency ledger: uniqueness of
// EventID across all gates is the whole dedup boundary.
type ProcessedEvent struct {
	EventID    string    `gorm:"column:event_id;primaryKey;size:64" json:"event_id"`
	EventType  string    `gorm:"size:32" json:"event_type"`
	GateID     string    `gorm:"column:gateid;size:32" json:"gateid"`
	ObservedAt time.Time `gorm:"autoCreateTime" json:"observed_at"`
}

// PaymentMethod enumerates spec.md §3's three payment methods.
type PaymentMethod string

const (
	MethodVietQR        PaymentMethod = "vietqr"
	MethodOnlineManual  PaymentMethod = "online_manual"
	MethodCash          PaymentMethod = "cash"
)

// PaymentStatus is PENDING -> PAID, terminal.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// Payment is a fee settlement tied to a plate at exit.
type Payment struct {
	PaymentID        string        `gorm:"column:payment_id;primaryKey;size:36" json:"payment_id"`
	Plate            string        `gorm:"size:32;index" json:"plate"`
	GateID           string        `gorm:"column:gateid;size:32" json:"gateid"`
	Amount           int64         `json:"amount"`
	Method           PaymentMethod `gorm:"size:16" json:"method"`
	Status           PaymentStatus `gorm:"size:16" json:"status"`
	TransferContent  string        `gorm:"size:64" json:"transfer_content"`
	CreatedAt        time.Time     `json:"created_at"`
	PaidAt           *time.Time    `json:"paid_at"`
}

// CloudUser is a seeded login identity bound to one gate and role. The
// identity source is out of scope (no external IdP); these rows are the
// whole "provider".
type CloudUser struct {
	Username string `gorm:"primaryKey;size:64" json:"username"`
	Password string `gorm:"size:100" json:"-"`
	GateID   string `gorm:"column:gateid;size:32" json:"gateid"`
	Role     string `gorm:"size:16" json:"role"` // admin | guard
}

// BankInfo is the fixed bank-transfer destination used to build VietQR URLs.
// Rendering the QR image itself is out of scope (an external collaborator);
// the Cloud only ever returns this plus a URL string.
var BankInfo = struct {
	BankCode    string
	AccountNo   string
	AccountName string
}{
	BankCode:    "MB",
	AccountNo:   "4506120217",
	AccountName: "NGUYEN THANH THINH",
}

// AllTables lists every gorm-managed model for AutoMigrate.
func AllTables() []interface{} {
	return []interface{}{
		&Gate{}, &Slot{}, &Vehicle{}, &Transaction{}, &ProcessedEvent{}, &Payment{}, &CloudUser{},
	}
}
