package cloudcore

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
	"github.com/meomeohuhu/ParkingDistributed/internal/clock"
)

// ComputeFee implements spec.md §4.8's fee schedule exactly as
// original_source's calc_fee: m = ceil minutes elapsed, h = ceil(m/60);
// fee = 5000 if h<=1 else 5000 + (h-1)*3000.
func ComputeFee(timeIn, timeOut time.Time) (fee int64, durationMinutes int) {
	minutes := int(math.Ceil(timeOut.Sub(timeIn).Seconds() / 60))
	if minutes < 0 {
		minutes = 0
	}
	hours := minutes / 60
	if minutes%60 > 0 {
		hours++
	}
	if hours <= 1 {
		return 5000, minutes
	}
	return int64(5000 + (hours-1)*3000), minutes
}

// FeeQuoteResult is the response to GET /fee?plate=.
type FeeQuoteResult struct {
	Plate           string
	Slot            string
	Gate            string
	TimeIn          time.Time
	TimeOut         time.Time
	DurationMinutes int
	Fee             int64
	TransID         uint
}

// FeeQuote computes what vehicle_out would charge right now, without
// mutating anything — the exit gate calls this before creating a payment
// intent (spec.md §4.8's step (a)).
func (e *Engine) FeeQuote(ctx context.Context, plate string) (*FeeQuoteResult, error) {
	plate = normalize(plate)
	trans, err := OpenTransactionForPlate(e.store.DB.WithContext(ctx), plate)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New("fee_quote", "transaction", apperr.NotFound, "vehicle not in yard")
		}
		return nil, apperr.Wrap("fee_quote", "transaction", apperr.Internal, err)
	}
	timeOut := clock.Now()
	fee, duration := ComputeFee(trans.TimeIn, timeOut)
	return &FeeQuoteResult{
		Plate: plate, Slot: trans.SlotID, Gate: trans.GateID,
		TimeIn: trans.TimeIn, TimeOut: timeOut,
		DurationMinutes: duration, Fee: fee, TransID: trans.TransID,
	}, nil
}

// VietQRURL builds the hosted VietQR image URL for amount/memo, per
// original_source's make_vietqr_url. Rendering/serving the PNG itself is
// out of scope; this returns a URL string only.
func VietQRURL(bankCode, accountNo string, amount int64, addInfo, accountName string) string {
	base := "https://img.vietqr.io/image/" + bankCode + "-" + accountNo + "-compact2.png"
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("addInfo", addInfo)
	q.Set("accountName", accountName)
	return base + "?" + q.Encode()
}

// CreateVietQRPayment inserts a PENDING payment and returns the URL the
// exit-gate UI shows for the customer to scan.
func (e *Engine) CreateVietQRPayment(ctx context.Context, plate, gate string, amount int64) (*Payment, string, error) {
	payment, err := e.createPendingPayment(ctx, plate, gate, amount, MethodVietQR)
	if err != nil {
		return nil, "", err
	}
	url := VietQRURL(BankInfo.BankCode, BankInfo.AccountNo, amount, payment.TransferContent, BankInfo.AccountName)
	return payment, url, nil
}

// CreateManualPayment inserts a PENDING online_manual payment (bank
// transfer confirmed by an operator, not an automated webhook).
func (e *Engine) CreateManualPayment(ctx context.Context, plate, gate string, amount int64) (*Payment, error) {
	return e.createPendingPayment(ctx, plate, gate, amount, MethodOnlineManual)
}

func (e *Engine) createPendingPayment(ctx context.Context, plate, gate string, amount int64, method PaymentMethod) (*Payment, error) {
	plate = normalize(plate)
	gate = normalize(gate)
	if plate == "" || amount <= 0 {
		return nil, apperr.New("create_payment", "input", apperr.BadInput, "missing plate/amount")
	}
	id := uuid.New().String()
	payment := Payment{
		PaymentID:       id,
		Plate:           plate,
		GateID:          gate,
		Amount:          amount,
		Method:          method,
		Status:          PaymentPending,
		TransferContent: "PARK-" + strings.ToUpper(id[:8]),
		CreatedAt:       clock.Now(),
	}
	if err := e.store.DB.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, apperr.Wrap("create_payment", "payment", apperr.Internal, err)
	}
	return &payment, nil
}

// ConfirmManualPayment transitions PENDING -> PAID and stamps paid_at.
func (e *Engine) ConfirmManualPayment(ctx context.Context, paymentID string) (*Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, apperr.New("confirm_payment", "input", apperr.BadInput, "missing payment_id")
	}
	now := clock.Now()
	var payment Payment
	err := e.store.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Payment{}).Where("payment_id = ?", paymentID).
			Updates(map[string]interface{}{"status": PaymentPaid, "paid_at": now})
		if res.Error != nil {
			return apperr.Wrap("confirm_payment", "payment", apperr.Internal, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.New("confirm_payment", "payment", apperr.NotFound, "payment not found")
		}
		return tx.Where("payment_id = ?", paymentID).First(&payment).Error
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ConfirmCashPayment inserts a payment directly as PAID (cash is settled at
// the gate, no pending step).
func (e *Engine) ConfirmCashPayment(ctx context.Context, plate, gate string, amount int64) (*Payment, error) {
	plate = normalize(plate)
	gate = normalize(gate)
	if plate == "" || amount <= 0 {
		return nil, apperr.New("confirm_cash", "input", apperr.BadInput, "missing plate/amount")
	}
	now := clock.Now()
	id := uuid.New().String()
	payment := Payment{
		PaymentID: id, Plate: plate, GateID: gate, Amount: amount,
		Method: MethodCash, Status: PaymentPaid, CreatedAt: now, PaidAt: &now,
	}
	if err := e.store.DB.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, apperr.Wrap("confirm_cash", "payment", apperr.Internal, err)
	}
	return &payment, nil
}

// LinkPayment stamps payment_id onto the closing transaction for plate, so
// a confirmed payment is traceable from the Transaction row (spec.md §3's
// "the resulting payment_id is written onto the closing Transaction").
func (e *Engine) LinkPayment(ctx context.Context, plate, paymentID string) error {
	plate = normalize(plate)
	var trans Transaction
	err := e.store.DB.WithContext(ctx).
		Where("plate = ? AND time_out IS NOT NULL AND payment_id IS NULL", plate).
		Order("time_in DESC").First(&trans).Error
	if isNotFound(err) {
		return apperr.New("link_payment", "transaction", apperr.NotFound, "no closed transaction awaiting payment")
	}
	if err != nil {
		return apperr.Wrap("link_payment", "transaction", apperr.Internal, err)
	}
	if err := e.store.DB.WithContext(ctx).Model(&Transaction{}).
		Where("trans_id = ?", trans.TransID).Update("payment_id", paymentID).Error; err != nil {
		return apperr.Wrap("link_payment", "transaction", apperr.Internal, err)
	}
	return nil
}
