package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is free-form: the gateway may report values beyond the known ones.
type PaymentStatus string

const (
	PaymentNotInitiated PaymentStatus = "NOT_INITIATED"
	PaymentPending      PaymentStatus = "PENDING"
	PaymentSuccess      PaymentStatus = "SUCCESS"
	PaymentFailed       PaymentStatus = "FAILED"
)

// PaymentModeNotInitiated is the payment mode of a freshly created status.
const PaymentModeNotInitiated = "Not initiated"

// Unsettled reports whether the status still waits for a gateway outcome.
func (s PaymentStatus) Unsettled() bool {
	return s == PaymentNotInitiated || s == PaymentPending
}

// OrderStatus is the mutable lifecycle record of exactly one Order.
// OrderID is a lookup key; the Order is not loaded with it.
type OrderStatus struct {
	ID                uuid.UUID     `json:"id"`
	OrderID           uuid.UUID     `json:"collect_id"`
	CollectRequestID  *string       `json:"collect_request_id,omitempty"`
	Degraded          bool          `json:"degraded"`
	OrderAmount       float64       `json:"order_amount"`
	TransactionAmount float64       `json:"transaction_amount"`
	PaymentMode       string        `json:"payment_mode"`
	PaymentDetails    *string       `json:"payment_details,omitempty"`
	BankReference     *string       `json:"bank_reference,omitempty"`
	PaymentMessage    *string       `json:"payment_message,omitempty"`
	Status            PaymentStatus `json:"status"`
	ErrorMessage      *string       `json:"error_message,omitempty"`
	PaymentTime       time.Time     `json:"payment_time"`
	Version           int           `json:"version"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// OrderStatusDetail is an OrderStatus joined with its Order.
type OrderStatusDetail struct {
	OrderStatus
	Order *Order `json:"order"`
}

// StatusUpdate is the mutation applied to an OrderStatus. Nil pointers leave the
// column untouched.
type StatusUpdate struct {
	Status            PaymentStatus
	PaymentTime       time.Time
	PaymentDetails    *string
	BankReference     *string
	PaymentMode       *string
	PaymentMessage    *string
	ErrorMessage      *string
	TransactionAmount *float64

	// NotAfter, when set, skips the update if the stored payment_time is newer.
	NotAfter *time.Time
	// ExpectVersion, when set, skips the update unless the stored version matches.
	ExpectVersion *int
}
