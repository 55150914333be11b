package domain

import (
	"time"

	"github.com/google/uuid"
)

// StudentInfo is embedded in an Order. Name, ID and Email are required together.
type StudentInfo struct {
	Name  string `json:"name"`
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s StudentInfo) IsZero() bool {
	return s.Name == "" && s.ID == "" && s.Email == ""
}

func (s StudentInfo) Complete() bool {
	return s.Name != "" && s.ID != "" && s.Email != ""
}

// DefaultStudentInfo is stored when a payment is created without student details.
var DefaultStudentInfo = StudentInfo{
	Name:  "Unknown Student",
	ID:    "unknown",
	Email: "unknown@example.com",
}

// Order is a payment-collection intent. It is never updated after creation.
type Order struct {
	ID            uuid.UUID   `json:"id"`
	CustomOrderID *string     `json:"custom_order_id,omitempty"`
	SchoolID      string      `json:"school_id"`
	TrusteeID     string      `json:"trustee_id"`
	StudentInfo   StudentInfo `json:"student_info"`
	GatewayName   string      `json:"gateway_name"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
