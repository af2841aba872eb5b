package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftStatusPending   ShiftStatus = "PENDING"
	ShiftStatusActive    ShiftStatus = "ACTIVE"
	ShiftStatusCompleted ShiftStatus = "COMPLETED"
	ShiftStatusCancelled ShiftStatus = "CANCELLED"
)

type Shift struct {
	ID                string           `json:"id"`
	StoreID           string           `json:"store_id"`
	UserID            string           `json:"user_id"`
	ShiftDate         string           `json:"shift_date"`
	ExpectedStartTime *time.Time       `json:"expected_start_time,omitempty"`
	ExpectedEndTime   *time.Time       `json:"expected_end_time,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	EndedBy           string           `json:"ended_by,omitempty"`
	StartingCash      decimal.Decimal  `json:"starting_cash"`
	EndingCash        *decimal.Decimal `json:"ending_cash,omitempty"`
	ExpectedCash      *decimal.Decimal `json:"expected_cash,omitempty"`
	CashDifference    *decimal.Decimal `json:"cash_difference,omitempty"`
	Status            ShiftStatus      `json:"status"`
	Notes             string           `json:"notes,omitempty"`
}

func (s *Shift) Apply(event ShiftEvent) error {
	next, err := ShiftMachine.Apply(s.Status, event)
	if err != nil {
		return err
	}
	s.Status = next
	return nil
}

// Close records the counted drawer and the difference against expectation.
func (s *Shift) Close(endedBy string, ending decimal.Decimal, expected decimal.Decimal, at time.Time) error {
	if err := s.Apply(ShiftEventEnd); err != nil {
		return err
	}
	ending = Money(ending)
	expected = Money(expected)
	diff := ending.Sub(expected)
	s.EndingCash = &ending
	s.ExpectedCash = &expected
	s.CashDifference = &diff
	s.EndedAt = &at
	s.EndedBy = endedBy
	return nil
}

type ShiftFilter struct {
	StoreID string
	UserID  string
	Status  ShiftStatus
	Date    string
}

type SwapStatus string

const (
	SwapStatusPending         SwapStatus = "PENDING"
	SwapStatusApproved        SwapStatus = "APPROVED"
	SwapStatusManagerApproved SwapStatus = "MANAGER_APPROVED"
	SwapStatusRejected        SwapStatus = "REJECTED"
	SwapStatusCancelled       SwapStatus = "CANCELLED"
)

func (s SwapStatus) Open() bool {
	return s == SwapStatusPending || s == SwapStatusApproved
}

type ShiftSwap struct {
	ID              string     `json:"id"`
	StoreID         string     `json:"store_id"`
	ShiftID         string     `json:"shift_id"`
	RequestedBy     string     `json:"requested_by"`
	RequestedTo     string     `json:"requested_to"`
	Reason          string     `json:"reason,omitempty"`
	Status          SwapStatus `json:"status"`
	ManagerID       string     `json:"manager_id,omitempty"`
	ManagerNotes    string     `json:"manager_notes,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
}

func (s *ShiftSwap) Apply(event SwapEvent) error {
	next, err := SwapMachine.Apply(s.Status, event)
	if err != nil {
		return err
	}
	s.Status = next
	return nil
}

type SwapFilter struct {
	StoreID     string
	ShiftID     string
	RequestedBy string
	RequestedTo string
	Status      SwapStatus
}

type LoginEventType string

const (
	LoginEventLogin      LoginEventType = "LOGIN"
	LoginEventLogout     LoginEventType = "LOGOUT"
	LoginEventShiftStart LoginEventType = "SHIFT_START"
	LoginEventShiftEnd   LoginEventType = "SHIFT_END"
)

type LoginEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	StoreID   string         `json:"store_id"`
	ShiftID   string         `json:"shift_id,omitempty"`
	EventType LoginEventType `json:"event_type"`
	At        time.Time      `json:"at"`
}

type DayStatus string

const (
	DayStatusOpen   DayStatus = "OPEN"
	DayStatusClosed DayStatus = "CLOSED"
)

type BusinessDay struct {
	StoreID             string          `json:"store_id"`
	Date                string          `json:"date"`
	Status              DayStatus       `json:"status"`
	InitialCash         decimal.Decimal `json:"initial_cash"`
	OpenedAt            *time.Time      `json:"opened_at,omitempty"`
	OpenedBy            string          `json:"opened_by,omitempty"`
	ClosedAt            *time.Time      `json:"closed_at,omitempty"`
	ClosedBy            string          `json:"closed_by,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	ShiftCount          int             `json:"shift_count"`
	TotalCashDifference decimal.Decimal `json:"total_cash_difference"`
	TotalPayments       decimal.Decimal `json:"total_payments"`
}

type StartShiftRequest struct {
	UserID            string          `json:"user_id,omitempty"`
	StoreID           string          `json:"store_id" validate:"required"`
	StartingCash      decimal.Decimal `json:"starting_cash"`
	ExpectedStartTime *time.Time      `json:"expected_start_time,omitempty"`
	ExpectedEndTime   *time.Time      `json:"expected_end_time,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

type EndShiftRequest struct {
	EndingCash   decimal.Decimal  `json:"ending_cash"`
	ExpectedCash *decimal.Decimal `json:"expected_cash,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

type StartDayRequest struct {
	StoreID     string          `json:"store_id" validate:"required"`
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	InitialCash decimal.Decimal `json:"initial_cash"`
}

type EndDayRequest struct {
	StoreID    string `json:"store_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Notes      string `json:"notes,omitempty"`
	ManagerPIN string `json:"manager_pin" validate:"required"`
}

type CreateSwapRequest struct {
	ShiftID     string `json:"shift_id" validate:"required"`
	RequestedTo string `json:"requested_to" validate:"required"`
	Reason      string `json:"reason,omitempty"`
}

type SwapDecisionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type LoginEventRequest struct {
	StoreID string `json:"store_id" validate:"required"`
	ShiftID string `json:"shift_id,omitempty"`
}
