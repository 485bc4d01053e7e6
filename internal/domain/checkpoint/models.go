package checkpoint

import (
	"time"
)

type Direction string

const (
	DirectionEntry   Direction = "entry"
	DirectionExit    Direction = "exit"
	DirectionUnknown Direction = "unknown"
)

// ParseDirection maps the camera's free-form direction hint onto a Direction.
func ParseDirection(s string) Direction {
	switch s {
	case "entry", "in", "enter", "approaching":
		return DirectionEntry
	case "exit", "out", "leave", "departing", "receding":
		return DirectionExit
	default:
		return DirectionUnknown
	}
}

type ProcessingStatus string

const (
	StatusNone               ProcessingStatus = ""
	StatusPending            ProcessingStatus = "pending"
	StatusPendingVehicleType ProcessingStatus = "pending_vehicle_type"
	StatusPendingExit        ProcessingStatus = "pending_exit"
	StatusProcessed          ProcessingStatus = "processed"
	StatusFailed             ProcessingStatus = "failed"
)

// Drainable reports whether the processor may still pick the detection up.
func (s ProcessingStatus) Drainable() bool {
	return s == StatusNone || s == StatusPending
}

// AwaitsOperator reports whether the detection is parked for manual confirmation.
func (s ProcessingStatus) AwaitsOperator() bool {
	return s == StatusPendingVehicleType || s == StatusPendingExit
}

type PassageType string

const (
	PassageTypeToll     PassageType = "toll"
	PassageTypeReentry  PassageType = "reentry"
	PassageTypeExempted PassageType = "exempted"
)

type PassageStatus string

const (
	PassageStatusActive    PassageStatus = "active"
	PassageStatusCompleted PassageStatus = "completed"
)

type PaymentType string

const (
	PaymentCash      PaymentType = "cash"
	PaymentBundle    PaymentType = "bundle"
	PaymentExemption PaymentType = "exemption"
)

type GateAction string

const (
	GateOpen           GateAction = "open"
	GateRequirePayment GateAction = "require_payment"
	GateDeny           GateAction = "deny"
)

type GateMode string

const (
	GateModeEntry GateMode = "entry"
	GateModeExit  GateMode = "exit"
	GateModeBoth  GateMode = "both"
)

type VehicleInfo struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Color string `json:"color,omitempty"`
}

// FeedItem is one detection as reported by the camera, before normalization.
type FeedItem struct {
	ExternalID string                 `json:"id"`
	Plate      string                 `json:"numberplate"`
	CapturedAt time.Time              `json:"timestamp"`
	Direction  string                 `json:"direction"`
	Confidence *float64               `json:"confidence,omitempty"`
	Vehicle    VehicleInfo            `json:"vehicle"`
	RawPayload map[string]interface{} `json:"raw_payload,omitempty"`
}

type Detection struct {
	ID              int64                  `json:"id"`
	ExternalID      string                 `json:"external_id,omitempty"`
	Plate           string                 `json:"plate"`
	NormalizedPlate string                 `json:"normalized_plate"`
	CapturedAt      time.Time              `json:"captured_at"`
	StationID       *int64                 `json:"station_id,omitempty"`
	GateID          *int64                 `json:"gate_id,omitempty"`
	Direction       Direction              `json:"direction"`
	Confidence      *float64               `json:"confidence,omitempty"`
	Vehicle         VehicleInfo            `json:"vehicle"`
	Source          string                 `json:"source"`
	RawPayload      map[string]interface{} `json:"raw_payload,omitempty"`
	Processed       bool                   `json:"processed"`
	Status          ProcessingStatus       `json:"processing_status"`
	Notes           string                 `json:"notes,omitempty"`
	PassageID       *int64                 `json:"passage_id,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

type Vehicle struct {
	ID           int64       `json:"id"`
	Plate        string      `json:"plate"`
	BodyTypeID   *int64      `json:"body_type_id,omitempty"`
	Info         VehicleInfo `json:"info"`
	AccountID    *int64      `json:"account_id,omitempty"`
	PaidUntil    *time.Time  `json:"paid_until,omitempty"`
	Exempt       bool        `json:"exempt"`
	ExemptReason string      `json:"exempt_reason,omitempty"`
	ExemptUntil  *time.Time  `json:"exempt_until,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ExemptAt reports whether the exemption flag is set and not expired at t.
func (v Vehicle) ExemptAt(t time.Time) bool {
	if !v.Exempt {
		return false
	}
	return v.ExemptUntil == nil || !t.After(*v.ExemptUntil)
}

// InFreeWindow reports whether t falls before the vehicle's paid-until mark.
func (v Vehicle) InFreeWindow(t time.Time) bool {
	return v.PaidUntil != nil && t.Before(*v.PaidUntil)
}

type Passage struct {
	ID                   int64         `json:"id"`
	VehicleID            int64         `json:"vehicle_id"`
	EntryStationID       int64         `json:"entry_station_id"`
	EntryGateID          int64         `json:"entry_gate_id"`
	ExitStationID        *int64        `json:"exit_station_id,omitempty"`
	ExitGateID           *int64        `json:"exit_gate_id,omitempty"`
	EntryTime            time.Time     `json:"entry_time"`
	ExitTime             *time.Time    `json:"exit_time,omitempty"`
	PaymentType          PaymentType   `json:"payment_type"`
	BaseAmount           int64         `json:"base_amount"`
	DiscountAmount       int64         `json:"discount_amount"`
	TotalAmount          int64         `json:"total_amount"`
	Type                 PassageType   `json:"passage_type"`
	Status               PassageStatus `json:"status"`
	IsPaid               bool          `json:"is_paid"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
	DurationMinutes      *int64        `json:"duration_minutes,omitempty"`
	EntryOperatorID      *int64        `json:"entry_operator_id,omitempty"`
	ExitOperatorID       *int64        `json:"exit_operator_id,omitempty"`
	BundleSubscriptionID *int64        `json:"bundle_subscription_id,omitempty"`
	Notes                string        `json:"notes,omitempty"`
}

func (p Passage) IsOpen() bool {
	return p.ExitTime == nil
}

// Settled reports whether nothing is owed on the passage.
func (p Passage) Settled() bool {
	return p.TotalAmount <= 0 || p.IsPaid
}

type Receipt struct {
	ID            int64       `json:"id"`
	Number        string      `json:"number"`
	PassageID     int64       `json:"passage_id"`
	Amount        int64       `json:"amount"`
	PaymentType   PaymentType `json:"payment_type"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	OperatorID    *int64      `json:"operator_id,omitempty"`
	IssuedAt      time.Time   `json:"issued_at"`
}

type Station struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type Gate struct {
	ID        int64    `json:"id"`
	StationID int64    `json:"station_id"`
	Name      string   `json:"name"`
	Mode      GateMode `json:"mode"`
	CameraID  string   `json:"camera_id,omitempty"`
}

func (g Gate) AllowsEntry() bool {
	return g.Mode == GateModeEntry || g.Mode == GateModeBoth
}

func (g Gate) AllowsExit() bool {
	return g.Mode == GateModeExit || g.Mode == GateModeBoth
}

type Account struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type BundleSubscription struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Start     time.Time `json:"start_datetime"`
	End       time.Time `json:"end_datetime"`
	Status    string    `json:"status"`
}

const BundleStatusActive = "active"

// CoversAt reports whether the subscription is active with start <= t <= end.
func (b BundleSubscription) CoversAt(t time.Time) bool {
	return b.Status == BundleStatusActive && !t.Before(b.Start) && !t.After(b.End)
}

type Tariff struct {
	ID         int64 `json:"id"`
	StationID  int64 `json:"station_id"`
	BodyTypeID int64 `json:"body_type_id"`
	Amount     int64 `json:"amount"`
	Active     bool  `json:"active"`
}

type Quote struct {
	PaymentType          PaymentType `json:"payment_type"`
	BaseAmount           int64       `json:"base_amount"`
	DiscountAmount       int64       `json:"discount_amount"`
	TotalAmount          int64       `json:"total_amount"`
	RequiresPayment      bool        `json:"requires_payment"`
	BundleSubscriptionID *int64      `json:"bundle_subscription_id,omitempty"`
	Message              string      `json:"message,omitempty"`
}

// PassageExtra carries operator-supplied fields accompanying an entry or exit.
type PassageExtra struct {
	BodyTypeID *int64      `json:"body_type_id,omitempty"`
	Vehicle    VehicleInfo `json:"vehicle"`
	AccountID  *int64      `json:"account_id,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}

type PassageRequest struct {
	Plate      string       `json:"plate"`
	GateID     int64        `json:"gate_id"`
	OperatorID *int64       `json:"operator_id,omitempty"`
	Extra      PassageExtra `json:"extra"`
}

type EntryResult struct {
	Passage    Passage    `json:"passage"`
	Vehicle    Vehicle    `json:"vehicle"`
	Quote      Quote      `json:"quote"`
	Reentry    bool       `json:"reentry"`
	GateAction GateAction `json:"gate_action"`
	Message    string     `json:"message"`
}

type ExitResult struct {
	Passage    Passage    `json:"passage"`
	Receipt    *Receipt   `json:"receipt,omitempty"`
	PaidUntil  *time.Time `json:"paid_until,omitempty"`
	GateAction GateAction `json:"gate_action"`
	Message    string     `json:"message"`
}

type PaymentData struct {
	Method string `json:"method"`
	Notes  string `json:"notes,omitempty"`
}

type PaymentResult struct {
	Passage     Passage  `json:"passage"`
	Receipt     *Receipt `json:"receipt,omitempty"`
	AlreadyPaid bool     `json:"already_paid"`
}

type PlateLookup struct {
	Plate        string              `json:"plate"`
	Vehicle      *Vehicle            `json:"vehicle,omitempty"`
	OpenPassage  *Passage            `json:"open_passage,omitempty"`
	Account      *Account            `json:"account,omitempty"`
	ActiveBundle *BundleSubscription `json:"active_bundle,omitempty"`
	Inside       bool                `json:"inside"`
}

// FeedTarget binds a camera feed to the station and gate its detections belong to.
type FeedTarget struct {
	URL       string
	StationID int64
	GateID    int64
}

type IngestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Fetched int    `json:"fetched"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
}

type ProcessSummary struct {
	Total              int `json:"total"`
	Processed          int `json:"processed"`
	PendingVehicleType int `json:"pending_vehicle_type"`
	PendingExit        int `json:"pending_exit"`
	Skipped            int `json:"skipped"`
	Errors             int `json:"errors"`
}

type ConfirmAction string

const (
	ConfirmAuto  ConfirmAction = ""
	ConfirmEntry ConfirmAction = "entry"
	ConfirmExit  ConfirmAction = "exit"
)

type ConfirmRequest struct {
	DetectionID int64         `json:"detection_id"`
	OperatorID  *int64        `json:"operator_id,omitempty"`
	Action      ConfirmAction `json:"action,omitempty"`
	Extra       PassageExtra  `json:"extra"`
}

type ConfirmResult struct {
	Detection Detection     `json:"detection"`
	Entry     *EntryResult  `json:"entry,omitempty"`
	Exit      *ExitResult   `json:"exit,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
}

func (r ConfirmResult) Succeeded() bool {
	return r.Reason == ""
}

type DetectionFilter struct {
	Status *ProcessingStatus
	Plate  *string
	Limit  int
	Offset int
}
