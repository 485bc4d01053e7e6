package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Station struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Code      string `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
}

func (Station) TableName() string { return "stations" }

type Gate struct {
	ID        int64  `gorm:"primaryKey"`
	StationID int64  `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Mode      string `gorm:"not null;default:both"`
	CameraID  *string
	CreatedAt time.Time
}

func (Gate) TableName() string { return "gates" }

type BodyType struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
}

func (BodyType) TableName() string { return "body_types" }

type Tariff struct {
	ID         int64 `gorm:"primaryKey"`
	StationID  int64 `gorm:"not null;index:idx_tariffs_lookup,priority:1"`
	BodyTypeID int64 `gorm:"not null;index:idx_tariffs_lookup,priority:2"`
	Amount     int64 `gorm:"not null"`
	Active     bool  `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Tariff) TableName() string { return "tariffs" }

type Account struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (Account) TableName() string { return "accounts" }

type BundleSubscription struct {
	ID            int64     `gorm:"primaryKey"`
	AccountID     int64     `gorm:"not null;index"`
	StartDatetime time.Time `gorm:"not null"`
	EndDatetime   time.Time `gorm:"not null"`
	Status        string    `gorm:"not null"`
	CreatedAt     time.Time
}

func (BundleSubscription) TableName() string { return "bundle_subscriptions" }

type Vehicle struct {
	ID           int64  `gorm:"primaryKey"`
	Plate        string `gorm:"not null;uniqueIndex"`
	BodyTypeID   *int64
	Make         *string
	Model        *string
	Color        *string
	AccountID    *int64 `gorm:"index"`
	PaidUntil    *time.Time
	Exempt       bool `gorm:"not null;default:false"`
	ExemptReason *string
	ExemptUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (Vehicle) TableName() string { return "vehicles" }

type Passage struct {
	ID                   int64     `gorm:"primaryKey"`
	VehicleID            int64     `gorm:"not null;index"`
	EntryStationID       int64     `gorm:"not null"`
	EntryGateID          int64     `gorm:"not null"`
	ExitStationID        *int64
	ExitGateID           *int64
	EntryTime            time.Time `gorm:"not null;index"`
	ExitTime             *time.Time
	PaymentType          string `gorm:"not null"`
	BaseAmount           int64  `gorm:"not null;default:0"`
	DiscountAmount       int64  `gorm:"not null;default:0"`
	TotalAmount          int64  `gorm:"not null;default:0"`
	PassageType          string `gorm:"not null"`
	Status               string `gorm:"not null"`
	IsPaid               bool   `gorm:"not null;default:false"`
	PaidAt               *time.Time
	DurationMinutes      *int64
	EntryOperatorID      *int64
	ExitOperatorID       *int64
	BundleSubscriptionID *int64
	Notes                *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            gorm.DeletedAt `gorm:"index"`
}

func (Passage) TableName() string { return "passages" }

type Receipt struct {
	ID            int64  `gorm:"primaryKey"`
	Number        string `gorm:"not null;uniqueIndex"`
	PassageID     int64  `gorm:"not null;uniqueIndex"`
	Amount        int64  `gorm:"not null"`
	PaymentType   string `gorm:"not null"`
	PaymentMethod *string
	OperatorID    *int64
	IssuedAt      time.Time `gorm:"not null"`
	CreatedAt     time.Time
}

func (Receipt) TableName() string { return "receipts" }

type Detection struct {
	ID               int64   `gorm:"primaryKey"`
	ExternalID       *string `gorm:"index"`
	RawPlate         string  `gorm:"not null"`
	NormalizedPlate  string  `gorm:"not null;index:idx_detections_dedup,priority:1"`
	StationID        *int64  `gorm:"index:idx_detections_dedup,priority:2"`
	GateID           *int64
	CapturedAt       time.Time `gorm:"not null;index:idx_detections_dedup,priority:3"`
	Direction        string    `gorm:"not null"`
	Confidence       *float64
	VehicleMake      *string
	VehicleModel     *string
	VehicleColor     *string
	Source           string `gorm:"not null"`
	RawPayload       datatypes.JSON
	Processed        bool    `gorm:"not null;default:false"`
	ProcessingStatus *string `gorm:"index"`
	Notes            *string
	PassageID        *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}

func (Detection) TableName() string { return "detections" }

// All lists every table in dependency order.
func All() []interface{} {
	return []interface{}{
		&Station{},
		&Gate{},
		&BodyType{},
		&Tariff{},
		&Account{},
		&BundleSubscription{},
		&Vehicle{},
		&Passage{},
		&Receipt{},
		&Detection{},
	}
}
