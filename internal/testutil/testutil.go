// Package testutil provides a migrated throwaway database and reference data
// for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"checkpoint-service/internal/config"
	appdb "checkpoint-service/internal/db"
	"checkpoint-service/internal/repository/model"
)

// NewDB opens a file-backed sqlite database under t.TempDir() with the
// production schema applied.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := appdb.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "checkpoint.sqlite"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// Fixture is one station with an entry lane, an exit lane and a two-way
// lane, two body types and a tariff for the first of them.
type Fixture struct {
	Station   model.Station
	EntryGate model.Gate
	ExitGate  model.Gate
	BothGate  model.Gate
	Car       model.BodyType
	Truck     model.BodyType
	CarTariff model.Tariff
}

const CarDailyRate = 1500

func Seed(t *testing.T, db *gorm.DB) Fixture {
	t.Helper()

	var f Fixture
	f.Station = model.Station{Name: "North checkpoint", Code: "N1"}
	mustCreate(t, db, &f.Station)

	f.EntryGate = model.Gate{StationID: f.Station.ID, Name: "entry lane", Mode: "entry"}
	f.ExitGate = model.Gate{StationID: f.Station.ID, Name: "exit lane", Mode: "exit"}
	f.BothGate = model.Gate{StationID: f.Station.ID, Name: "two-way lane", Mode: "both"}
	mustCreate(t, db, &f.EntryGate)
	mustCreate(t, db, &f.ExitGate)
	mustCreate(t, db, &f.BothGate)

	f.Car = model.BodyType{Name: "car"}
	f.Truck = model.BodyType{Name: "truck"}
	mustCreate(t, db, &f.Car)
	mustCreate(t, db, &f.Truck)

	f.CarTariff = model.Tariff{StationID: f.Station.ID, BodyTypeID: f.Car.ID, Amount: CarDailyRate, Active: true}
	mustCreate(t, db, &f.CarTariff)
	return f
}

// AddVehicle stores a vehicle; bodyTypeID may be zero for "unknown".
func AddVehicle(t *testing.T, db *gorm.DB, plate string, bodyTypeID int64) model.Vehicle {
	t.Helper()

	v := model.Vehicle{Plate: plate}
	if bodyTypeID != 0 {
		v.BodyTypeID = &bodyTypeID
	}
	mustCreate(t, db, &v)
	return v
}

// AddBundle creates an account with a subscription over [start, end] and
// links it to the vehicle.
func AddBundle(t *testing.T, db *gorm.DB, vehicleID int64, start, end time.Time, status string) (model.Account, model.BundleSubscription) {
	t.Helper()

	account := model.Account{Name: "fleet", Active: true}
	mustCreate(t, db, &account)

	sub := model.BundleSubscription{
		AccountID:     account.ID,
		StartDatetime: start.UTC(),
		EndDatetime:   end.UTC(),
		Status:        status,
	}
	mustCreate(t, db, &sub)

	if err := db.Model(&model.Vehicle{}).Where("id = ?", vehicleID).Update("account_id", account.ID).Error; err != nil {
		t.Fatalf("link account: %v", err)
	}
	return account, sub
}

func mustCreate(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}
