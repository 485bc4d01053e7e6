package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/repository/model"
)

type VehicleRepository struct {
	db *gorm.DB
}

func NewVehicleRepository(db *gorm.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// FindByPlate returns nil when no vehicle carries the normalized plate.
func (r *VehicleRepository) FindByPlate(ctx context.Context, plate string) (*checkpoint.Vehicle, error) {
	return r.findByPlate(conn(ctx, r.db), plate)
}

// FindByPlateForUpdate is FindByPlate holding the vehicle row lock, which
// serializes concurrent entries and exits for the same plate.
func (r *VehicleRepository) FindByPlateForUpdate(ctx context.Context, plate string) (*checkpoint.Vehicle, error) {
	return r.findByPlate(forUpdate(conn(ctx, r.db)), plate)
}

func (r *VehicleRepository) findByPlate(db *gorm.DB, plate string) (*checkpoint.Vehicle, error) {
	var row model.Vehicle
	err := db.Where("plate = ?", plate).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v := mapVehicle(row)
	return &v, nil
}

// GetOrCreate returns the locked vehicle for plate, creating it on first
// sighting. A concurrent creator winning the unique index is not an error.
func (r *VehicleRepository) GetOrCreate(ctx context.Context, plate string, info checkpoint.VehicleInfo) (*checkpoint.Vehicle, bool, error) {
	v, err := r.FindByPlateForUpdate(ctx, plate)
	if err != nil {
		return nil, false, err
	}
	if v != nil {
		return v, false, nil
	}

	row := model.Vehicle{
		Plate: plate,
		Make:  strPtr(info.Make),
		Model: strPtr(info.Model),
		Color: strPtr(info.Color),
	}
	err = conn(ctx, r.db).Transaction(func(sp *gorm.DB) error {
		return sp.Create(&row).Error
	})
	if err != nil {
		if !isUniqueViolation(err) {
			return nil, false, err
		}
		v, err = r.FindByPlateForUpdate(ctx, plate)
		if err != nil {
			return nil, false, err
		}
		if v == nil {
			return nil, false, fmt.Errorf("vehicle %s vanished after unique violation", plate)
		}
		return v, false, nil
	}

	created := mapVehicle(row)
	return &created, true, nil
}

// UpdateDetails stores operator-supplied attributes; empty fields are left as they are.
func (r *VehicleRepository) UpdateDetails(ctx context.Context, id int64, bodyTypeID *int64, info checkpoint.VehicleInfo, accountID *int64) error {
	updates := map[string]interface{}{}
	if bodyTypeID != nil {
		updates["body_type_id"] = *bodyTypeID
	}
	if info.Make != "" {
		updates["make"] = info.Make
	}
	if info.Model != "" {
		updates["model"] = info.Model
	}
	if info.Color != "" {
		updates["color"] = info.Color
	}
	if accountID != nil {
		updates["account_id"] = *accountID
	}
	if len(updates) == 0 {
		return nil
	}
	return conn(ctx, r.db).Model(&model.Vehicle{}).Where("id = ?", id).Updates(updates).Error
}

func (r *VehicleRepository) SetPaidUntil(ctx context.Context, id int64, paidUntil time.Time) error {
	return conn(ctx, r.db).
		Model(&model.Vehicle{}).
		Where("id = ?", id).
		Update("paid_until", utc(paidUntil)).Error
}

func mapVehicle(row model.Vehicle) checkpoint.Vehicle {
	return checkpoint.Vehicle{
		ID:         row.ID,
		Plate:      row.Plate,
		BodyTypeID: row.BodyTypeID,
		Info: checkpoint.VehicleInfo{
			Make:  strVal(row.Make),
			Model: strVal(row.Model),
			Color: strVal(row.Color),
		},
		AccountID:    row.AccountID,
		PaidUntil:    row.PaidUntil,
		Exempt:       row.Exempt,
		ExemptReason: strVal(row.ExemptReason),
		ExemptUntil:  row.ExemptUntil,
		CreatedAt:    row.CreatedAt,
	}
}
