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

// ReferenceRepository reads the configuration entities pricing and gate
// routing depend on: stations, gates, tariffs, accounts and bundles.
type ReferenceRepository struct {
	db *gorm.DB
}

func NewReferenceRepository(db *gorm.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

func (r *ReferenceRepository) GetGate(ctx context.Context, id int64) (*checkpoint.Gate, error) {
	var row model.Gate
	err := conn(ctx, r.db).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", checkpoint.ErrGateNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &checkpoint.Gate{
		ID:        row.ID,
		StationID: row.StationID,
		Name:      row.Name,
		Mode:      checkpoint.GateMode(row.Mode),
		CameraID:  strVal(row.CameraID),
	}, nil
}

// FindActiveTariff returns the newest active price row, or nil.
func (r *ReferenceRepository) FindActiveTariff(ctx context.Context, stationID, bodyTypeID int64) (*checkpoint.Tariff, error) {
	var row model.Tariff
	err := conn(ctx, r.db).
		Where("station_id = ? AND body_type_id = ? AND active = ?", stationID, bodyTypeID, true).
		Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &checkpoint.Tariff{
		ID:         row.ID,
		StationID:  row.StationID,
		BodyTypeID: row.BodyTypeID,
		Amount:     row.Amount,
		Active:     row.Active,
	}, nil
}

// FindAccount returns nil when the account does not exist.
func (r *ReferenceRepository) FindAccount(ctx context.Context, id int64) (*checkpoint.Account, error) {
	var row model.Account
	err := conn(ctx, r.db).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &checkpoint.Account{ID: row.ID, Name: row.Name, Active: row.Active}, nil
}

// FindActiveBundle returns a subscription of the account covering at, or nil.
func (r *ReferenceRepository) FindActiveBundle(ctx context.Context, accountID int64, at time.Time) (*checkpoint.BundleSubscription, error) {
	at = utc(at)

	var row model.BundleSubscription
	err := conn(ctx, r.db).
		Where("account_id = ? AND status = ?", accountID, checkpoint.BundleStatusActive).
		Where("start_datetime <= ? AND end_datetime >= ?", at, at).
		Order("end_datetime DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &checkpoint.BundleSubscription{
		ID:        row.ID,
		AccountID: row.AccountID,
		Start:     row.StartDatetime,
		End:       row.EndDatetime,
		Status:    row.Status,
	}, nil
}
