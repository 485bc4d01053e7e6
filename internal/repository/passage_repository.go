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

type PassageRepository struct {
	db *gorm.DB
}

func NewPassageRepository(db *gorm.DB) *PassageRepository {
	return &PassageRepository{db: db}
}

// FindOpen returns the vehicle's passage without an exit time, or nil.
func (r *PassageRepository) FindOpen(ctx context.Context, vehicleID int64) (*checkpoint.Passage, error) {
	return r.findOpen(conn(ctx, r.db), vehicleID)
}

func (r *PassageRepository) FindOpenForUpdate(ctx context.Context, vehicleID int64) (*checkpoint.Passage, error) {
	return r.findOpen(forUpdate(conn(ctx, r.db)), vehicleID)
}

func (r *PassageRepository) findOpen(db *gorm.DB, vehicleID int64) (*checkpoint.Passage, error) {
	var row model.Passage
	err := db.
		Where("vehicle_id = ? AND exit_time IS NULL", vehicleID).
		Order("entry_time DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := mapPassage(row)
	return &p, nil
}

func (r *PassageRepository) GetForUpdate(ctx context.Context, id int64) (*checkpoint.Passage, error) {
	return r.get(forUpdate(conn(ctx, r.db)), id)
}

func (r *PassageRepository) get(db *gorm.DB, id int64) (*checkpoint.Passage, error) {
	var row model.Passage
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", checkpoint.ErrPassageNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	p := mapPassage(row)
	return &p, nil
}

// Create inserts an open passage. The partial unique index on open passages
// turns a lost race into checkpoint.ErrActivePassage.
func (r *PassageRepository) Create(ctx context.Context, p *checkpoint.Passage) error {
	row := model.Passage{
		VehicleID:            p.VehicleID,
		EntryStationID:       p.EntryStationID,
		EntryGateID:          p.EntryGateID,
		EntryTime:            utc(p.EntryTime),
		PaymentType:          string(p.PaymentType),
		BaseAmount:           p.BaseAmount,
		DiscountAmount:       p.DiscountAmount,
		TotalAmount:          p.TotalAmount,
		PassageType:          string(p.Type),
		Status:               string(p.Status),
		IsPaid:               p.IsPaid,
		PaidAt:               utcPtr(p.PaidAt),
		EntryOperatorID:      p.EntryOperatorID,
		BundleSubscriptionID: p.BundleSubscriptionID,
		Notes:                strPtr(p.Notes),
	}

	err := conn(ctx, r.db).Transaction(func(sp *gorm.DB) error {
		return sp.Create(&row).Error
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: vehicle %d", checkpoint.ErrActivePassage, p.VehicleID)
	}
	if err != nil {
		return err
	}

	p.ID = row.ID
	return nil
}

func (r *PassageRepository) MarkPaid(ctx context.Context, id int64, paidAt time.Time) error {
	return conn(ctx, r.db).
		Model(&model.Passage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_paid": true,
			"paid_at": utc(paidAt),
		}).Error
}

// Close writes the exit side of a passage.
func (r *PassageRepository) Close(ctx context.Context, p *checkpoint.Passage) error {
	if p.ExitTime == nil {
		return errors.New("close passage: exit time is required")
	}
	res := conn(ctx, r.db).
		Model(&model.Passage{}).
		Where("id = ? AND exit_time IS NULL", p.ID).
		Updates(map[string]interface{}{
			"exit_time":        utc(*p.ExitTime),
			"exit_station_id":  p.ExitStationID,
			"exit_gate_id":     p.ExitGateID,
			"exit_operator_id": p.ExitOperatorID,
			"duration_minutes": p.DurationMinutes,
			"status":           string(p.Status),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: passage %d already closed", checkpoint.ErrNoActivePassage, p.ID)
	}
	return nil
}

// HasPaidTollBetween reports whether the vehicle entered the station through a
// paid, charged passage with entry time in [from, to).
func (r *PassageRepository) HasPaidTollBetween(ctx context.Context, vehicleID, stationID int64, from, to time.Time) (bool, error) {
	var count int64
	err := conn(ctx, r.db).
		Model(&model.Passage{}).
		Where("vehicle_id = ? AND entry_station_id = ?", vehicleID, stationID).
		Where("is_paid = ? AND total_amount > 0", true).
		Where("entry_time >= ? AND entry_time < ?", utc(from), utc(to)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FirstPaidEntrySince returns the earliest entry time of a paid, charged
// passage of the vehicle at or after since.
func (r *PassageRepository) FirstPaidEntrySince(ctx context.Context, vehicleID int64, since time.Time) (*time.Time, error) {
	var row model.Passage
	err := conn(ctx, r.db).
		Select("entry_time").
		Where("vehicle_id = ? AND is_paid = ? AND total_amount > 0", vehicleID, true).
		Where("entry_time >= ?", utc(since)).
		Order("entry_time ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.EntryTime, nil
}

func (r *PassageRepository) CreateReceipt(ctx context.Context, rc *checkpoint.Receipt) error {
	row := model.Receipt{
		Number:        rc.Number,
		PassageID:     rc.PassageID,
		Amount:        rc.Amount,
		PaymentType:   string(rc.PaymentType),
		PaymentMethod: strPtr(rc.PaymentMethod),
		OperatorID:    rc.OperatorID,
		IssuedAt:      utc(rc.IssuedAt),
	}
	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		return err
	}
	rc.ID = row.ID
	return nil
}

// FindReceipt returns the receipt issued for the passage, or nil.
func (r *PassageRepository) FindReceipt(ctx context.Context, passageID int64) (*checkpoint.Receipt, error) {
	var row model.Receipt
	err := conn(ctx, r.db).Where("passage_id = ?", passageID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rc := mapReceipt(row)
	return &rc, nil
}

func (r *PassageRepository) CountReceipts(ctx context.Context, passageID int64) (int64, error) {
	var count int64
	err := conn(ctx, r.db).Model(&model.Receipt{}).Where("passage_id = ?", passageID).Count(&count).Error
	return count, err
}

func mapPassage(row model.Passage) checkpoint.Passage {
	return checkpoint.Passage{
		ID:                   row.ID,
		VehicleID:            row.VehicleID,
		EntryStationID:       row.EntryStationID,
		EntryGateID:          row.EntryGateID,
		ExitStationID:        row.ExitStationID,
		ExitGateID:           row.ExitGateID,
		EntryTime:            row.EntryTime,
		ExitTime:             row.ExitTime,
		PaymentType:          checkpoint.PaymentType(row.PaymentType),
		BaseAmount:           row.BaseAmount,
		DiscountAmount:       row.DiscountAmount,
		TotalAmount:          row.TotalAmount,
		Type:                 checkpoint.PassageType(row.PassageType),
		Status:               checkpoint.PassageStatus(row.Status),
		IsPaid:               row.IsPaid,
		PaidAt:               row.PaidAt,
		DurationMinutes:      row.DurationMinutes,
		EntryOperatorID:      row.EntryOperatorID,
		ExitOperatorID:       row.ExitOperatorID,
		BundleSubscriptionID: row.BundleSubscriptionID,
		Notes:                strVal(row.Notes),
	}
}

func mapReceipt(row model.Receipt) checkpoint.Receipt {
	return checkpoint.Receipt{
		ID:            row.ID,
		Number:        row.Number,
		PassageID:     row.PassageID,
		Amount:        row.Amount,
		PaymentType:   checkpoint.PaymentType(row.PaymentType),
		PaymentMethod: strVal(row.PaymentMethod),
		OperatorID:    row.OperatorID,
		IssuedAt:      row.IssuedAt,
	}
}
