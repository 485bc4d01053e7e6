package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/repository/model"
)

type DetectionRepository struct {
	db *gorm.DB
}

func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// DedupKey identifies one physical sighting.
type DedupKey struct {
	Plate            string
	StationID        int64
	CapturedAt       time.Time
	Tolerance        time.Duration
	ExternalID       string
	ExternalIDWindow time.Duration
}

// String is the advisory-lock name of the key; it deliberately omits the
// timestamp so every insert for the plate at the station serializes.
func (k DedupKey) String() string {
	return fmt.Sprintf("detection:%d:%s", k.StationID, k.Plate)
}

func (r *DetectionRepository) Create(ctx context.Context, d *checkpoint.Detection) error {
	row := model.Detection{
		ExternalID:      strPtr(d.ExternalID),
		RawPlate:        d.Plate,
		NormalizedPlate: d.NormalizedPlate,
		StationID:       d.StationID,
		GateID:          d.GateID,
		CapturedAt:      utc(d.CapturedAt),
		Direction:       string(d.Direction),
		Confidence:      d.Confidence,
		VehicleMake:     strPtr(d.Vehicle.Make),
		VehicleModel:    strPtr(d.Vehicle.Model),
		VehicleColor:    strPtr(d.Vehicle.Color),
		Source:          d.Source,
		Processed:       d.Processed,
		Notes:           strPtr(d.Notes),
		PassageID:       d.PassageID,
	}
	if d.Status != checkpoint.StatusNone {
		status := string(d.Status)
		row.ProcessingStatus = &status
	}
	if len(d.RawPayload) > 0 {
		raw, err := json.Marshal(d.RawPayload)
		if err != nil {
			return fmt.Errorf("encode raw payload: %w", err)
		}
		row.RawPayload = datatypes.JSON(raw)
	}

	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		return err
	}

	d.ID = row.ID
	d.CreatedAt = row.CreatedAt
	return nil
}

// LockDedupKey serializes check-then-insert for one plate at one station
// until the surrounding transaction ends. It is a no-op outside postgres.
func (r *DetectionRepository) LockDedupKey(ctx context.Context, key DedupKey) error {
	db := conn(ctx, r.db)
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key.String()).Error
}

// FindDuplicate returns the id of a stored detection for the same sighting:
// same plate and station within the tolerance window, or the same external id
// for the same plate within the external-id window.
func (r *DetectionRepository) FindDuplicate(ctx context.Context, key DedupKey) (int64, bool, error) {
	at := utc(key.CapturedAt)

	var row model.Detection
	err := conn(ctx, r.db).
		Select("id").
		Where("normalized_plate = ? AND station_id = ?", key.Plate, key.StationID).
		Where("captured_at BETWEEN ? AND ?", at.Add(-key.Tolerance), at.Add(key.Tolerance)).
		Order("id").
		Take(&row).Error
	if err == nil {
		return row.ID, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, err
	}

	if key.ExternalID == "" || key.ExternalIDWindow <= 0 {
		return 0, false, nil
	}

	err = conn(ctx, r.db).
		Select("id").
		Where("external_id = ? AND normalized_plate = ? AND station_id = ?", key.ExternalID, key.Plate, key.StationID).
		Where("captured_at BETWEEN ? AND ?", at.Add(-key.ExternalIDWindow), at.Add(key.ExternalIDWindow)).
		Order("id").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.ID, true, nil
}

// LatestCapturedAt is the ingestion watermark for a station.
func (r *DetectionRepository) LatestCapturedAt(ctx context.Context, stationID int64) (*time.Time, error) {
	var row model.Detection
	err := conn(ctx, r.db).
		Select("captured_at").
		Where("station_id = ?", stationID).
		Order("captured_at DESC").
		Take(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &row.CapturedAt, nil
}

// LockDrainable selects detections the processor has not touched yet, oldest
// first, holding row locks until the surrounding transaction ends.
func (r *DetectionRepository) LockDrainable(ctx context.Context, limit int) ([]int64, error) {
	query := forUpdate(conn(ctx, r.db).Model(&model.Detection{})).
		Select("id").
		Where("processing_status IS NULL OR processing_status IN ?", []string{"", string(checkpoint.StatusPending)}).
		Order("captured_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []int64
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *DetectionRepository) Get(ctx context.Context, id int64) (*checkpoint.Detection, error) {
	return r.get(ctx, conn(ctx, r.db), id)
}

func (r *DetectionRepository) GetForUpdate(ctx context.Context, id int64) (*checkpoint.Detection, error) {
	return r.get(ctx, forUpdate(conn(ctx, r.db)), id)
}

func (r *DetectionRepository) get(_ context.Context, db *gorm.DB, id int64) (*checkpoint.Detection, error) {
	var row model.Detection
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", checkpoint.ErrDetectionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	d := mapDetection(row)
	return &d, nil
}

// DetectionUpdate is the processing outcome written back to a detection.
type DetectionUpdate struct {
	Status    checkpoint.ProcessingStatus
	Processed bool
	Notes     string
	PassageID *int64
}

func (r *DetectionRepository) UpdateStatus(ctx context.Context, id int64, u DetectionUpdate) error {
	updates := map[string]interface{}{
		"processing_status": string(u.Status),
		"processed":         u.Processed,
		"notes":             strPtr(u.Notes),
	}
	if u.PassageID != nil {
		updates["passage_id"] = *u.PassageID
	}
	res := conn(ctx, r.db).Model(&model.Detection{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", checkpoint.ErrDetectionNotFound, id)
	}
	return nil
}

func (r *DetectionRepository) List(ctx context.Context, filter checkpoint.DetectionFilter) ([]checkpoint.Detection, error) {
	query := conn(ctx, r.db).Model(&model.Detection{})

	if filter.Status != nil {
		if filter.Status.Drainable() {
			query = query.Where("processing_status IS NULL OR processing_status IN ?", []string{"", string(checkpoint.StatusPending)})
		} else {
			query = query.Where("processing_status = ?", string(*filter.Status))
		}
	}
	if filter.Plate != nil {
		query = query.Where("normalized_plate = ?", *filter.Plate)
	}

	query = query.Order("captured_at DESC").Order("id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []model.Detection
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]checkpoint.Detection, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapDetection(row))
	}
	return result, nil
}

func mapDetection(row model.Detection) checkpoint.Detection {
	d := checkpoint.Detection{
		ID:              row.ID,
		ExternalID:      strVal(row.ExternalID),
		Plate:           row.RawPlate,
		NormalizedPlate: row.NormalizedPlate,
		CapturedAt:      row.CapturedAt,
		StationID:       row.StationID,
		GateID:          row.GateID,
		Direction:       checkpoint.Direction(row.Direction),
		Confidence:      row.Confidence,
		Vehicle: checkpoint.VehicleInfo{
			Make:  strVal(row.VehicleMake),
			Model: strVal(row.VehicleModel),
			Color: strVal(row.VehicleColor),
		},
		Source:    row.Source,
		Processed: row.Processed,
		Status:    checkpoint.ProcessingStatus(strVal(row.ProcessingStatus)),
		Notes:     strVal(row.Notes),
		PassageID: row.PassageID,
		CreatedAt: row.CreatedAt,
	}
	if len(row.RawPayload) > 0 {
		var payload map[string]interface{}
		if err := json.Unmarshal(row.RawPayload, &payload); err == nil {
			d.RawPayload = payload
		}
	}
	return d
}
