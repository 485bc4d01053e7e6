package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"checkpoint-service/internal/config"
	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/repository"
	"checkpoint-service/internal/utils"
)

type routeOutcome int

const (
	routeSkipped routeOutcome = iota
	routeVehicleType
	routeExit
	routeRejected
)

// ProcessorService drains pending detections into the operator queues and
// executes operator confirmations against the passage state machine.
type ProcessorService struct {
	tx         *repository.TxManager
	detections *repository.DetectionRepository
	vehicles   *repository.VehicleRepository
	passages   *repository.PassageRepository
	refs       *repository.ReferenceRepository
	lifecycle  *PassageService
	batchLimit int
	log        zerolog.Logger
}

func NewProcessorService(
	tx *repository.TxManager,
	detections *repository.DetectionRepository,
	vehicles *repository.VehicleRepository,
	passages *repository.PassageRepository,
	refs *repository.ReferenceRepository,
	lifecycle *PassageService,
	cfg config.ProcessorConfig,
	log zerolog.Logger,
) *ProcessorService {
	return &ProcessorService{
		tx:         tx,
		detections: detections,
		vehicles:   vehicles,
		passages:   passages,
		refs:       refs,
		lifecycle:  lifecycle,
		batchLimit: cfg.BatchLimit,
		log:        log.With().Str("component", "processor").Logger(),
	}
}

// ProcessPending runs one cycle. The candidate rows stay locked until the
// cycle commits; each detection is handled in its own savepoint so one
// failure never aborts the rest of the batch.
func (s *ProcessorService) ProcessPending(ctx context.Context) (checkpoint.ProcessSummary, error) {
	var summary checkpoint.ProcessSummary

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		ids, err := s.detections.LockDrainable(ctx, s.batchLimit)
		if err != nil {
			return fmt.Errorf("failed to lock pending detections: %w", err)
		}
		summary.Total = len(ids)

		for _, id := range ids {
			outcome, err := s.routeIsolated(ctx, id)
			if err != nil {
				summary.Errors++
				s.log.Error().Err(err).Int64("detection_id", id).Msg("failed to process detection")
				if markErr := s.detections.UpdateStatus(ctx, id, repository.DetectionUpdate{
					Status: checkpoint.StatusFailed,
					Notes:  err.Error(),
				}); markErr != nil {
					s.log.Error().Err(markErr).Int64("detection_id", id).Msg("failed to mark detection failed")
				}
				continue
			}

			switch outcome {
			case routeSkipped:
				summary.Skipped++
			case routeVehicleType:
				summary.PendingVehicleType++
			case routeExit:
				summary.PendingExit++
			case routeRejected:
				summary.Errors++
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	if summary.Total > 0 {
		s.log.Info().
			Int("total", summary.Total).
			Int("pending_vehicle_type", summary.PendingVehicleType).
			Int("pending_exit", summary.PendingExit).
			Int("skipped", summary.Skipped).
			Int("errors", summary.Errors).
			Msg("processing cycle finished")
	}
	return summary, nil
}

func (s *ProcessorService) routeIsolated(ctx context.Context, id int64) (outcome routeOutcome, err error) {
	err = s.tx.WithTx(ctx, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while processing detection: %v", r)
			}
		}()
		outcome, err = s.route(ctx, id)
		return err
	})
	return outcome, err
}

// route parks the detection in the queue the operator has to act on. Entries
// always wait for confirmation, known vehicle or not.
func (s *ProcessorService) route(ctx context.Context, id int64) (routeOutcome, error) {
	d, err := s.detections.GetForUpdate(ctx, id)
	if err != nil {
		return routeSkipped, err
	}
	if !d.Status.Drainable() {
		return routeSkipped, nil
	}

	park := func(status checkpoint.ProcessingStatus, note string) error {
		s.log.Debug().
			Int64("detection_id", id).
			Str("plate", d.NormalizedPlate).
			Str("status", string(status)).
			Str("note", note).
			Msg("detection routed")
		return s.detections.UpdateStatus(ctx, id, repository.DetectionUpdate{
			Status:    status,
			Processed: status == checkpoint.StatusProcessed,
			Notes:     note,
		})
	}

	if d.NormalizedPlate == "" {
		return routeRejected, park(checkpoint.StatusProcessed, "empty plate")
	}

	if d.GateID == nil {
		return routeRejected, park(checkpoint.StatusFailed, "gate is missing")
	}
	gate, err := s.refs.GetGate(ctx, *d.GateID)
	if errors.Is(err, checkpoint.ErrGateNotFound) {
		return routeRejected, park(checkpoint.StatusFailed, err.Error())
	}
	if err != nil {
		return routeSkipped, err
	}

	vehicle, err := s.vehicles.FindByPlate(ctx, d.NormalizedPlate)
	if err != nil {
		return routeSkipped, fmt.Errorf("failed to find vehicle: %w", err)
	}
	if vehicle == nil {
		return routeVehicleType, park(checkpoint.StatusPendingVehicleType, "vehicle not found")
	}

	if d.Direction != checkpoint.DirectionExit {
		return routeVehicleType, park(checkpoint.StatusPendingVehicleType, "entry awaits operator confirmation")
	}

	open, err := s.passages.FindOpen(ctx, vehicle.ID)
	if err != nil {
		return routeSkipped, fmt.Errorf("failed to find open passage: %w", err)
	}
	if open == nil {
		return routeVehicleType, park(checkpoint.StatusPendingVehicleType, "no open passage, treated as entry")
	}
	if !gate.AllowsExit() {
		return routeVehicleType, park(checkpoint.StatusPendingVehicleType, fmt.Sprintf("gate %d does not serve exits", gate.ID))
	}
	return routeExit, park(checkpoint.StatusPendingExit, fmt.Sprintf("exit awaits operator confirmation for passage %d", open.ID))
}

// ConfirmDetection executes the operator's decision on a parked detection.
// Business rejections are recorded on the detection and returned in the
// result; only infrastructure failures come back as an error, and those roll
// the confirmation back, leaving the detection in its pending state.
func (s *ProcessorService) ConfirmDetection(ctx context.Context, req checkpoint.ConfirmRequest) (*checkpoint.ConfirmResult, error) {
	var result checkpoint.ConfirmResult

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.detections.GetForUpdate(ctx, req.DetectionID)
		if err != nil {
			return err
		}
		if !d.Status.AwaitsOperator() && !d.Status.Drainable() {
			return fmt.Errorf("%w: detection %d is %s", checkpoint.ErrDetectionNotPending, d.ID, d.Status)
		}

		action := req.Action
		if action == checkpoint.ConfirmAuto {
			action = checkpoint.ConfirmEntry
			if d.Status == checkpoint.StatusPendingExit {
				action = checkpoint.ConfirmExit
			}
		}

		extra := req.Extra
		if extra.Vehicle == (checkpoint.VehicleInfo{}) {
			extra.Vehicle = d.Vehicle
		}
		passReq := checkpoint.PassageRequest{
			Plate:      d.NormalizedPlate,
			OperatorID: req.OperatorID,
			Extra:      extra,
		}
		if d.GateID != nil {
			passReq.GateID = *d.GateID
		}

		var passageID int64
		var callErr error
		switch action {
		case checkpoint.ConfirmExit:
			var res *checkpoint.ExitResult
			res, callErr = s.lifecycle.ProcessVehicleExit(ctx, passReq)
			if callErr == nil {
				result.Exit = res
				passageID = res.Passage.ID
			}
		case checkpoint.ConfirmEntry:
			var res *checkpoint.EntryResult
			res, callErr = s.lifecycle.ProcessVehicleEntry(ctx, passReq)
			if callErr == nil {
				result.Entry = res
				passageID = res.Passage.ID
			}
		default:
			return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
		}

		update, err := s.classify(d, action, passageID, callErr)
		if err != nil {
			return err
		}
		if err := s.detections.UpdateStatus(ctx, d.ID, update); err != nil {
			return fmt.Errorf("failed to update detection: %w", err)
		}

		d.Status = update.Status
		d.Processed = update.Processed
		d.Notes = update.Notes
		if update.PassageID != nil {
			d.PassageID = update.PassageID
		}
		result.Detection = *d
		if callErr != nil {
			result.Reason = checkpoint.ReasonOf(callErr)
			result.Message = callErr.Error()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("detection_id", req.DetectionID).
		Str("status", string(result.Detection.Status)).
		Str("reason", string(result.Reason)).
		Msg("detection confirmed")
	return &result, nil
}

// classify maps the outcome of a confirmed action onto the detection. The
// active-passage race goes to the exit queue; missing pricing or vehicle stay
// retryable; other rejections are terminal.
func (s *ProcessorService) classify(d *checkpoint.Detection, action checkpoint.ConfirmAction, passageID int64, callErr error) (repository.DetectionUpdate, error) {
	if callErr == nil {
		return repository.DetectionUpdate{
			Status:    checkpoint.StatusProcessed,
			Processed: true,
			Notes:     fmt.Sprintf("%s confirmed, passage %d", action, passageID),
			PassageID: &passageID,
		}, nil
	}

	switch {
	case errors.Is(callErr, checkpoint.ErrActivePassage):
		return repository.DetectionUpdate{
			Status: checkpoint.StatusPendingExit,
			Notes:  "vehicle already inside: " + callErr.Error(),
		}, nil
	case errors.Is(callErr, checkpoint.ErrNoPricing):
		return repository.DetectionUpdate{
			Status: checkpoint.StatusPendingVehicleType,
			Notes:  "pricing: " + callErr.Error(),
		}, nil
	case errors.Is(callErr, checkpoint.ErrVehicleNotFound):
		return repository.DetectionUpdate{
			Status: checkpoint.StatusPendingVehicleType,
			Notes:  callErr.Error(),
		}, nil
	case checkpoint.IsRejection(callErr), errors.Is(callErr, ErrInvalidInput):
		s.log.Warn().
			Err(callErr).
			Int64("detection_id", d.ID).
			Str("plate", d.NormalizedPlate).
			Msg("detection confirmation rejected")
		return repository.DetectionUpdate{
			Status:    checkpoint.StatusProcessed,
			Processed: true,
			Notes:     "error: " + callErr.Error(),
		}, nil
	default:
		return repository.DetectionUpdate{}, callErr
	}
}

func (s *ProcessorService) ListDetections(ctx context.Context, filter checkpoint.DetectionFilter) ([]checkpoint.Detection, error) {
	if filter.Plate != nil {
		normalized := utils.NormalizePlate(*filter.Plate)
		if normalized == "" {
			filter.Plate = nil
		} else {
			filter.Plate = &normalized
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	detections, err := s.detections.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find detections: %w", err)
	}
	return detections, nil
}
