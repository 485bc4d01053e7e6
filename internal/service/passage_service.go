package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"checkpoint-service/internal/config"
	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/repository"
	"checkpoint-service/internal/utils"
)

const defaultPaymentMethod = "cash"

// PassageService owns the per-vehicle state machine: no passage, or one open
// passage. Every mutation runs its read-check-write in one transaction.
type PassageService struct {
	tx            *repository.TxManager
	vehicles      *repository.VehicleRepository
	passages      *repository.PassageRepository
	refs          *repository.ReferenceRepository
	pricing       *PricingEngine
	sink          ReceiptSink
	loc           *time.Location
	reentryWindow time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

func NewPassageService(
	tx *repository.TxManager,
	vehicles *repository.VehicleRepository,
	passages *repository.PassageRepository,
	refs *repository.ReferenceRepository,
	pricing *PricingEngine,
	sink ReceiptSink,
	cfg config.PassageConfig,
	loc *time.Location,
	log zerolog.Logger,
) *PassageService {
	if loc == nil {
		loc = time.UTC
	}
	window := cfg.ReentryWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &PassageService{
		tx:            tx,
		vehicles:      vehicles,
		passages:      passages,
		refs:          refs,
		pricing:       pricing,
		sink:          sink,
		loc:           loc,
		reentryWindow: window,
		log:           log.With().Str("component", "passages").Logger(),
		now:           time.Now,
	}
}

// ProcessVehicleEntry opens a passage for the plate at the gate's station.
func (s *PassageService) ProcessVehicleEntry(ctx context.Context, req checkpoint.PassageRequest) (*checkpoint.EntryResult, error) {
	plate := utils.NormalizePlate(req.Plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	now := s.now().UTC()

	var result checkpoint.EntryResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		gate, err := s.refs.GetGate(ctx, req.GateID)
		if err != nil {
			return err
		}
		if !gate.AllowsEntry() {
			return fmt.Errorf("%w: gate %d is %s-only", checkpoint.ErrGateDirection, gate.ID, gate.Mode)
		}

		vehicle, created, err := s.vehicles.GetOrCreate(ctx, plate, req.Extra.Vehicle)
		if err != nil {
			return fmt.Errorf("failed to get or create vehicle: %w", err)
		}
		if err := s.applyExtra(ctx, vehicle, req.Extra); err != nil {
			return err
		}

		open, err := s.passages.FindOpenForUpdate(ctx, vehicle.ID)
		if err != nil {
			return fmt.Errorf("failed to find open passage: %w", err)
		}
		if open != nil {
			return fmt.Errorf("%w: %s entered at %s", checkpoint.ErrActivePassage, plate, open.EntryTime.Format(time.RFC3339))
		}

		quote, reentry, err := s.price(ctx, *vehicle, gate.StationID, now)
		if err != nil {
			return err
		}

		passage := checkpoint.Passage{
			VehicleID:            vehicle.ID,
			EntryStationID:       gate.StationID,
			EntryGateID:          gate.ID,
			EntryTime:            now,
			PaymentType:          quote.PaymentType,
			BaseAmount:           quote.BaseAmount,
			DiscountAmount:       quote.DiscountAmount,
			TotalAmount:          quote.TotalAmount,
			Type:                 checkpoint.PassageTypeToll,
			Status:               checkpoint.PassageStatusActive,
			EntryOperatorID:      req.OperatorID,
			BundleSubscriptionID: quote.BundleSubscriptionID,
			Notes:                req.Extra.Notes,
		}
		switch {
		case quote.PaymentType == checkpoint.PaymentExemption:
			passage.Type = checkpoint.PassageTypeExempted
		case reentry:
			passage.Type = checkpoint.PassageTypeReentry
		}

		action := checkpoint.GateRequirePayment
		message := fmt.Sprintf("payment of %d required", passage.TotalAmount)
		if passage.TotalAmount <= 0 {
			passage.IsPaid = true
			passage.PaidAt = &now
			action = checkpoint.GateOpen
			message = "entry recorded"
			if quote.Message != "" {
				message = quote.Message
			}
		}

		if err := s.passages.Create(ctx, &passage); err != nil {
			return err
		}

		result = checkpoint.EntryResult{
			Passage:    passage,
			Vehicle:    *vehicle,
			Quote:      quote,
			Reentry:    reentry,
			GateAction: action,
			Message:    message,
		}

		s.log.Info().
			Int64("passage_id", passage.ID).
			Int64("vehicle_id", vehicle.ID).
			Bool("new_vehicle", created).
			Str("plate", plate).
			Int64("gate_id", gate.ID).
			Str("passage_type", string(passage.Type)).
			Str("payment_type", string(passage.PaymentType)).
			Int64("total_amount", passage.TotalAmount).
			Msg("vehicle entry recorded")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfirmEntryPayment records collection of the entry fee. Confirming an
// already paid passage succeeds without a second receipt.
func (s *PassageService) ConfirmEntryPayment(ctx context.Context, passageID int64, operatorID *int64, payment checkpoint.PaymentData) (*checkpoint.PaymentResult, error) {
	now := s.now().UTC()

	var result checkpoint.PaymentResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		passage, err := s.passages.GetForUpdate(ctx, passageID)
		if err != nil {
			return err
		}

		if passage.Settled() {
			receipt, err := s.passages.FindReceipt(ctx, passage.ID)
			if err != nil {
				return fmt.Errorf("failed to find receipt: %w", err)
			}
			result = checkpoint.PaymentResult{Passage: *passage, Receipt: receipt, AlreadyPaid: true}
			return nil
		}

		receipt, err := s.issueReceipt(ctx, *passage, operatorID, payment.Method, now)
		if err != nil {
			return err
		}
		if err := s.passages.MarkPaid(ctx, passage.ID, now); err != nil {
			return fmt.Errorf("failed to mark passage paid: %w", err)
		}
		passage.IsPaid = true
		passage.PaidAt = &now

		result = checkpoint.PaymentResult{Passage: *passage, Receipt: receipt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyPaid {
		s.log.Debug().Int64("passage_id", passageID).Msg("entry payment already confirmed")
		return &result, nil
	}

	s.log.Info().
		Int64("passage_id", passageID).
		Int64("amount", result.Passage.TotalAmount).
		Str("receipt_number", result.Receipt.Number).
		Msg("entry payment confirmed")
	s.sink.Handoff(ctx, result.Passage, result.Receipt)
	return &result, nil
}

// ProcessVehicleExit closes the vehicle's open passage. The entry fee must
// have been collected.
func (s *PassageService) ProcessVehicleExit(ctx context.Context, req checkpoint.PassageRequest) (*checkpoint.ExitResult, error) {
	plate := utils.NormalizePlate(req.Plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	now := s.now().UTC()

	var result checkpoint.ExitResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		gate, err := s.refs.GetGate(ctx, req.GateID)
		if err != nil {
			return err
		}
		if !gate.AllowsExit() {
			return fmt.Errorf("%w: gate %d is %s-only", checkpoint.ErrGateDirection, gate.ID, gate.Mode)
		}

		vehicle, err := s.vehicles.FindByPlateForUpdate(ctx, plate)
		if err != nil {
			return fmt.Errorf("failed to find vehicle: %w", err)
		}
		if vehicle == nil {
			return fmt.Errorf("%w: %s", checkpoint.ErrVehicleNotFound, plate)
		}

		passage, err := s.passages.FindOpenForUpdate(ctx, vehicle.ID)
		if err != nil {
			return fmt.Errorf("failed to find open passage: %w", err)
		}
		if passage == nil {
			return fmt.Errorf("%w: %s", checkpoint.ErrNoActivePassage, plate)
		}
		if !passage.Settled() {
			return fmt.Errorf("%w: passage %d owes %d", checkpoint.ErrUnpaidEntry, passage.ID, passage.TotalAmount)
		}

		minutes := int64(now.Sub(passage.EntryTime) / time.Minute)
		if minutes < 0 {
			minutes = 0
		}
		passage.ExitTime = &now
		passage.ExitStationID = &gate.StationID
		passage.ExitGateID = &gate.ID
		passage.ExitOperatorID = req.OperatorID
		passage.DurationMinutes = &minutes
		passage.Status = checkpoint.PassageStatusCompleted
		if err := s.passages.Close(ctx, passage); err != nil {
			return err
		}

		result = checkpoint.ExitResult{
			Passage:    *passage,
			GateAction: checkpoint.GateOpen,
			Message:    "exit recorded",
		}

		if passage.TotalAmount > 0 && passage.Type == checkpoint.PassageTypeToll {
			receipt, err := s.passages.FindReceipt(ctx, passage.ID)
			if err != nil {
				return fmt.Errorf("failed to find receipt: %w", err)
			}
			if receipt == nil {
				receipt, err = s.issueReceipt(ctx, *passage, req.OperatorID, "", now)
				if err != nil {
					return err
				}
			}
			result.Receipt = receipt
		}

		if passage.IsPaid && passage.TotalAmount > 0 {
			paidUntil, err := s.anchorPaidUntil(ctx, vehicle.ID, *passage, now)
			if err != nil {
				return err
			}
			result.PaidUntil = &paidUntil
		}

		s.log.Info().
			Int64("passage_id", passage.ID).
			Str("plate", plate).
			Int64("gate_id", gate.ID).
			Int64("duration_minutes", minutes).
			Msg("vehicle exit recorded")
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Passage.TotalAmount > 0 {
		s.sink.Handoff(ctx, result.Passage, result.Receipt)
	}
	return &result, nil
}

// QuickPlateLookup reports what the gate needs to know about a plate without
// changing anything.
func (s *PassageService) QuickPlateLookup(ctx context.Context, plate string) (*checkpoint.PlateLookup, error) {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}

	lookup := &checkpoint.PlateLookup{Plate: normalized}
	vehicle, err := s.vehicles.FindByPlate(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find vehicle: %w", err)
	}
	if vehicle == nil {
		return lookup, nil
	}
	lookup.Vehicle = vehicle

	open, err := s.passages.FindOpen(ctx, vehicle.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find open passage: %w", err)
	}
	lookup.OpenPassage = open
	lookup.Inside = open != nil

	if vehicle.AccountID != nil {
		account, err := s.refs.FindAccount(ctx, *vehicle.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to find account: %w", err)
		}
		lookup.Account = account
		if account != nil {
			bundle, err := s.refs.FindActiveBundle(ctx, account.ID, s.now())
			if err != nil {
				return nil, fmt.Errorf("failed to find bundle: %w", err)
			}
			lookup.ActiveBundle = bundle
		}
	}
	return lookup, nil
}

// PreviewEntry quotes what an entry through the gate would cost right now.
// Unknown plates are priced from the supplied extra fields.
func (s *PassageService) PreviewEntry(ctx context.Context, req checkpoint.PassageRequest) (*checkpoint.Quote, error) {
	plate := utils.NormalizePlate(req.Plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}

	gate, err := s.refs.GetGate(ctx, req.GateID)
	if err != nil {
		return nil, err
	}

	vehicle, err := s.vehicles.FindByPlate(ctx, plate)
	if err != nil {
		return nil, fmt.Errorf("failed to find vehicle: %w", err)
	}
	if vehicle == nil {
		vehicle = &checkpoint.Vehicle{Plate: plate}
	}
	if req.Extra.BodyTypeID != nil {
		vehicle.BodyTypeID = req.Extra.BodyTypeID
	}
	if req.Extra.AccountID != nil {
		vehicle.AccountID = req.Extra.AccountID
	}

	quote, _, err := s.price(ctx, *vehicle, gate.StationID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// price quotes the entry and waives a cash fee already paid for today at
// this station or still inside the vehicle's paid-until window.
func (s *PassageService) price(ctx context.Context, vehicle checkpoint.Vehicle, stationID int64, now time.Time) (checkpoint.Quote, bool, error) {
	var account *checkpoint.Account
	if vehicle.AccountID != nil {
		var err error
		account, err = s.refs.FindAccount(ctx, *vehicle.AccountID)
		if err != nil {
			return checkpoint.Quote{}, false, fmt.Errorf("failed to find account: %w", err)
		}
	}

	quote, err := s.pricing.Quote(ctx, vehicle, stationID, account, now)
	if err != nil {
		return checkpoint.Quote{}, false, err
	}
	if !quote.RequiresPayment {
		return quote, false, nil
	}

	free := vehicle.ID != 0 && vehicle.InFreeWindow(now)
	reason := "free reentry until " + timeString(vehicle.PaidUntil)
	if !free && vehicle.ID != 0 {
		from, to := s.day(now)
		paid, err := s.passages.HasPaidTollBetween(ctx, vehicle.ID, stationID, from, to)
		if err != nil {
			return checkpoint.Quote{}, false, fmt.Errorf("failed to check paid passages: %w", err)
		}
		free = paid
		reason = "same-day reentry"
	}
	if !free {
		return quote, false, nil
	}

	quote.DiscountAmount = quote.BaseAmount
	quote.TotalAmount = 0
	quote.RequiresPayment = false
	quote.Message = reason
	return quote, true, nil
}

// day returns the bounds of the calendar day containing t in the configured zone.
func (s *PassageService) day(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

// anchorPaidUntil sets paid_until to the first paid entry inside the trailing
// window plus the window, so later exits do not push it forward.
func (s *PassageService) anchorPaidUntil(ctx context.Context, vehicleID int64, passage checkpoint.Passage, now time.Time) (time.Time, error) {
	anchor := passage.EntryTime
	first, err := s.passages.FirstPaidEntrySince(ctx, vehicleID, now.Add(-s.reentryWindow))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to find first paid entry: %w", err)
	}
	if first != nil && first.Before(anchor) {
		anchor = *first
	}

	paidUntil := anchor.Add(s.reentryWindow).UTC()
	if err := s.vehicles.SetPaidUntil(ctx, vehicleID, paidUntil); err != nil {
		return time.Time{}, fmt.Errorf("failed to set paid until: %w", err)
	}
	return paidUntil, nil
}

func (s *PassageService) issueReceipt(ctx context.Context, passage checkpoint.Passage, operatorID *int64, method string, now time.Time) (*checkpoint.Receipt, error) {
	if method == "" {
		method = defaultPaymentMethod
	}
	receipt := &checkpoint.Receipt{
		Number:        uuid.NewString(),
		PassageID:     passage.ID,
		Amount:        passage.TotalAmount,
		PaymentType:   passage.PaymentType,
		PaymentMethod: method,
		OperatorID:    operatorID,
		IssuedAt:      now,
	}
	if err := s.passages.CreateReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("failed to create receipt: %w", err)
	}
	return receipt, nil
}

// applyExtra stores operator corrections and mirrors them on v.
func (s *PassageService) applyExtra(ctx context.Context, v *checkpoint.Vehicle, extra checkpoint.PassageExtra) error {
	if err := s.vehicles.UpdateDetails(ctx, v.ID, extra.BodyTypeID, extra.Vehicle, extra.AccountID); err != nil {
		return fmt.Errorf("failed to update vehicle: %w", err)
	}
	if extra.BodyTypeID != nil {
		v.BodyTypeID = extra.BodyTypeID
	}
	if extra.AccountID != nil {
		v.AccountID = extra.AccountID
	}
	if extra.Vehicle.Make != "" {
		v.Info.Make = extra.Vehicle.Make
	}
	if extra.Vehicle.Model != "" {
		v.Info.Model = extra.Vehicle.Model
	}
	if extra.Vehicle.Color != "" {
		v.Info.Color = extra.Vehicle.Color
	}
	return nil
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
