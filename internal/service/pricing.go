package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/repository"
)

// PricingEngine decides how a passage is paid for. It only reads.
type PricingEngine struct {
	refs *repository.ReferenceRepository
	log  zerolog.Logger
}

func NewPricingEngine(refs *repository.ReferenceRepository, log zerolog.Logger) *PricingEngine {
	return &PricingEngine{
		refs: refs,
		log:  log.With().Str("component", "pricing").Logger(),
	}
}

// Quote applies, first match wins: an unexpired exemption, an active bundle
// of the account covering at, then the station's cash tariff for the body
// type. A missing tariff row fails open with a zero amount.
func (e *PricingEngine) Quote(ctx context.Context, vehicle checkpoint.Vehicle, stationID int64, account *checkpoint.Account, at time.Time) (checkpoint.Quote, error) {
	if vehicle.ExemptAt(at) {
		msg := "exempt vehicle"
		if vehicle.ExemptReason != "" {
			msg = "exempt vehicle: " + vehicle.ExemptReason
		}
		return checkpoint.Quote{PaymentType: checkpoint.PaymentExemption, Message: msg}, nil
	}

	if account != nil && account.Active {
		bundle, err := e.refs.FindActiveBundle(ctx, account.ID, at)
		if err != nil {
			return checkpoint.Quote{}, fmt.Errorf("failed to find bundle: %w", err)
		}
		if bundle != nil && bundle.CoversAt(at) {
			id := bundle.ID
			return checkpoint.Quote{
				PaymentType:          checkpoint.PaymentBundle,
				BundleSubscriptionID: &id,
				Message:              fmt.Sprintf("covered by bundle until %s", bundle.End.Format(time.RFC3339)),
			}, nil
		}
	}

	if vehicle.BodyTypeID == nil {
		return checkpoint.Quote{}, fmt.Errorf("%w: body type of %s is unknown", checkpoint.ErrNoPricing, vehicle.Plate)
	}

	tariff, err := e.refs.FindActiveTariff(ctx, stationID, *vehicle.BodyTypeID)
	if err != nil {
		return checkpoint.Quote{}, fmt.Errorf("failed to find tariff: %w", err)
	}
	if tariff == nil {
		e.log.Warn().
			Int64("station_id", stationID).
			Int64("body_type_id", *vehicle.BodyTypeID).
			Str("plate", vehicle.Plate).
			Msg("no tariff configured, letting vehicle through free")
		return checkpoint.Quote{
			PaymentType: checkpoint.PaymentCash,
			Message:     fmt.Sprintf("no tariff for body type %d at station %d", *vehicle.BodyTypeID, stationID),
		}, nil
	}

	return checkpoint.Quote{
		PaymentType:     checkpoint.PaymentCash,
		BaseAmount:      tariff.Amount,
		TotalAmount:     tariff.Amount,
		RequiresPayment: tariff.Amount > 0,
	}, nil
}
