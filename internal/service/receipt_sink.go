package service

import (
	"context"

	"github.com/rs/zerolog"

	"checkpoint-service/internal/domain/checkpoint"
)

// ReceiptSink receives a passage after its payment is confirmed or after a
// paid exit, once the passage write has succeeded. Printing lives behind it.
type ReceiptSink interface {
	Handoff(ctx context.Context, passage checkpoint.Passage, receipt *checkpoint.Receipt)
}

type LogReceiptSink struct {
	log zerolog.Logger
}

func NewLogReceiptSink(log zerolog.Logger) *LogReceiptSink {
	return &LogReceiptSink{log: log.With().Str("component", "receipts").Logger()}
}

func (s *LogReceiptSink) Handoff(_ context.Context, passage checkpoint.Passage, receipt *checkpoint.Receipt) {
	ev := s.log.Info().
		Int64("passage_id", passage.ID).
		Int64("vehicle_id", passage.VehicleID).
		Int64("total_amount", passage.TotalAmount).
		Str("payment_type", string(passage.PaymentType)).
		Bool("closed", !passage.IsOpen())
	if receipt != nil {
		ev = ev.Str("receipt_number", receipt.Number).Int64("receipt_amount", receipt.Amount)
	}
	ev.Msg("receipt handed off")
}
