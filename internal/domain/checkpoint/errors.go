package checkpoint

import (
	"errors"
)

var (
	ErrActivePassage       = errors.New("vehicle already has an active passage")
	ErrNoActivePassage     = errors.New("no active passage")
	ErrUnpaidEntry         = errors.New("unpaid entry fee")
	ErrNoPricing           = errors.New("no pricing configured")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrGateNotFound        = errors.New("gate not found")
	ErrGateDirection       = errors.New("gate does not serve this direction")
	ErrPassageNotFound     = errors.New("passage not found")
	ErrDetectionNotFound   = errors.New("detection not found")
	ErrDetectionNotPending = errors.New("detection is not awaiting confirmation")
)

type FailureReason string

const (
	ReasonActivePassage       FailureReason = "active_passage"
	ReasonNoActivePassage     FailureReason = "no_active_passage"
	ReasonUnpaidEntry         FailureReason = "unpaid_entry"
	ReasonNoPricing           FailureReason = "no_pricing"
	ReasonVehicleNotFound     FailureReason = "vehicle_not_found"
	ReasonGateNotFound        FailureReason = "gate_not_found"
	ReasonGateDirection       FailureReason = "gate_direction"
	ReasonPassageNotFound     FailureReason = "passage_not_found"
	ReasonDetectionNotFound   FailureReason = "detection_not_found"
	ReasonDetectionNotPending FailureReason = "detection_not_pending"
	ReasonInternal            FailureReason = "internal"
)

var reasons = []struct {
	err    error
	reason FailureReason
}{
	{ErrActivePassage, ReasonActivePassage},
	{ErrNoActivePassage, ReasonNoActivePassage},
	{ErrUnpaidEntry, ReasonUnpaidEntry},
	{ErrNoPricing, ReasonNoPricing},
	{ErrVehicleNotFound, ReasonVehicleNotFound},
	{ErrGateNotFound, ReasonGateNotFound},
	{ErrGateDirection, ReasonGateDirection},
	{ErrPassageNotFound, ReasonPassageNotFound},
	{ErrDetectionNotFound, ReasonDetectionNotFound},
	{ErrDetectionNotPending, ReasonDetectionNotPending},
}

// ReasonOf classifies err by the business rule it violates. Errors that are
// not business rejections classify as ReasonInternal; nil yields "".
func ReasonOf(err error) FailureReason {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// IsRejection reports whether err is an expected business-rule rejection
// rather than an infrastructure or programming failure.
func IsRejection(err error) bool {
	reason := ReasonOf(err)
	return reason != "" && reason != ReasonInternal
}

// GateActionFor tells the barrier what to do after a failed passage action.
func GateActionFor(err error) GateAction {
	if errors.Is(err, ErrNoPricing) {
		return GateRequirePayment
	}
	return GateDeny
}
