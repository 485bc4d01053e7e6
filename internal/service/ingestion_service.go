package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"checkpoint-service/internal/config"
	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/feed"
	"checkpoint-service/internal/repository"
	"checkpoint-service/internal/utils"
)

var ErrInvalidInput = errors.New("invalid input")

var errNoStation = fmt.Errorf("%w: detection has no station", ErrInvalidInput)

const (
	SourcePoll = "poll"
	SourcePush = "push"
)

type storeOutcome int

const (
	outcomeStored storeOutcome = iota
	outcomeDuplicate
	outcomeRejected
)

// IngestionService turns camera feed items into stored detections. It never
// touches vehicles or passages.
type IngestionService struct {
	detections *repository.DetectionRepository
	tx         *repository.TxManager
	source     feed.Source
	dedup      config.DedupConfig
	lookback   time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewIngestionService(
	detections *repository.DetectionRepository,
	tx *repository.TxManager,
	source feed.Source,
	dedup config.DedupConfig,
	lookback time.Duration,
	log zerolog.Logger,
) *IngestionService {
	return &IngestionService{
		detections: detections,
		tx:         tx,
		source:     source,
		dedup:      dedup,
		lookback:   lookback,
		log:        log.With().Str("component", "ingestion").Logger(),
		now:        time.Now,
	}
}

// Ingest polls the feed of one camera and stores the items not seen before.
// It always returns a summary; a feed failure yields Success=false.
func (s *IngestionService) Ingest(ctx context.Context, target checkpoint.FeedTarget, since *time.Time) checkpoint.IngestResult {
	if target.StationID == 0 {
		s.log.Warn().Str("url", target.URL).Msg("camera feed has no station, poll skipped")
		return checkpoint.IngestResult{Success: false, Error: errNoStation.Error()}
	}

	items, err := s.source.Fetch(ctx, target.URL)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("url", target.URL).
			Int64("station_id", target.StationID).
			Msg("camera feed unavailable")
		return checkpoint.IngestResult{Success: false, Error: err.Error()}
	}

	result := checkpoint.IngestResult{Success: true, Fetched: len(items)}
	if len(items) == 0 {
		return result
	}

	from := s.now().Add(-s.lookback)
	if since != nil {
		from = *since
	}

	var staleBefore *time.Time
	watermark, err := s.detections.LatestCapturedAt(ctx, target.StationID)
	if err != nil {
		s.log.Error().Err(err).Int64("station_id", target.StationID).Msg("failed to read ingestion watermark")
	} else if watermark != nil {
		cutoff := watermark.Add(-s.dedup.MaxLateness)
		staleBefore = &cutoff
	}

	for _, item := range items {
		if item.CapturedAt.IsZero() {
			s.log.Warn().Str("external_id", item.ExternalID).Str("plate", item.Plate).Msg("feed item without timestamp skipped")
			result.Skipped++
			continue
		}
		if item.CapturedAt.Before(from) {
			result.Skipped++
			continue
		}
		if staleBefore != nil && item.CapturedAt.Before(*staleBefore) {
			result.Skipped++
			continue
		}

		outcome, _, err := s.store(ctx, target, item, SourcePoll)
		if err != nil {
			result.Errors++
			s.log.Error().
				Err(err).
				Str("external_id", item.ExternalID).
				Str("plate", item.Plate).
				Msg("failed to store detection")
			continue
		}
		switch outcome {
		case outcomeStored:
			result.Stored++
		default:
			result.Skipped++
		}
	}

	level := zerolog.DebugLevel
	if result.Stored > 0 || result.Errors > 0 {
		level = zerolog.InfoLevel
	}
	s.log.WithLevel(level).
		Int64("station_id", target.StationID).
		Int("fetched", result.Fetched).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("ingestion cycle finished")

	return result
}

// Accept stores one pushed detection. It reports stored=false with the
// existing detection id when the sighting is a duplicate.
func (s *IngestionService) Accept(ctx context.Context, target checkpoint.FeedTarget, item checkpoint.FeedItem) (bool, *checkpoint.Detection, error) {
	if item.CapturedAt.IsZero() {
		item.CapturedAt = s.now()
	}

	outcome, detection, err := s.store(ctx, target, item, SourcePush)
	if err != nil {
		return false, nil, err
	}
	switch outcome {
	case outcomeRejected:
		return false, nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	case outcomeDuplicate:
		return false, detection, nil
	}
	return true, detection, nil
}

// store runs the dedup check and the insert in one transaction that holds the
// dedup-key lock.
func (s *IngestionService) store(ctx context.Context, target checkpoint.FeedTarget, item checkpoint.FeedItem, source string) (storeOutcome, *checkpoint.Detection, error) {
	// Dedup is keyed on the station; a detection without one could never match.
	if target.StationID == 0 {
		return outcomeRejected, nil, errNoStation
	}

	normalized := utils.NormalizePlate(item.Plate)
	if normalized == "" {
		return outcomeRejected, nil, nil
	}

	key := repository.DedupKey{
		Plate:            normalized,
		StationID:        target.StationID,
		CapturedAt:       item.CapturedAt,
		Tolerance:        s.dedup.Tolerance,
		ExternalID:       item.ExternalID,
		ExternalIDWindow: s.dedup.ExternalIDWindow,
	}

	detection := &checkpoint.Detection{
		ExternalID:      item.ExternalID,
		Plate:           item.Plate,
		NormalizedPlate: normalized,
		CapturedAt:      item.CapturedAt,
		StationID:       optionalID(target.StationID),
		GateID:          optionalID(target.GateID),
		Direction:       checkpoint.ParseDirection(item.Direction),
		Confidence:      item.Confidence,
		Vehicle:         item.Vehicle,
		Source:          source,
		RawPayload:      item.RawPayload,
		Status:          checkpoint.StatusPending,
	}

	outcome := outcomeStored
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.detections.LockDedupKey(ctx, key); err != nil {
			return fmt.Errorf("failed to lock dedup key: %w", err)
		}
		id, found, err := s.detections.FindDuplicate(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to check duplicate: %w", err)
		}
		if found {
			outcome = outcomeDuplicate
			detection.ID = id
			return nil
		}
		if err := s.detections.Create(ctx, detection); err != nil {
			return fmt.Errorf("failed to create detection: %w", err)
		}
		return nil
	})
	if err != nil {
		return outcomeStored, nil, err
	}

	if outcome == outcomeStored {
		s.log.Info().
			Int64("detection_id", detection.ID).
			Str("plate", normalized).
			Str("raw_plate", item.Plate).
			Str("direction", string(detection.Direction)).
			Str("source", source).
			Time("captured_at", item.CapturedAt).
			Msg("saved detection to database")
	} else {
		s.log.Debug().
			Int64("duplicate_of", detection.ID).
			Str("plate", normalized).
			Time("captured_at", item.CapturedAt).
			Msg("duplicate detection skipped")
	}
	return outcome, detection, nil
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
