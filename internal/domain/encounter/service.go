package encounter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service runs reconciliation passes and hands the results to an optional
// export repository.
type Service struct {
	export ExportRepository
	logger zerolog.Logger
}

func NewService(logger zerolog.Logger) *Service {
	return &Service{logger: logger.With().Str("component", "reconciler").Logger()}
}

// SetExportRepository attaches a sink for reconciled batches. A nil
// repository disables export.
func (s *Service) SetExportRepository(repo ExportRepository) {
	s.export = repo
}

// Reconcile reconciles one batch of events. The pass itself is pure; the only
// side effects are logging and the optional export.
func (s *Service) Reconcile(ctx context.Context, events []Event) ([]Encounter, error) {
	encs, stats := ReconcileWithStats(events)

	s.logger.Info().
		Int("events", stats.Events).
		Int("encounters", stats.Encounters).
		Int("merged", stats.Merged).
		Int("split", stats.Split).
		Int("open", stats.Open).
		Int("closed", stats.Closed).
		Msg("reconciled batch")
	for _, reason := range stats.SplitReasons {
		s.logger.Debug().Str("reason", reason).Msg("merge rejected, opened new encounter")
	}

	if s.export == nil {
		return encs, nil
	}

	batchID := uuid.New()
	if err := s.export.SaveBatch(ctx, batchID, encs); err != nil {
		return nil, fmt.Errorf("export batch %s: %w", batchID, err)
	}
	s.logger.Info().Str("batch_id", batchID.String()).Int("rows", len(encs)).Msg("exported batch")
	return encs, nil
}
