package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loopcoach/programsync/internal/store"
)

// ReapOrphans deletes program-sourced tasks whose instance no longer
// exists, as happens after an instance rebuild. Returns the number of
// rows removed.
func ReapOrphans(ctx context.Context, s *store.Store, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	validIDs, err := s.ListInstanceIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list instance ids: %w", err)
	}
	orphanIDs, err := s.OrphanProgramTaskIDs(ctx, validIDs)
	if err != nil {
		return 0, fmt.Errorf("find orphan tasks: %w", err)
	}
	if len(orphanIDs) == 0 {
		return 0, nil
	}

	batch := s.NewWriteBatch()
	for _, id := range orphanIDs {
		if err := s.AppendDeleteTask(ctx, batch, id); err != nil {
			return batch.Committed(), err
		}
	}
	if err := batch.Flush(ctx); err != nil {
		return batch.Committed(), fmt.Errorf("flush orphan deletes: %w", err)
	}

	logger.Info("reaped orphan tasks", "count", len(orphanIDs))
	return len(orphanIDs), nil
}
