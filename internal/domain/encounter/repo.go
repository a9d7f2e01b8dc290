package encounter

import (
	"context"

	"github.com/google/uuid"
)

// ExportRepository receives reconciled encounters for downstream analytics.
// It is write-only: nothing exported is ever read back into a reconciliation.
type ExportRepository interface {
	SaveBatch(ctx context.Context, batchID uuid.UUID, encs []Encounter) error
}
