package encounter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// copier is the subset of pgxpool.Pool used by the export repository.
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type exportRepoPG struct {
	conn copier
}

// NewExportRepo returns an ExportRepository that bulk-copies rows into the
// encounter_export table.
func NewExportRepo(pool *pgxpool.Pool) ExportRepository {
	return &exportRepoPG{conn: pool}
}

var exportCols = []string{
	"batch_id", "seq",
	"patient_identifier", "facility", "patient_complaint", "encounter_class",
	"begin_time_raw", "begin_time", "end_time_raw", "end_time",
	"length_of_stay_us", "length_of_stay",
}

func (r *exportRepoPG) SaveBatch(ctx context.Context, batchID uuid.UUID, encs []Encounter) error {
	if len(encs) == 0 {
		return nil
	}
	n, err := r.conn.CopyFrom(ctx, pgx.Identifier{"encounter_export"}, exportCols,
		pgx.CopyFromSlice(len(encs), func(i int) ([]any, error) {
			return exportRow(batchID, i, &encs[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy encounter_export: %w", err)
	}
	if n != int64(len(encs)) {
		return fmt.Errorf("copy encounter_export: wrote %d of %d rows", n, len(encs))
	}
	return nil
}

func exportRow(batchID uuid.UUID, seq int, enc *Encounter) []any {
	row := []any{
		batchID, seq,
		enc.PatientIdentifier, enc.Facility, enc.PatientComplaint, enc.EncounterClass,
		nil, nil, nil, nil,
		nil, nil,
	}
	if enc.EncounterBeginTime != nil {
		row[6] = enc.EncounterBeginTime.Raw
		row[7] = enc.EncounterBeginTime.Time
	}
	if enc.EncounterEndTime != nil {
		row[8] = enc.EncounterEndTime.Raw
		row[9] = enc.EncounterEndTime.Time
	}
	if enc.LengthOfStay != nil {
		row[10] = enc.LengthOfStay.Duration().Microseconds()
		row[11] = enc.LengthOfStay.String()
	}
	return row
}
