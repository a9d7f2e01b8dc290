package encounter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type fakeCopier struct {
	table   pgx.Identifier
	columns []string
	rows    [][]any
	short   int64
	err     error
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.table = table
	f.columns = cols
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		f.rows = append(f.rows, vals)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	return int64(len(f.rows)) - f.short, nil
}

func TestExportRepo_SaveBatch(t *testing.T) {
	fc := &fakeCopier{}
	repo := &exportRepoPG{conn: fc}
	batchID := uuid.New()

	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "E"),
		event(t, "P1", "F1", Discharge, "2024-01-02T00:00:00", "I"),
		event(t, "P2", "F1", Discharge, "2024-01-03T00:00:00", "O"),
	})
	if err := repo.SaveBatch(context.Background(), batchID, encs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.table) != 1 || fc.table[0] != "encounter_export" {
		t.Errorf("unexpected table %v", fc.table)
	}
	if len(fc.columns) != len(exportCols) {
		t.Errorf("expected %d columns, got %d", len(exportCols), len(fc.columns))
	}
	if len(fc.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(fc.rows))
	}

	closed := fc.rows[0]
	if closed[0] != batchID || closed[1] != 0 {
		t.Errorf("unexpected batch columns %v, %v", closed[0], closed[1])
	}
	if closed[6] != "2024-01-01T00:00:00" || closed[8] != "2024-01-02T00:00:00" {
		t.Errorf("expected raw times, got %v / %v", closed[6], closed[8])
	}
	if closed[10] != (24*time.Hour).Microseconds() || closed[11] != "1 day, 0:00:00" {
		t.Errorf("unexpected length of stay columns %v / %v", closed[10], closed[11])
	}

	open := fc.rows[1]
	if open[1] != 1 || open[6] != nil || open[7] != nil || open[10] != nil {
		t.Errorf("expected nulls for missing admission, got %v", open)
	}
}

func TestExportRepo_SaveBatchEmpty(t *testing.T) {
	fc := &fakeCopier{err: errors.New("should not be called")}
	repo := &exportRepoPG{conn: fc}
	if err := repo.SaveBatch(context.Background(), uuid.New(), nil); err != nil {
		t.Fatalf("expected empty batch to be a no-op, got %v", err)
	}
}

func TestExportRepo_SaveBatchErrors(t *testing.T) {
	encs := Reconcile([]Event{event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "E")})

	boom := errors.New("copy failed")
	repo := &exportRepoPG{conn: &fakeCopier{err: boom}}
	if err := repo.SaveBatch(context.Background(), uuid.New(), encs); !errors.Is(err, boom) {
		t.Errorf("expected wrapped copy error, got %v", err)
	}

	repo = &exportRepoPG{conn: &fakeCopier{short: 1}}
	if err := repo.SaveBatch(context.Background(), uuid.New(), encs); err == nil {
		t.Error("expected error on short write")
	}
}
