package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/heimdex/denoise-agent/internal/pipeline"
)

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository reads and writes run history.
type Repository interface {
	InsertRun(ctx context.Context, rec pipeline.RunRecord) error
	GetRun(ctx context.Context, id string) (*pipeline.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*pipeline.RunRecord, error)
	CountRuns(ctx context.Context) (total, succeeded int, err error)
}

// SQLiteRepository stores runs in the runs and run_steps tables.
type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordLine is a no-op; SQLiteRepository only keeps run records.
func (r *SQLiteRepository) RecordLine(pipeline.Line) {}

func (r *SQLiteRepository) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	return r.InsertRun(ctx, rec)
}

func (r *SQLiteRepository) InsertRun(ctx context.Context, rec pipeline.RunRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, correlation_id, profile, local_path, input_key, output_key,
			output_path, success, canceled, error, total_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StartedAt.UTC().Format(timeLayout), rec.CorrelationID, rec.Profile, rec.LocalPath,
		rec.InputKey, rec.OutputKey, nullString(rec.OutputPath), boolToInt(rec.Success), boolToInt(rec.Canceled),
		nullString(rec.Error), rec.Total.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, st := range rec.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, seq, stage, elapsed_ms, status, bytes)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.ID, i, st.Stage, st.Elapsed.Milliseconds(), nullInt(st.Status), nullInt64(st.Bytes))
		if err != nil {
			return fmt.Errorf("insert run step %s: %w", st.Stage, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, started_at, correlation_id, profile, local_path, input_key, output_key,
	output_path, success, canceled, error, total_ms`

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*pipeline.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)

	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadSteps(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*pipeline.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}

	var runs []*pipeline.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Steps are loaded after the cursor is closed; the pool has one connection.
	for _, rec := range runs {
		if err := r.loadSteps(ctx, rec); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (r *SQLiteRepository) CountRuns(ctx context.Context) (int, int, error) {
	var total, succeeded sql.NullInt64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*), SUM(success) FROM runs").Scan(&total, &succeeded)
	return int(total.Int64), int(succeeded.Int64), err
}

func (r *SQLiteRepository) loadSteps(ctx context.Context, rec *pipeline.RunRecord) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT stage, elapsed_ms, status, bytes FROM run_steps WHERE run_id = ? ORDER BY seq
	`, rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st        pipeline.StepTiming
			elapsedMs int64
			status    sql.NullInt64
			bytes     sql.NullInt64
		)
		if err := rows.Scan(&st.Stage, &elapsedMs, &status, &bytes); err != nil {
			return err
		}
		st.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		if status.Valid {
			v := int(status.Int64)
			st.Status = &v
		}
		if bytes.Valid {
			v := bytes.Int64
			st.Bytes = &v
		}
		rec.Steps = append(rec.Steps, st)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*pipeline.RunRecord, error) {
	var (
		rec        pipeline.RunRecord
		startedAt  string
		outputPath sql.NullString
		errMsg     sql.NullString
		success    int
		canceled   int
		totalMs    int64
	)
	err := s.Scan(&rec.ID, &startedAt, &rec.CorrelationID, &rec.Profile, &rec.LocalPath, &rec.InputKey,
		&rec.OutputKey, &outputPath, &success, &canceled, &errMsg, &totalMs)
	if err != nil {
		return nil, err
	}

	rec.StartedAt, _ = time.Parse(timeLayout, startedAt)
	rec.OutputPath = outputPath.String
	rec.Error = errMsg.String
	rec.Success = success == 1
	rec.Canceled = canceled == 1
	rec.Total = time.Duration(totalMs) * time.Millisecond
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
