package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PGRepository is the PostgreSQL Repository.
type PGRepository struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewPGRepository creates a repository over pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, tracer: otel.Tracer("reminder-repository")}
}

const columns = `id, medicine_name, dosage, timing, notes, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, rs []Reminder) error {
	ctx, span := r.tracer.Start(ctx, "reminder_insert", trace.WithAttributes(attribute.Int("rows", len(rs))))
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO medication_reminders (medicine_name, dosage, timing, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	for i := range rs {
		rm := &rs[i]
		if err := tx.QueryRow(ctx, query,
			rm.MedicineName, rm.Dosage, rm.Timing, rm.Notes, rm.CreatedAt, rm.UpdatedAt,
		).Scan(&rm.ID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("insert %s: %w", rm.MedicineName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context) ([]Reminder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM medication_reminders ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	return collect(rows)
}

func (r *PGRepository) Get(ctx context.Context, id int64) (*Reminder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM medication_reminders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query reminder: %w", err)
	}
	rm, err := pgx.CollectExactlyOneRow(rows, scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

func (r *PGRepository) FindByKey(ctx context.Context, k Key) ([]Reminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+` FROM medication_reminders
		WHERE medicine_name = $1 AND dosage = $2 AND timing = $3
		ORDER BY id ASC
	`, k.MedicineName, k.Dosage, k.Timing)
	if err != nil {
		return nil, fmt.Errorf("query reminders by key: %w", err)
	}
	return collect(rows)
}

func (r *PGRepository) Update(ctx context.Context, rm *Reminder) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE medication_reminders
		SET medicine_name = $2, dosage = $3, timing = $4, notes = $5, updated_at = $6
		WHERE id = $1
	`, rm.ID, rm.MedicineName, rm.Dosage, rm.Timing, rm.Notes, rm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, rm.ID)
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM medication_reminders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func (r *PGRepository) Patch(ctx context.Context, ids []int64, p Patch, at time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "reminder_patch", trace.WithAttributes(attribute.Int("ids", len(ids))))
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE medication_reminders
		SET timing = COALESCE($2, timing), notes = COALESCE($3, notes), updated_at = $4
		WHERE id = ANY($1)
	`, ids, p.Timing, p.Notes, at)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("patch reminders: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scan(row pgx.CollectableRow) (Reminder, error) {
	var rm Reminder
	err := row.Scan(&rm.ID, &rm.MedicineName, &rm.Dosage, &rm.Timing, &rm.Notes, &rm.CreatedAt, &rm.UpdatedAt)
	return rm, err
}

func collect(rows pgx.Rows) ([]Reminder, error) {
	list, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("scan reminders: %w", err)
	}
	if list == nil {
		list = []Reminder{}
	}
	return list, nil
}
