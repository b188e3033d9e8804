package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/infrastructure/postgres"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger, tracer: otel.Tracer("prescription-repository")}
}

const headerColumns = `id, prescription_number, type, category, issue_date, validity,
	patient_name, patient_gender, patient_age, patient_weight, insurance_type,
	diagnosis, prescriber_name, prescriber_title, facility_name, department,
	status, notes, created_at, updated_at`

// InTx runs fn inside a single transaction. fn's error rolls everything back.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := r.tracer.Start(ctx, "prescription_tx")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		span.RecordError(err)
		return translate(err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

// List returns all headers. Ordering is applied by the Manager.
func (r *Repository) List(ctx context.Context) ([]Prescription, error) {
	ctx, span := r.tracer.Start(ctx, "prescription_list")
	defer span.End()

	rows, err := r.pool.Query(ctx, `SELECT `+headerColumns+` FROM prescriptions`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	list := []Prescription{}
	for rows.Next() {
		p, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Get loads a header and its items.
func (r *Repository) Get(ctx context.Context, number string) (*Prescription, []Item, error) {
	ctx, span := r.tracer.Start(ctx, "prescription_get", trace.WithAttributes(attribute.String("prescription_number", number)))
	defer span.End()

	p, err := scanHeader(r.pool.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM prescriptions WHERE prescription_number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, number)
	}
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, prescription_id, position, medicine_name, specification, dosage,
		       frequency, quantity, unit, usage_method, notes
		FROM prescription_items
		WHERE prescription_id = $1
		ORDER BY position ASC
	`, p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.Position, &it.MedicineName,
			&it.Specification, &it.Dosage, &it.Frequency, &it.Quantity, &it.Unit,
			&it.UsageMethod, &it.Notes); err != nil {
			return nil, nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return p, items, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockHeader(ctx context.Context, number string) (*Prescription, error) {
	p, err := scanHeader(t.tx.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM prescriptions WHERE prescription_number = $1 FOR UPDATE`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, number)
	}
	return p, err
}

func (t *pgTx) InsertHeader(ctx context.Context, p *Prescription) error {
	query := `
		INSERT INTO prescriptions
		(prescription_number, type, category, issue_date, validity,
		 patient_name, patient_gender, patient_age, patient_weight, insurance_type,
		 diagnosis, prescriber_name, prescriber_title, facility_name, department,
		 status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id
	`
	return t.tx.QueryRow(ctx, query,
		p.Number, p.Type, p.Category, p.IssueDate, p.Validity,
		p.Patient.Name, p.Patient.Gender, p.Patient.Age, p.Patient.Weight, p.InsuranceType,
		p.Diagnosis, p.PrescriberName, p.PrescriberTitle, p.FacilityName, p.Department,
		p.Status, p.Notes, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (t *pgTx) UpdateHeader(ctx context.Context, p *Prescription) error {
	query := `
		UPDATE prescriptions SET
		  type = $2, category = $3, issue_date = $4, validity = $5,
		  patient_name = $6, patient_gender = $7, patient_age = $8, patient_weight = $9,
		  insurance_type = $10, diagnosis = $11, prescriber_name = $12, prescriber_title = $13,
		  facility_name = $14, department = $15, notes = $16, updated_at = $17
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query,
		p.ID, p.Type, p.Category, p.IssueDate, p.Validity,
		p.Patient.Name, p.Patient.Gender, p.Patient.Age, p.Patient.Weight,
		p.InsuranceType, p.Diagnosis, p.PrescriberName, p.PrescriberTitle,
		p.FacilityName, p.Department, p.Notes, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, p.ID)
	}
	return nil
}

func (t *pgTx) DeleteHeader(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE prescriptions SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	return err
}

func (t *pgTx) InsertItems(ctx context.Context, prescriptionID int64, items []Item) error {
	rows := make([][]interface{}, len(items))
	for i, it := range items {
		rows[i] = []interface{}{
			prescriptionID, it.Position, it.MedicineName, it.Specification, it.Dosage,
			it.Frequency, it.Quantity, it.Unit, it.UsageMethod, it.Notes,
		}
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"prescription_items"},
		[]string{"prescription_id", "position", "medicine_name", "specification", "dosage",
			"frequency", "quantity", "unit", "usage_method", "notes"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (t *pgTx) DeleteItems(ctx context.Context, prescriptionID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM prescription_items WHERE prescription_id = $1`, prescriptionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) CountItems(ctx context.Context, prescriptionID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM prescription_items WHERE prescription_id = $1`, prescriptionID).Scan(&n)
	return n, err
}

func (t *pgTx) AppendEvent(ctx context.Context, e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return postgres.WriteEntry(ctx, t.tx, &postgres.OutboxEntry{
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     string(e.EventType),
		Payload:       payload,
		KafkaTopic:    EventsTopic,
		KafkaKey:      e.AggregateID,
	})
}

func scanHeader(row pgx.Row) (*Prescription, error) {
	p := &Prescription{}
	err := row.Scan(
		&p.ID, &p.Number, &p.Type, &p.Category, &p.IssueDate, &p.Validity,
		&p.Patient.Name, &p.Patient.Gender, &p.Patient.Age, &p.Patient.Weight, &p.InsuranceType,
		&p.Diagnosis, &p.PrescriberName, &p.PrescriberTitle, &p.FacilityName, &p.Department,
		&p.Status, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// translate maps unique and foreign-key violations to ErrConstraintViolation.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503":
			return fmt.Errorf("%w: %s (%s)", ErrConstraintViolation, pgErr.Message, pgErr.ConstraintName)
		}
	}
	return err
}
