package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/extraction"
)

// Repository persists reminders.
type Repository interface {
	// Insert stores all rows in one transaction, setting their ids.
	Insert(ctx context.Context, rs []Reminder) error
	List(ctx context.Context) ([]Reminder, error)
	Get(ctx context.Context, id int64) (*Reminder, error)
	FindByKey(ctx context.Context, k Key) ([]Reminder, error)
	Update(ctx context.Context, r *Reminder) error
	Delete(ctx context.Context, id int64) error
	// Patch applies p to every id in one transaction and returns the number of
	// rows changed.
	Patch(ctx context.Context, ids []int64, p Patch, at time.Time) (int64, error)
}

// UpsertResult reports the rows UpsertFromEntries wrote.
type UpsertResult struct {
	Inserted []Reminder `json:"inserted"`
}

// Store is the reminder service.
type Store struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store over repo.
func NewStore(repo Repository, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertFromEntries inserts one row per entry in a single transaction. Rows
// that already share an entry's key are left as they are, so repeated imports
// accumulate duplicates that the by-key operations then refuse to touch.
func (s *Store) UpsertFromEntries(ctx context.Context, entries []extraction.Entry) (*UpsertResult, error) {
	now := s.now()
	rows := make([]Reminder, 0, len(entries))
	for _, e := range entries {
		r := FromEntry(e)
		if err := r.Validate(); err != nil {
			return nil, err
		}
		r.CreatedAt, r.UpdatedAt = now, now
		rows = append(rows, r)
	}

	if len(rows) > 0 {
		if err := s.repo.Insert(ctx, rows); err != nil {
			return nil, fmt.Errorf("insert reminders: %w", err)
		}
	}

	s.logger.Info("reminders inserted from entries", zap.Int("inserted", len(rows)))
	return &UpsertResult{Inserted: rows}, nil
}

// Create stores one reminder.
func (s *Store) Create(ctx context.Context, r Reminder) (*Reminder, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	r.ID = 0
	r.CreatedAt, r.UpdatedAt = now, now
	rs := []Reminder{r}
	if err := s.repo.Insert(ctx, rs); err != nil {
		return nil, err
	}
	return &rs[0], nil
}

// List returns every reminder.
func (s *Store) List(ctx context.Context) ([]Reminder, error) {
	return s.repo.List(ctx)
}

// Get returns one reminder by id.
func (s *Store) Get(ctx context.Context, id int64) (*Reminder, error) {
	return s.repo.Get(ctx, id)
}

// Find returns every reminder matching the natural key exactly.
func (s *Store) Find(ctx context.Context, k Key) ([]Reminder, error) {
	return s.repo.FindByKey(ctx, k)
}

// Update replaces the editable fields of the reminder with id.
func (s *Store) Update(ctx context.Context, id int64, r Reminder) (*Reminder, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cur.MedicineName, cur.Dosage, cur.Timing, cur.Notes = r.MedicineName, r.Dosage, r.Timing, r.Notes
	cur.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// Delete removes the reminder with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// UpdateByKey updates the single reminder matching k.
func (s *Store) UpdateByKey(ctx context.Context, k Key, r Reminder) (*Reminder, error) {
	id, err := s.resolve(ctx, k)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, id, r)
}

// DeleteByKey deletes the single reminder matching k.
func (s *Store) DeleteByKey(ctx context.Context, k Key) error {
	id, err := s.resolve(ctx, k)
	if err != nil {
		return err
	}
	return s.Delete(ctx, id)
}

// BatchUpdate sets timing and/or notes on every listed reminder.
func (s *Store) BatchUpdate(ctx context.Context, ids []int64, p Patch) (int64, error) {
	if len(ids) == 0 || p.Empty() {
		return 0, fmt.Errorf("%w: batch update needs ids and at least one field", ErrInvalidInput)
	}
	n, err := s.repo.Patch(ctx, ids, p, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info("reminders batch updated", zap.Int("requested", len(ids)), zap.Int64("changed", n))
	return n, nil
}

func (s *Store) resolve(ctx context.Context, k Key) (int64, error) {
	matches, err := s.repo.FindByKey(ctx, k)
	if err != nil {
		return 0, err
	}
	switch len(matches) {
	case 0:
		return 0, fmt.Errorf("%w: %s %s %s", ErrNotFound, k.MedicineName, k.Dosage, k.Timing)
	case 1:
		return matches[0].ID, nil
	default:
		return 0, fmt.Errorf("%w: %d rows for %s", ErrAmbiguousKey, len(matches), k.MedicineName)
	}
}
