package prescription

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/extraction"
)

// Store is the persistence boundary the Manager works through. Writes happen
// inside InTx so a header and its items are committed together or not at all.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	List(ctx context.Context) ([]Prescription, error)
	Get(ctx context.Context, number string) (*Prescription, []Item, error)
}

// Tx is the set of writes available inside one store transaction.
type Tx interface {
	// LockHeader loads a header by number for update, or ErrNotFound.
	LockHeader(ctx context.Context, number string) (*Prescription, error)
	// InsertHeader stores p and sets p.ID.
	InsertHeader(ctx context.Context, p *Prescription) error
	UpdateHeader(ctx context.Context, p *Prescription) error
	DeleteHeader(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	InsertItems(ctx context.Context, prescriptionID int64, items []Item) error
	DeleteItems(ctx context.Context, prescriptionID int64) (int64, error)
	CountItems(ctx context.Context, prescriptionID int64) (int, error)
	AppendEvent(ctx context.Context, e *Event) error
}

// Observer receives manager outcomes for metrics.
type Observer interface {
	PrescriptionSaved(op string)
	PrescriptionFailed(op string)
	PrescriptionTransitioned(from, to string)
}

// Manager owns prescription create/update/delete/list and status changes.
type Manager struct {
	store    Store
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source used for numbers and timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a Manager over store.
func NewManager(store Store, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new prescription in status unfilled with a number derived
// from the current time. A number collision surfaces as
// ErrConstraintViolation from the store and is not retried.
func (m *Manager) Create(ctx context.Context, header Prescription, items []Item) (*Prescription, error) {
	if err := validate(&header, items); err != nil {
		return nil, err
	}

	now := m.now()
	p := header
	p.ID = 0
	p.Number = NumberAt(now)
	p.Status = StatusUnfilled
	if p.IssueDate.IsZero() {
		p.IssueDate = now
	}
	p.CreatedAt, p.UpdatedAt = now, now
	lines := numbered(items)

	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertHeader(ctx, &p); err != nil {
			return fmt.Errorf("insert header: %w", err)
		}
		if err := tx.InsertItems(ctx, p.ID, lines); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		return m.appendEvent(ctx, tx, p.Number, EventPrescriptionCreated, SavedData{Prescription: p, Items: lines}, now)
	})
	if err != nil {
		m.failed("create", err)
		return nil, err
	}

	m.saved("create")
	m.logger.Info("prescription created",
		zap.String("number", p.Number),
		zap.Int("items", len(lines)))
	return &p, nil
}

// Update replaces the header fields and the complete item list. Number,
// status and creation time are kept from the stored record.
func (m *Manager) Update(ctx context.Context, number string, header Prescription, items []Item) (*Prescription, error) {
	if err := validate(&header, items); err != nil {
		return nil, err
	}

	now := m.now()
	lines := numbered(items)
	var p Prescription

	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockHeader(ctx, number)
		if err != nil {
			return err
		}
		p = header
		p.ID, p.Number, p.Status, p.CreatedAt = cur.ID, cur.Number, cur.Status, cur.CreatedAt
		if p.IssueDate.IsZero() {
			p.IssueDate = cur.IssueDate
		}
		p.UpdatedAt = now

		if err := tx.UpdateHeader(ctx, &p); err != nil {
			return fmt.Errorf("update header: %w", err)
		}
		if _, err := tx.DeleteItems(ctx, p.ID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if err := tx.InsertItems(ctx, p.ID, lines); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		return m.appendEvent(ctx, tx, p.Number, EventPrescriptionUpdated, SavedData{Prescription: p, Items: lines}, now)
	})
	if err != nil {
		m.failed("update", err)
		return nil, err
	}

	m.saved("update")
	m.logger.Info("prescription updated",
		zap.String("number", p.Number),
		zap.Int("items", len(lines)))
	return &p, nil
}

// Delete removes every item of the prescription, confirms none survive, then
// removes the header.
func (m *Manager) Delete(ctx context.Context, number string) error {
	now := m.now()
	var removed int64

	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockHeader(ctx, number)
		if err != nil {
			return err
		}
		if removed, err = tx.DeleteItems(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		left, err := tx.CountItems(ctx, cur.ID)
		if err != nil {
			return fmt.Errorf("count items: %w", err)
		}
		if left != 0 {
			return fmt.Errorf("%w: %d left for %s", ErrItemsRemain, left, number)
		}
		if err := tx.DeleteHeader(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete header: %w", err)
		}
		return m.appendEvent(ctx, tx, number, EventPrescriptionDeleted,
			DeletedData{PrescriptionNumber: number, ItemsRemoved: removed}, now)
	})
	if err != nil {
		m.failed("delete", err)
		return err
	}

	m.saved("delete")
	m.logger.Info("prescription deleted",
		zap.String("number", number),
		zap.Int64("items_removed", removed))
	return nil
}

// ListAll returns every header, newest issue date first.
func (m *Manager) ListAll(ctx context.Context) ([]Prescription, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].IssueDate.After(list[j].IssueDate)
	})
	return list, nil
}

// Get returns a header with its items in position order.
func (m *Manager) Get(ctx context.Context, number string) (*Prescription, []Item, error) {
	return m.store.Get(ctx, number)
}

// Transition requests an explicit status change.
func (m *Manager) Transition(ctx context.Context, number string, to Status) (*Prescription, error) {
	now := m.now()
	var (
		p    *Prescription
		from Status
	)

	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockHeader(ctx, number)
		if err != nil {
			return err
		}
		from = cur.Status
		if err := cur.Transition(to, now); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, cur.ID, to, now); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		p = cur
		return m.appendEvent(ctx, tx, number, EventPrescriptionStatusChanged,
			StatusChangedData{PrescriptionNumber: number, From: from, To: to}, now)
	})
	if err != nil {
		m.failed("transition", err)
		return nil, err
	}

	if m.observer != nil {
		m.observer.PrescriptionTransitioned(string(from), string(to))
	}
	m.logger.Info("prescription status changed",
		zap.String("number", number),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return p, nil
}

// DraftFromEntries builds unsaved line items from extracted medication
// entries. Quantity defaults to one box.
func DraftFromEntries(entries []extraction.Entry) []Item {
	items := make([]Item, 0, len(entries))
	for i, e := range entries {
		items = append(items, Item{
			Position:     i + 1,
			MedicineName: e.Name,
			Dosage:       e.Dosage,
			Frequency:    e.Timing,
			Quantity:     1,
			Unit:         Units[0],
			Notes:        e.Notes,
		})
	}
	return items
}

func (m *Manager) appendEvent(ctx context.Context, tx Tx, number string, t EventType, data interface{}, at time.Time) error {
	e, err := NewEvent(number, t, data, at)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	if err := tx.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (m *Manager) saved(op string) {
	if m.observer != nil {
		m.observer.PrescriptionSaved(op)
	}
}

func (m *Manager) failed(op string, err error) {
	if m.observer != nil {
		m.observer.PrescriptionFailed(op)
	}
	m.logger.Warn("prescription operation failed", zap.String("op", op), zap.Error(err))
}

func validate(header *Prescription, items []Item) error {
	if err := header.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// numbered copies items, assigning positions in list order and trimming text.
func numbered(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		it.ID = 0
		it.Position = i + 1
		it.MedicineName = strings.TrimSpace(it.MedicineName)
		out[i] = it
	}
	return out
}
