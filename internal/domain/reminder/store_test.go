package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drfirst/go-medplan/internal/extraction"
)

type memRepo struct {
	rows    []Reminder
	nextID  int64
	inserts int
}

func (m *memRepo) Insert(ctx context.Context, rs []Reminder) error {
	m.inserts++
	for i := range rs {
		m.nextID++
		rs[i].ID = m.nextID
		m.rows = append(m.rows, rs[i])
	}
	return nil
}

func (m *memRepo) List(ctx context.Context) ([]Reminder, error) {
	return append([]Reminder{}, m.rows...), nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (*Reminder, error) {
	for _, r := range m.rows {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) FindByKey(ctx context.Context, k Key) ([]Reminder, error) {
	out := []Reminder{}
	for _, r := range m.rows {
		if r.Key() == k {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) Update(ctx context.Context, rm *Reminder) error {
	for i := range m.rows {
		if m.rows[i].ID == rm.ID {
			m.rows[i] = *rm
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRepo) Delete(ctx context.Context, id int64) error {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRepo) Patch(ctx context.Context, ids []int64, p Patch, at time.Time) (int64, error) {
	var n int64
	for _, id := range ids {
		for i := range m.rows {
			if m.rows[i].ID == id {
				p.Apply(&m.rows[i])
				m.rows[i].UpdatedAt = at
				n++
			}
		}
	}
	return n, nil
}

func newTestStore() (*Store, *memRepo) {
	repo := &memRepo{}
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return NewStore(repo, nil, WithClock(func() time.Time { return at })), repo
}

func TestUpsertFromEntries(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	entries := []extraction.Entry{
		{Name: "阿莫西林", Dosage: "0.5g", Timing: "每日三次", Notes: "说明：饭后服用"},
		{Name: "布洛芬", Dosage: "200mg", Timing: "每日两次"},
	}
	res, err := s.UpsertFromEntries(ctx, entries)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(res.Inserted) != 2 || len(repo.rows) != 2 {
		t.Fatalf("expected 2 inserted rows, got %+v", res)
	}

	if repo.inserts != 1 {
		t.Errorf("expected one insert transaction, got %d", repo.inserts)
	}
}

func TestUpsertFromEntries_RepeatedImportAddsRows(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	entry := extraction.Entry{Name: "布洛芬", Dosage: "200mg", Timing: "每日两次"}
	for i := 0; i < 2; i++ {
		res, err := s.UpsertFromEntries(ctx, []extraction.Entry{entry})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if len(res.Inserted) != 1 {
			t.Fatalf("upsert %d: expected 1 inserted, got %+v", i, res)
		}
	}

	if len(repo.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(repo.rows))
	}
	if repo.rows[0].ID == repo.rows[1].ID {
		t.Errorf("rows share id %d", repo.rows[0].ID)
	}
}

func TestUpsertFromEntries_RejectsIncomplete(t *testing.T) {
	s, repo := newTestStore()
	_, err := s.UpsertFromEntries(context.Background(), []extraction.Entry{{Name: "布洛芬"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(repo.rows) != 0 {
		t.Errorf("no rows should be written, got %d", len(repo.rows))
	}
}

func TestUpdateByKey(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	created, err := s.Create(ctx, Reminder{MedicineName: "布洛芬", Dosage: "200mg", Timing: "每日两次"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := s.UpdateByKey(ctx, created.Key(), Reminder{MedicineName: "布洛芬", Dosage: "400mg", Timing: "每日两次"})
	if err != nil {
		t.Fatalf("update by key: %v", err)
	}
	if updated.ID != created.ID || updated.Dosage != "400mg" {
		t.Errorf("unexpected update result: %+v", updated)
	}

	if _, err := s.UpdateByKey(ctx, created.Key(), *updated); !errors.Is(err, ErrNotFound) {
		t.Errorf("old key should no longer match, got %v", err)
	}
}

func TestByKey_AmbiguousRefused(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	r := Reminder{MedicineName: "布洛芬", Dosage: "200mg", Timing: "每日两次"}
	for i := 0; i < 2; i++ {
		if _, err := s.Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := s.DeleteByKey(ctx, r.Key()); !errors.Is(err, ErrAmbiguousKey) {
		t.Fatalf("expected ambiguous key, got %v", err)
	}
	if _, err := s.UpdateByKey(ctx, r.Key(), r); !errors.Is(err, ErrAmbiguousKey) {
		t.Fatalf("expected ambiguous key, got %v", err)
	}
	if len(repo.rows) != 2 {
		t.Errorf("rows must be untouched, got %d", len(repo.rows))
	}
}

func TestDeleteByKey(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	r, err := s.Create(ctx, Reminder{MedicineName: "氯雷他定", Dosage: "10mg", Timing: "每日一次"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteByKey(ctx, r.Key()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(repo.rows) != 0 {
		t.Errorf("expected no rows, got %d", len(repo.rows))
	}
	if err := s.DeleteByKey(ctx, r.Key()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestBatchUpdate(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"阿莫西林", "布洛芬", "甲硝唑"} {
		r, err := s.Create(ctx, Reminder{MedicineName: name, Dosage: "1片", Timing: "每日一次"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, r.ID)
	}

	timing := "睡前"
	n, err := s.BatchUpdate(ctx, ids[:2], Patch{Timing: &timing})
	if err != nil {
		t.Fatalf("batch update: %v", err)
	}
	if n != 2 {
		t.Errorf("changed = %d, want 2", n)
	}
	if repo.rows[0].Timing != "睡前" || repo.rows[2].Timing != "每日一次" {
		t.Errorf("unexpected rows: %+v", repo.rows)
	}

	if _, err := s.BatchUpdate(ctx, ids, Patch{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty patch should be rejected, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.Create(context.Background(), Reminder{MedicineName: "  ", Dosage: "1片"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}
