// Package integration exercises the Postgres stores against a live database.
// Set TEST_DATABASE_URL to run.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/internal/domain/prescription"
	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/infrastructure/postgres"
	"github.com/drfirst/go-medplan/pkg/idempotency"
)

func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := postgres.NewMigrator(pool, postgres.Migrations()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx,
		`TRUNCATE medication_reminders, prescription_items, prescriptions, outbox, inbox RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func TestReminderUpsertRoundTrip(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	store := reminder.NewStore(reminder.NewPGRepository(pool), zap.NewNop())

	entries := extraction.New().Extract("- 阿莫西林：0.5g，每日三次\n- 布洛芬：200mg 每日两次\n").Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}

	first, err := store.UpsertFromEntries(ctx, entries)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if len(first.Inserted) != 2 || first.Inserted[0].ID == 0 {
		t.Fatalf("first = %+v", first)
	}

	second, err := store.UpsertFromEntries(ctx, entries)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if len(second.Inserted) != 2 {
		t.Errorf("second = %+v", second)
	}

	all, err := store.List(ctx)
	if err != nil || len(all) != 4 {
		t.Fatalf("list = %d, %v", len(all), err)
	}

	if err := store.DeleteByKey(ctx, all[0].Key()); !errors.Is(err, reminder.ErrAmbiguousKey) {
		t.Errorf("DeleteByKey = %v, want ErrAmbiguousKey", err)
	}

	timing := "睡前"
	n, err := store.BatchUpdate(ctx, []int64{all[0].ID, all[1].ID}, reminder.Patch{Timing: &timing})
	if err != nil || n != 2 {
		t.Errorf("BatchUpdate = %d, %v", n, err)
	}
}

func TestPrescriptionLifecycle(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	mgr := prescription.NewManager(prescription.NewRepository(pool, zap.NewNop()), zap.NewNop())

	created, err := mgr.Create(ctx, prescription.Prescription{
		Type:     prescription.TypeOrdinary,
		Category: prescription.CategoryWestern,
		Patient:  prescription.Patient{Name: "张三", Gender: "男", Age: 40},
	}, []prescription.Item{
		{MedicineName: "阿莫西林", Dosage: "0.5g", Quantity: 2, Unit: "盒"},
		{MedicineName: "布洛芬", Dosage: "200mg", Quantity: 1, Unit: "盒"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, items, err := mgr.Get(ctx, created.Number)
	if err != nil || len(items) != 2 {
		t.Fatalf("get = %d items, %v", len(items), err)
	}
	if items[0].Position != 1 || items[1].Position != 2 {
		t.Errorf("positions = %d, %d", items[0].Position, items[1].Position)
	}

	if _, err := mgr.Transition(ctx, created.Number, prescription.StatusDispensing); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := mgr.Transition(ctx, created.Number, prescription.StatusUnfilled); !errors.Is(err, prescription.ErrInvalidTransition) {
		t.Errorf("backwards transition = %v", err)
	}

	if err := mgr.Delete(ctx, created.Number); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var left int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM prescription_items`).Scan(&left); err != nil || left != 0 {
		t.Errorf("items left = %d, %v", left, err)
	}
	if _, _, err := mgr.Get(ctx, created.Number); !errors.Is(err, prescription.ErrNotFound) {
		t.Errorf("get after delete = %v", err)
	}
}

func TestInboxRunsOnce(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), zap.NewNop())

	calls := 0
	fn := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"ok":true}`), nil
	}

	key := idempotency.GenerateKey("narrative.results", "k1")
	for i := 0; i < 2; i++ {
		if _, err := inbox.Process(ctx, key, "test", json.RawMessage(`{}`), fn); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
