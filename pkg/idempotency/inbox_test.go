package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type memEntries struct {
	mu   sync.Mutex
	rows map[string]*Entry
	now  func() time.Time
}

func newMemEntries(now func() time.Time) *memEntries {
	return &memEntries{rows: map[string]*Entry{}, now: now}
}

func (m *memEntries) get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[key]
	if !ok {
		return nil, errNoEntry
	}
	cp := *e
	return &cp, nil
}

func (m *memEntries) claim(_ context.Context, key, handler string, payload json.RawMessage, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.rows[key]; ok {
		if e.Status != StatusRecoverable {
			return ErrDuplicateMessage
		}
		e.Status = StatusStarted
		e.UpdatedAt = m.now()
		return nil
	}
	m.rows[key] = &Entry{
		IdempotencyKey: key, HandlerName: handler, Status: StatusStarted,
		Payload: payload, CreatedAt: m.now(), UpdatedAt: m.now(), ExpiresAt: &expires,
	}
	return nil
}

func (m *memEntries) setStatus(_ context.Context, key string, status Status, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.rows[key]
	e.Status = status
	if result != nil {
		e.Result = result
	}
	e.UpdatedAt = m.now()
	return nil
}

func (m *memEntries) sweep(context.Context) (int64, error) { return 0, nil }

func newTestInbox(now *time.Time) (*Inbox, *memEntries) {
	clock := func() time.Time { return *now }
	store := newMemEntries(clock)
	ib := newInbox(store, DefaultInboxConfig(), nil)
	ib.now = clock
	return ib, store
}

func TestProcessRunsOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ib, _ := newTestInbox(&now)

	calls := 0
	fn := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"upserted":2}`), nil
	}

	first, err := ib.Process(context.Background(), "k", "ingest", json.RawMessage(`{}`), fn)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Duplicate {
		t.Error("first run reported duplicate")
	}

	second, err := ib.Process(context.Background(), "k", "ingest", json.RawMessage(`{}`), fn)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Duplicate || string(second.Result) != `{"upserted":2}` {
		t.Errorf("second = %+v", second)
	}
	if calls != 1 {
		t.Errorf("handler called %d times", calls)
	}
}

func TestProcessRetriesRecoverableError(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ib, store := newTestInbox(&now)

	boom := errors.New("db down")
	_, err := ib.Process(context.Background(), "k", "ingest", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if s := store.rows["k"].Status; s != StatusRecoverable {
		t.Fatalf("status = %s", s)
	}

	res, err := ib.Process(context.Background(), "k", "ingest", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.WasRecovered {
		t.Error("expected WasRecovered")
	}
}

func TestProcessTerminalErrorIsFinal(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ib, _ := newTestInbox(&now)

	bad := Terminal(errors.New("no medication entries"))
	if _, err := ib.Process(context.Background(), "k", "ingest", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, bad
	}); !IsTerminal(err) {
		t.Fatalf("got %v", err)
	}

	_, err := ib.Process(context.Background(), "k", "ingest", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Error("handler must not run again")
		return nil, nil
	})
	if !errors.Is(err, ErrPreviouslyFailed) {
		t.Errorf("got %v, want ErrPreviouslyFailed", err)
	}
}

func TestProcessStaleStartedIsRecovered(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ib, store := newTestInbox(&now)
	store.rows["k"] = &Entry{IdempotencyKey: "k", Status: StatusStarted, UpdatedAt: now}

	if _, err := ib.Process(context.Background(), "k", "ingest", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}); !errors.Is(err, ErrMessageInProgress) {
		t.Fatalf("fresh STARTED: got %v", err)
	}

	now = now.Add(10 * time.Minute)
	res, err := ib.Process(context.Background(), "k", "ingest", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	if err != nil {
		t.Fatalf("stale STARTED: %v", err)
	}
	if !res.WasRecovered || store.rows["k"].Status != StatusFinished {
		t.Errorf("res = %+v, status = %s", res, store.rows["k"].Status)
	}
}

func TestGenerateKey(t *testing.T) {
	a := GenerateKey("narrative.results", "abc")
	if a != GenerateKey("narrative.results", "abc") {
		t.Error("key is not deterministic")
	}
	if GenerateKey("ab", "c") == GenerateKey("a", "bc") {
		t.Error("part boundaries must change the key")
	}
	if len(a) != 64 {
		t.Errorf("len = %d", len(a))
	}
}

func TestTerminalNil(t *testing.T) {
	if Terminal(nil) != nil {
		t.Error("Terminal(nil) should be nil")
	}
	if IsTerminal(errors.New("x")) {
		t.Error("plain error is not terminal")
	}
}
