package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/drfirst/go-medplan/internal/api/handlers"
	"github.com/drfirst/go-medplan/internal/domain/prescription"
	"github.com/drfirst/go-medplan/internal/domain/reminder"
	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/internal/narrative"
	"github.com/drfirst/go-medplan/internal/schedule"
)

// fakePrescriptions keeps headers and items in maps keyed by number.
type fakePrescriptions struct {
	headers map[string]prescription.Prescription
	items   map[string][]prescription.Item
	seq     int
}

func newFakePrescriptions() *fakePrescriptions {
	return &fakePrescriptions{headers: map[string]prescription.Prescription{}, items: map[string][]prescription.Item{}}
}

func (f *fakePrescriptions) Create(_ context.Context, h prescription.Prescription, items []prescription.Item) (*prescription.Prescription, error) {
	if len(items) == 0 {
		return nil, prescription.ErrInvalidInput
	}
	f.seq++
	h.ID = int64(f.seq)
	h.Number = fmt.Sprintf("RX20240301093%03d", f.seq)
	h.Status = prescription.StatusUnfilled
	f.headers[h.Number] = h
	f.items[h.Number] = items
	return &h, nil
}

func (f *fakePrescriptions) Update(_ context.Context, number string, h prescription.Prescription, items []prescription.Item) (*prescription.Prescription, error) {
	cur, ok := f.headers[number]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	h.ID, h.Number, h.Status = cur.ID, cur.Number, cur.Status
	f.headers[number] = h
	f.items[number] = items
	return &h, nil
}

func (f *fakePrescriptions) Delete(_ context.Context, number string) error {
	if _, ok := f.headers[number]; !ok {
		return prescription.ErrNotFound
	}
	delete(f.headers, number)
	delete(f.items, number)
	return nil
}

func (f *fakePrescriptions) ListAll(context.Context) ([]prescription.Prescription, error) {
	var out []prescription.Prescription
	for _, h := range f.headers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueDate.After(out[j].IssueDate) })
	return out, nil
}

func (f *fakePrescriptions) Get(_ context.Context, number string) (*prescription.Prescription, []prescription.Item, error) {
	h, ok := f.headers[number]
	if !ok {
		return nil, nil, prescription.ErrNotFound
	}
	return &h, f.items[number], nil
}

func (f *fakePrescriptions) Transition(_ context.Context, number string, to prescription.Status) (*prescription.Prescription, error) {
	h, ok := f.headers[number]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	if err := h.Transition(to, time.Now()); err != nil {
		return nil, err
	}
	f.headers[number] = h
	return &h, nil
}

// fakeReminders is a thin map-backed reminder service.
type fakeReminders struct {
	rows map[int64]reminder.Reminder
	next int64
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{rows: map[int64]reminder.Reminder{}}
}

func (f *fakeReminders) add(r reminder.Reminder) reminder.Reminder {
	f.next++
	r.ID = f.next
	f.rows[r.ID] = r
	return r
}

func (f *fakeReminders) match(k reminder.Key) []reminder.Reminder {
	var out []reminder.Reminder
	for _, r := range f.rows {
		if r.Key() == k {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeReminders) UpsertFromEntries(_ context.Context, entries []extraction.Entry) (*reminder.UpsertResult, error) {
	res := &reminder.UpsertResult{}
	for _, e := range entries {
		res.Inserted = append(res.Inserted, f.add(reminder.FromEntry(e)))
	}
	return res, nil
}

func (f *fakeReminders) Create(_ context.Context, r reminder.Reminder) (*reminder.Reminder, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := f.add(r)
	return &out, nil
}

func (f *fakeReminders) List(context.Context) ([]reminder.Reminder, error) {
	var out []reminder.Reminder
	for id := int64(1); id <= f.next; id++ {
		if r, ok := f.rows[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReminders) Get(_ context.Context, id int64) (*reminder.Reminder, error) {
	r, ok := f.rows[id]
	if !ok {
		return nil, reminder.ErrNotFound
	}
	return &r, nil
}

func (f *fakeReminders) Find(_ context.Context, k reminder.Key) ([]reminder.Reminder, error) {
	return f.match(k), nil
}

func (f *fakeReminders) Update(_ context.Context, id int64, r reminder.Reminder) (*reminder.Reminder, error) {
	if _, ok := f.rows[id]; !ok {
		return nil, reminder.ErrNotFound
	}
	r.ID = id
	f.rows[id] = r
	return &r, nil
}

func (f *fakeReminders) Delete(_ context.Context, id int64) error {
	if _, ok := f.rows[id]; !ok {
		return reminder.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeReminders) UpdateByKey(ctx context.Context, k reminder.Key, r reminder.Reminder) (*reminder.Reminder, error) {
	m := f.match(k)
	switch len(m) {
	case 0:
		return nil, reminder.ErrNotFound
	case 1:
		return f.Update(ctx, m[0].ID, r)
	}
	return nil, reminder.ErrAmbiguousKey
}

func (f *fakeReminders) DeleteByKey(ctx context.Context, k reminder.Key) error {
	m := f.match(k)
	switch len(m) {
	case 0:
		return reminder.ErrNotFound
	case 1:
		return f.Delete(ctx, m[0].ID)
	}
	return reminder.ErrAmbiguousKey
}

func (f *fakeReminders) BatchUpdate(_ context.Context, ids []int64, p reminder.Patch) (int64, error) {
	if len(ids) == 0 || p.Empty() {
		return 0, reminder.ErrInvalidInput
	}
	var n int64
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			p.Apply(&r)
			f.rows[id] = r
			n++
		}
	}
	return n, nil
}

type stubNarrative struct {
	reply string
	err   error
}

func (s stubNarrative) Analyze(_ context.Context, req narrative.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return s.reply, s.err
}

func (s stubNarrative) CheckInteractions(_ context.Context, meds []string) (string, error) {
	if _, err := narrative.BuildInteractionPrompt(meds); err != nil {
		return "", err
	}
	return "无明显相互作用", nil
}

const sampleNarrative = `诊断：急性上呼吸道感染

=== 用药方案 ===
推荐用药：
- 布洛芬缓释胶囊：0.3g，每日两次
用药说明：发热时服用
- 阿莫西林胶囊：0.5g，每日三次
注意事项：青霉素过敏者禁用
`

type testEnv struct {
	router        http.Handler
	prescriptions *fakePrescriptions
	reminders     *fakeReminders
}

func newEnv(t *testing.T, withNarrative bool) *testEnv {
	t.Helper()
	env := &testEnv{prescriptions: newFakePrescriptions(), reminders: newFakeReminders()}
	x := schedule.NewExpander()
	x.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	d := Deps{
		Extractor:     extraction.New(),
		Expander:      x,
		WindowDays:    7,
		Prescriptions: env.prescriptions,
		Reminders:     env.reminders,
		APIKeys:       map[string]string{"k": "ward"},
	}
	if withNarrative {
		d.Narrative = stubNarrative{reply: "=== 初步诊断分析 ===\n主要诊断：感冒\n\n" + sampleNarrative}
	}
	env.router = NewRouter(d)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthNeedsNoKey(t *testing.T) {
	env := newEnv(t, false)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reminders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rec.Code)
	}
}

func TestExtractEndpoint(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/v1/extractions", handlers.ExtractRequest{Text: sampleNarrative, Section: "用药方案"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status    extraction.Status  `json:"status"`
		Entries   []extraction.Entry `json:"entries"`
		Diagnosis string             `json:"diagnosis"`
		Section   string             `json:"section"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != extraction.StatusMatched || len(resp.Entries) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Entries[0].Name != "布洛芬缓释胶囊" || resp.Entries[0].Dosage != "0.3g" {
		t.Errorf("first entry = %+v", resp.Entries[0])
	}
	if resp.Diagnosis != "急性上呼吸道感染" || resp.Section != "用药方案" {
		t.Errorf("diagnosis = %q, section = %q", resp.Diagnosis, resp.Section)
	}
}

func TestExtractRejectsEmptyText(t *testing.T) {
	env := newEnv(t, false)
	if rec := env.do(t, http.MethodPost, "/api/v1/extractions", handlers.ExtractRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/extractions", "{"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}
}

func TestPrescriptionLifecycle(t *testing.T) {
	env := newEnv(t, false)

	body := handlers.PrescriptionBody{
		Prescription: prescription.Prescription{
			Type: prescription.TypeOrdinary, Category: prescription.CategoryWestern,
			Patient: prescription.Patient{Name: "张三"}, Diagnosis: "感冒",
		},
		Items: []prescription.Item{{MedicineName: "布洛芬", Dosage: "0.3g", Quantity: 1, Unit: "盒"}},
	}
	rec := env.do(t, http.MethodPost, "/api/v1/prescriptions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created handlers.PrescriptionView
	decodeBody(t, rec, &created)
	if created.Number == "" || created.StatusLabel != "未调配" || len(created.Items) != 1 {
		t.Fatalf("created = %+v", created)
	}

	path := "/api/v1/prescriptions/" + created.Number
	if rec := env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, path+"/status", handlers.TransitionRequest{Status: prescription.StatusDispensing})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, path+"/status", handlers.TransitionRequest{Status: prescription.StatusUnfilled})
	if rec.Code != http.StatusConflict {
		t.Errorf("backwards transition status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, path+"/status", handlers.TransitionRequest{Status: "lost"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status = %d", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestPrescriptionCreateInvalid(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/v1/prescriptions", handlers.PrescriptionBody{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPrescriptionDraft(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/v1/prescriptions/draft", handlers.DraftRequest{Text: sampleNarrative})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var draft handlers.DraftResponse
	decodeBody(t, rec, &draft)
	if draft.Prescription.Diagnosis != "急性上呼吸道感染" || len(draft.Items) != 2 {
		t.Fatalf("draft = %+v", draft)
	}
	if draft.Items[0].Quantity != 1 || draft.Items[0].Unit != "盒" {
		t.Errorf("item = %+v", draft.Items[0])
	}
	if len(env.prescriptions.headers) != 0 {
		t.Error("draft must not persist")
	}
}

func TestPrescriptionOptions(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/v1/prescriptions/options", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "毒麻处方") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestReminderImportAndSchedule(t *testing.T) {
	env := newEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/reminders/import", handlers.ImportRequest{Text: sampleNarrative, Section: "用药方案"})
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.reminders.rows) != 2 {
		t.Fatalf("rows = %d", len(env.reminders.rows))
	}

	rec = env.do(t, http.MethodPost, "/api/v1/schedules", handlers.ScheduleRequest{Days: intPtr(2)})
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule status = %d: %s", rec.Code, rec.Body.String())
	}
	var sched handlers.ScheduleResponse
	decodeBody(t, rec, &sched)
	if len(sched.Occurrences) == 0 {
		t.Fatal("no occurrences")
	}
	for i := 1; i < len(sched.Occurrences); i++ {
		a, b := sched.Occurrences[i-1], sched.Occurrences[i]
		if a.Date.After(b.Date) || (a.Date.Equal(b.Date) && a.ClockTime > b.ClockTime) {
			t.Fatalf("occurrences out of order at %d", i)
		}
	}
}

func TestScheduleRejectsBadWindow(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/v1/schedules", handlers.ScheduleRequest{
		Entries: []extraction.Entry{{Name: "a", Dosage: "1片", Timing: "每日一次"}},
		Days:    intPtr(400),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func intPtr(n int) *int { return &n }

func TestScheduleExplicitZeroDaysRejected(t *testing.T) {
	env := newEnv(t, false)
	entries := []extraction.Entry{{Name: "a", Dosage: "1片", Timing: "每日一次"}}

	rec := env.do(t, http.MethodPost, "/api/v1/schedules", handlers.ScheduleRequest{Entries: entries, Days: intPtr(0)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("days=0 status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/schedules", handlers.ScheduleRequest{Entries: entries})
	if rec.Code != http.StatusOK {
		t.Fatalf("default window status = %d: %s", rec.Code, rec.Body.String())
	}
	var sched handlers.ScheduleResponse
	decodeBody(t, rec, &sched)
	if sched.Days != 7 {
		t.Errorf("days = %d, want the configured 7", sched.Days)
	}
}

func TestReminderImportNothingFound(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/v1/reminders/import", handlers.ImportRequest{Text: "无抗生素推荐"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestReminderKeyedOperations(t *testing.T) {
	env := newEnv(t, false)
	r := reminder.Reminder{MedicineName: "布洛芬", Dosage: "0.3g", Timing: "每日两次"}
	env.reminders.add(r)
	env.reminders.add(r)

	rec := env.do(t, http.MethodPut, "/api/v1/reminders/by-key", handlers.KeyedUpdate{Key: r.Key(), Reminder: r})
	if rec.Code != http.StatusConflict {
		t.Errorf("ambiguous update status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/reminders/1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete by id status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/reminders/by-key", r.Key()); rec.Code != http.StatusNoContent {
		t.Errorf("delete by key status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/reminders/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
}

func TestReminderBatch(t *testing.T) {
	env := newEnv(t, false)
	a := env.reminders.add(reminder.Reminder{MedicineName: "a", Dosage: "1片"})
	b := env.reminders.add(reminder.Reminder{MedicineName: "b", Dosage: "2片"})

	rec := env.do(t, http.MethodPatch, "/api/v1/reminders/batch",
		fmt.Sprintf(`{"ids":[%d,%d],"timing":"睡前"}`, a.ID, b.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.reminders.rows[a.ID].Timing != "睡前" || env.reminders.rows[b.ID].Timing != "睡前" {
		t.Errorf("rows = %+v", env.reminders.rows)
	}

	if rec := env.do(t, http.MethodPatch, "/api/v1/reminders/batch", `{"ids":[1]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch status = %d", rec.Code)
	}
}

func TestAnalysesMountedOnlyWithNarrative(t *testing.T) {
	env := newEnv(t, false)
	if rec := env.do(t, http.MethodPost, "/api/v1/analyses", narrative.Request{}); rec.Code != http.StatusNotFound {
		t.Errorf("status without narrative = %d", rec.Code)
	}

	env = newEnv(t, true)
	rec := env.do(t, http.MethodPost, "/api/v1/analyses", narrative.Request{Age: 30, Gender: "男", Symptoms: "发热"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp handlers.AnalysisResponse
	decodeBody(t, rec, &resp)
	if len(resp.Extraction.Entries) != 2 {
		t.Errorf("entries = %+v", resp.Extraction.Entries)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/analyses", narrative.Request{}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid request status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/analyses/interactions", handlers.InteractionRequest{Medications: []string{"a"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("single medication status = %d", rec.Code)
	}
}
