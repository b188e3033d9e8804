package schedule

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/drfirst/go-medplan/internal/extraction"
)

var start = time.Date(2026, 3, 30, 15, 4, 5, 0, time.UTC)

func TestExpand_TwiceDailyOverThreeDays(t *testing.T) {
	entries := []extraction.Entry{{Name: "布洛芬", Dosage: "200mg", Timing: "twice daily"}}

	got, err := Expand(start, entries, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 occurrences, got %d", len(got))
	}

	wantDays := []string{"2026-03-30", "2026-03-30", "2026-03-31", "2026-03-31", "2026-04-01", "2026-04-01"}
	wantTimes := []string{"08:00", "20:00", "08:00", "20:00", "08:00", "20:00"}
	for i, o := range got {
		if o.Day() != wantDays[i] || o.ClockTime != wantTimes[i] {
			t.Errorf("occurrence %d = %s %s, want %s %s", i, o.Day(), o.ClockTime, wantDays[i], wantTimes[i])
		}
		if o.MedicineName != "布洛芬" || o.Dosage != "200mg" {
			t.Errorf("occurrence %d lost entry fields: %+v", i, o)
		}
	}
}

func TestExpand_InvalidWindow(t *testing.T) {
	entries := []extraction.Entry{{Name: "布洛芬", Dosage: "200mg", Timing: "twice daily"}}
	for _, days := range []int{0, -1, 366} {
		got, err := Expand(start, entries, days, nil)
		if !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("days=%d: expected ErrInvalidWindow, got %v", days, err)
		}
		if got != nil {
			t.Errorf("days=%d: expected no occurrences, got %d", days, len(got))
		}
	}
	if _, err := Expand(start, entries, 365, nil); err != nil {
		t.Errorf("365 days should be accepted: %v", err)
	}
}

func TestExpand_SortedAcrossEntries(t *testing.T) {
	entries := []extraction.Entry{
		{Name: "阿莫西林", Dosage: "0.5g", Timing: "three times daily"},
		{Name: "氯雷他定", Dosage: "10mg", Timing: "once daily"},
		{Name: "对乙酰氨基酚", Dosage: "0.5g", Timing: "every 6 hours"},
	}
	got, err := Expand(start, entries, 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2*(3+1+4) {
		t.Fatalf("unexpected occurrence count %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.Date.Before(prev.Date) || (cur.Date.Equal(prev.Date) && cur.ClockTime < prev.ClockTime) {
			t.Fatalf("occurrences out of order at %d: %+v then %+v", i, prev, cur)
		}
	}
	if got[0].ClockTime != "06:00" || got[0].MedicineName != "对乙酰氨基酚" {
		t.Errorf("unexpected first occurrence: %+v", got[0])
	}
	// Entry order is kept for equal slots.
	if got[1].MedicineName != "阿莫西林" || got[2].MedicineName != "氯雷他定" {
		t.Errorf("unexpected 08:00 ordering: %+v, %+v", got[1], got[2])
	}
}

func TestClockTable_Resolve(t *testing.T) {
	table := DefaultClockTable()
	tests := []struct {
		descriptor string
		want       []string
	}{
		{"once daily", []string{"08:00"}},
		{"Twice  Daily", []string{"08:00", "20:00"}},
		{"four times daily", []string{"06:00", "12:00", "18:00", "24:00"}},
		{"every 6 hours", []string{"06:00", "12:00", "18:00", "24:00"}},
		{"每日三次（饭后）", []string{"08:00", "14:00", "20:00"}},
		{"as needed", []string{DefaultSlot}},
		{"", []string{DefaultSlot}},
	}
	for _, tt := range tests {
		if got := table.Resolve(tt.descriptor); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Resolve(%q) = %v, want %v", tt.descriptor, got, tt.want)
		}
	}
}

func TestExpander_OverrideRegeneratesFully(t *testing.T) {
	x := &Expander{Table: DefaultClockTable(), Now: func() time.Time { return start }}
	entries := []extraction.Entry{{Name: "二甲双胍", Dosage: "0.5g", Timing: "twice daily"}}

	base, err := x.Expand(entries, 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	override := ClockTable{"twice daily": {"07:30", "19:30"}}
	changed, err := x.Expand(entries, 2, override)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != len(base) {
		t.Fatalf("expected same count, got %d vs %d", len(changed), len(base))
	}
	for _, o := range changed {
		if o.ClockTime != "07:30" && o.ClockTime != "19:30" {
			t.Errorf("stale slot after override: %+v", o)
		}
	}

	again, _ := x.Expand(entries, 2, nil)
	if !reflect.DeepEqual(again, base) {
		t.Error("override leaked into later expansions")
	}
}

func TestExpand_RejectsBadClockTable(t *testing.T) {
	entries := []extraction.Entry{{Name: "x", Dosage: "1", Timing: "once daily"}}
	_, err := Expand(start, entries, 1, ClockTable{"once daily": {"8am"}})
	if !errors.Is(err, ErrInvalidClockTime) {
		t.Errorf("expected ErrInvalidClockTime, got %v", err)
	}
}
