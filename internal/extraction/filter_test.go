package extraction

import (
	"reflect"
	"testing"
)

func TestFilter(t *testing.T) {
	in := []Candidate{
		{Name: "阿莫西林", DosageAndUsage: "0.5g", SourceTier: TierFull},
		{Name: DefaultSentinel, DosageAndUsage: "暂不使用", SourceTier: TierMedium},
		{Name: "布洛芬", DosageAndUsage: "200mg", SourceTier: TierMedium},
		{Name: "阿莫西林", DosageAndUsage: "1g", SourceTier: TierMedium},
		{Name: " 布洛芬 ", DosageAndUsage: "400mg", SourceTier: TierLoose},
	}

	got := Filter(in, DefaultSentinel)
	want := []Candidate{in[0], in[2]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Filter() = %+v, want %+v", got, want)
	}

	again := Filter(got, DefaultSentinel)
	if !reflect.DeepEqual(again, got) {
		t.Errorf("Filter is not idempotent: %+v then %+v", got, again)
	}
}

func TestFilter_Empty(t *testing.T) {
	got := Filter(nil, DefaultSentinel)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFilter_SentinelIsExactMatch(t *testing.T) {
	in := []Candidate{{Name: DefaultSentinel + "（见备注）", DosageAndUsage: "-"}}
	if got := Filter(in, DefaultSentinel); len(got) != 1 {
		t.Errorf("only exact sentinel names should be dropped, got %+v", got)
	}
}
