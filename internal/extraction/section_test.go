package extraction

import "testing"

func TestSections(t *testing.T) {
	got := Sections(narrative)
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %d: %+v", len(got), got)
	}
	if got[0].Title != "诊断分析" || got[0].Body != "主要诊断：急性支气管炎" {
		t.Errorf("unexpected first section: %+v", got[0])
	}
	if got[1].Title != "用药方案" {
		t.Errorf("unexpected second title: %q", got[1].Title)
	}
}

func TestSections_Preamble(t *testing.T) {
	got := Sections("分析如下\n=== 用药建议 ===\n多饮水")
	if len(got) != 2 {
		t.Fatalf("expected preamble plus one section, got %+v", got)
	}
	if got[0].Title != "" || got[0].Body != "分析如下" {
		t.Errorf("unexpected preamble: %+v", got[0])
	}
}

func TestSelectSection(t *testing.T) {
	body, ok := SelectSection(narrative, "用药方案")
	if !ok {
		t.Fatal("expected medication section")
	}
	cands := Extract(body)
	if len(cands) != 3 {
		t.Errorf("expected 3 candidates from section, got %+v", cands)
	}

	if _, ok := SelectSection(narrative, "随访计划"); ok {
		t.Error("expected missing section to report false")
	}
}

func TestSelectSection_RawSegment(t *testing.T) {
	body, ok := SelectSection("概述 === 推荐用药 - 布洛芬：200mg，每日两次", "推荐用药")
	if !ok {
		t.Fatal("expected raw segment match")
	}
	if body != "推荐用药 - 布洛芬：200mg，每日两次" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestExtractDiagnosis(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"sectioned narrative", narrative, "急性支气管炎", true},
		{"ascii label", "Diagnosis: community-acquired pneumonia\n\nPlan: rest", "community-acquired pneumonia", true},
		{"multi-line until blank", "诊断：高血压\n2型糖尿病\n\n其他", "高血压\n2型糖尿病", true},
		{"absent", "无相关记录", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractDiagnosis(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractDiagnosis() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
