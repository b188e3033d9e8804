package extraction

import (
	"regexp"
	"strings"
)

// SectionDelimiter separates named parts of a narrative, as in
// "=== 用药方案 ===".
const SectionDelimiter = "==="

// QuickSections are the section names offered for one-step selection.
var QuickSections = []string{"用药方案", "治疗方案", "推荐用药", "用药建议"}

var sectionHeader = regexp.MustCompile(`^\s*={3,}\s*(.*?)\s*={3,}\s*$`)

// Section is one titled part of a narrative. Text before the first header
// forms a section with an empty title.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Sections splits text on "=== Title ===" header lines.
func Sections(text string) []Section {
	text = normalizeText(text)
	var (
		out     []Section
		current Section
		body    []string
		started bool
	)
	flush := func() {
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if started || current.Body != "" {
			out = append(out, current)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			flush()
			current = Section{Title: m[1]}
			body = body[:0]
			started = true
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

// SelectSection returns the body of the first section whose title contains
// name. When no header matches, the first raw delimiter-separated segment
// containing name is returned instead.
func SelectSection(text, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, s := range Sections(text) {
		if s.Title != "" && strings.Contains(s.Title, name) {
			return s.Body, true
		}
	}
	for _, seg := range strings.Split(normalizeText(text), SectionDelimiter) {
		if strings.Contains(seg, name) {
			return strings.TrimSpace(seg), true
		}
	}
	return "", false
}

var diagnosisLabel = regexp.MustCompile(`(?:诊断|(?i:diagnosis))[：:]`)

// ExtractDiagnosis returns the text following the first diagnosis label, up
// to the next blank line.
func ExtractDiagnosis(text string) (string, bool) {
	text = normalizeText(text)
	loc := diagnosisLabel.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	rest := text[loc[1]:]
	if i := strings.Index(rest, "\n\n"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
