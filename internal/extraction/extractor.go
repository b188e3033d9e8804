package extraction

import (
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// DefaultSentinel marks a narrative line that explicitly recommends no drug.
const DefaultSentinel = "无抗生素推荐"

// Candidate is an unvalidated match produced by a single grammar tier.
type Candidate struct {
	Name              string `json:"name"`
	DosageAndUsage    string `json:"dosage_and_usage"`
	FrequencyOrTiming string `json:"frequency_or_timing"`
	ExplanatoryNote   string `json:"explanatory_note,omitempty"`
	CautionNote       string `json:"caution_note,omitempty"`
	SourceTier        Tier   `json:"source_tier"`
}

// Status reports whether an extraction found anything.
type Status string

const (
	StatusMatched Status = "matched"
	StatusNoMatch Status = "no_match"
)

// Result is the outcome of one extraction call.
type Result struct {
	Candidates    []Candidate `json:"candidates"`
	Status        Status      `json:"status"`
	Malformed     int         `json:"malformed"`
	SentinelSkips int         `json:"sentinel_skips"`
	Duplicates    int         `json:"duplicates"`
	UsedFallback  bool        `json:"used_fallback"`
}

// Entries normalizes the result's candidates.
func (r Result) Entries() []Entry {
	return Entries(r.Candidates)
}

// CountByTier returns how many accepted candidates each tier contributed.
func (r Result) CountByTier() map[Tier]int {
	counts := make(map[Tier]int)
	for _, c := range r.Candidates {
		counts[c.SourceTier]++
	}
	return counts
}

// Extractor runs the grammar cascade. It holds no per-call state and is safe
// for concurrent use.
type Extractor struct {
	grammars  []Grammar
	fallback  *Grammar
	sentinels []string
	logger    *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSentinels replaces the sentinel phrase list.
func WithSentinels(sentinels ...string) Option {
	return func(e *Extractor) {
		e.sentinels = nil
		for _, s := range sentinels {
			if s = strings.TrimSpace(s); s != "" {
				e.sentinels = append(e.sentinels, norm.NFC.String(s))
			}
		}
	}
}

// WithGrammars replaces the cascade tiers and fallback. A nil fallback
// disables the last-resort pass.
func WithGrammars(grammars []Grammar, fallback *Grammar) Option {
	return func(e *Extractor) {
		e.grammars = grammars
		e.fallback = fallback
	}
}

// WithLogger sets the logger used for skipped-line diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor with the default grammars and sentinel.
func New(opts ...Option) *Extractor {
	fb := FallbackGrammar()
	e := &Extractor{
		grammars:  DefaultGrammars(),
		fallback:  &fb,
		sentinels: []string{DefaultSentinel},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultExtractor = New()

// Extract runs the default cascade over text and returns the accepted
// candidates.
func Extract(text string) []Candidate {
	return defaultExtractor.Extract(text).Candidates
}

// Extract applies every tier to the whole text in tier order, then the
// fallback grammar when nothing was accepted.
func (e *Extractor) Extract(text string) Result {
	text = normalizeText(text)
	acc := newAccumulator(e.sentinels)
	var (
		res Result
		st  scanState
	)

	for _, g := range e.grammars {
		e.scan(g, text, 0, acc, &res, &st)
	}
	if len(acc.out) == 0 && e.fallback != nil {
		res.UsedFallback = true
		// Lines a cascade tier rejected stay rejected.
		st.skipMalformed = true
		e.scan(*e.fallback, text, 0, acc, &res, &st)
	}

	res.Candidates = acc.out
	res.SentinelSkips = acc.sentinelSkips
	res.Duplicates = acc.duplicates
	res.Status = StatusMatched
	if len(res.Candidates) == 0 {
		res.Status = StatusNoMatch
		res.Candidates = []Candidate{}
	}
	return res
}

// span is a byte range [from, to) of the normalized input.
type span struct{ from, to int }

func (s span) overlaps(o span) bool { return s.from < o.to && o.from < s.to }

// lineSpan covers text from start to the end of its line.
func lineSpan(text string, start int) span {
	end := len(text)
	if i := strings.IndexByte(text[start:], '\n'); i >= 0 {
		end = start + i
	}
	return span{start, end}
}

// scanState carries malformed lines across tiers.
type scanState struct {
	malformed     []span
	skipMalformed bool
}

func (st *scanState) rejected(m span) bool {
	if !st.skipMalformed {
		return false
	}
	for _, bad := range st.malformed {
		if m.overlaps(bad) {
			return true
		}
	}
	return false
}

// scan applies g to text, which begins at byte base of the full input.
func (e *Extractor) scan(g Grammar, text string, base int, acc *accumulator, res *Result, st *scanState) {
	nameIdx := g.Pattern.SubexpIndex(groupName)
	for _, loc := range g.Pattern.FindAllStringSubmatchIndex(text, -1) {
		if st.rejected(span{base + loc[0], base + loc[1]}) {
			continue
		}
		c, err := g.candidate(submatches(text, loc))
		switch {
		case errors.Is(err, errMalformed):
			res.Malformed++
			ls := lineSpan(text, loc[0])
			st.malformed = append(st.malformed, span{base + ls.from, base + ls.to})
			e.logger.Debug("skipping malformed medication line",
				zap.Stringer("tier", g.Tier),
				zap.String("line", strings.TrimSpace(text[loc[0]:loc[1]])))
			continue
		case err != nil:
			continue
		}

		if acc.isSentinel(c.Name) {
			acc.sentinelSkips++
			// The rest of a sentinel line may still name a real drug.
			if nameIdx > 0 && loc[2*nameIdx+1] >= 0 {
				restAt := loc[2*nameIdx+1]
				_, w := utf8.DecodeRuneInString(text[restAt:loc[1]])
				e.scan(g, text[restAt+w:loc[1]], base+restAt+w, acc, res, st)
			}
			continue
		}
		acc.add(c)
	}
}

func submatches(text string, loc []int) []string {
	m := make([]string, len(loc)/2)
	for i := range m {
		if loc[2*i] >= 0 {
			m[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return m
}

// normalizeText composes Unicode to NFC and unifies line endings so that
// equivalent names compare equal and (?m) anchors see every line.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return norm.NFC.String(text)
}
