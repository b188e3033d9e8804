package extraction

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// accumulator applies the append-time rules shared by Extract and Filter:
// sentinel names are dropped and the first candidate seen for a name wins.
type accumulator struct {
	sentinels     map[string]struct{}
	seen          map[string]struct{}
	out           []Candidate
	sentinelSkips int
	duplicates    int
}

func newAccumulator(sentinels []string) *accumulator {
	acc := &accumulator{
		sentinels: make(map[string]struct{}, len(sentinels)),
		seen:      make(map[string]struct{}),
	}
	for _, s := range sentinels {
		acc.sentinels[nameKey(s)] = struct{}{}
	}
	return acc
}

func (a *accumulator) isSentinel(name string) bool {
	_, ok := a.sentinels[nameKey(name)]
	return ok
}

func (a *accumulator) add(c Candidate) bool {
	key := nameKey(c.Name)
	if key == "" {
		return false
	}
	if a.isSentinel(c.Name) {
		a.sentinelSkips++
		return false
	}
	if _, ok := a.seen[key]; ok {
		a.duplicates++
		return false
	}
	a.seen[key] = struct{}{}
	a.out = append(a.out, c)
	return true
}

// Filter drops sentinel-named candidates and collapses repeated names,
// keeping the first occurrence. Order is preserved and applying it twice
// yields the same slice contents.
func Filter(candidates []Candidate, sentinels ...string) []Candidate {
	acc := newAccumulator(sentinels)
	for _, c := range candidates {
		acc.add(c)
	}
	if acc.out == nil {
		return []Candidate{}
	}
	return acc.out
}

func nameKey(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
