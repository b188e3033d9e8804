// Package extraction turns semi-structured medication narrative into
// candidate records using an ordered list of regex grammars.
package extraction

import (
	"errors"
	"regexp"
	"strings"
)

// Tier identifies which grammar produced a candidate. Lower is stricter.
type Tier int

const (
	TierFull     Tier = 1
	TierMedium   Tier = 2
	TierLoose    Tier = 3
	TierFallback Tier = 4
)

// String returns the metric/log label for the tier.
func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierMedium:
		return "medium"
	case TierLoose:
		return "loose"
	case TierFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Capture group names shared by every grammar.
const (
	groupName    = "name"
	groupDosage  = "dosage"
	groupDosage2 = "dosage2"
	groupUsage   = "usage"
	groupExplain = "explain"
	groupCaution = "caution"
)

// Pattern fragments. A marker is a list bullet; the name runs up to the first
// colon (full-width or ASCII). The dosage clause prefers a comma boundary and
// falls back to the first run of whitespace when the line has no comma.
const (
	fragMarker  = `[-*•·]`
	fragName    = `[ \t]*(?P<name>[^：:\n]+)[：:][ \t]*`
	fragDosage  = `(?:(?P<dosage>[^,，：:\n]+)[,，][ \t]*|(?P<dosage2>[^\s,，：:]+)[ \t]+)`
	fragUsage   = `(?P<usage>[^\n]+)`
	fragUsageTo = `(?P<usage>[^\n]+?)`
	fragExplain = `(?:\s+(?:用药)?说明[：:][ \t]*(?P<explain>[^\n]+?))?`
	fragCaution = `(?:\s+注意(?:事项)?[：:][ \t]*(?P<caution>[^\n]+?))?`
	// Loose anchoring: a marker at line start or after whitespace/colon.
	fragLooseStart = `(?:^|[ \t\x{3000}：:])`
)

var (
	errDeclined  = errors.New("grammar declined match")
	errMalformed = errors.New("required clause empty")
)

// Grammar is one declarative tier of the cascade: a pattern plus the capture
// groups that must be non-empty after trimming.
type Grammar struct {
	Tier     Tier
	Pattern  *regexp.Regexp
	Required []string
	// RequireNote makes the grammar decline matches that carry neither note.
	RequireNote bool
}

// DefaultGrammars returns the three cascade tiers in application order.
func DefaultGrammars() []Grammar {
	return []Grammar{
		{
			Tier: TierFull,
			Pattern: regexp.MustCompile(`(?m)^` + fragMarker + fragName + fragDosage + fragUsageTo +
				fragExplain + fragCaution + `[ \t]*$`),
			Required:    []string{groupName, groupDosage, groupUsage},
			RequireNote: true,
		},
		{
			Tier:     TierMedium,
			Pattern:  regexp.MustCompile(`(?m)^` + fragMarker + fragName + fragDosage + fragUsage),
			Required: []string{groupName, groupDosage, groupUsage},
		},
		{
			Tier:     TierLoose,
			Pattern:  regexp.MustCompile(`(?m)` + fragLooseStart + fragMarker + fragName + fragDosage + fragUsage),
			Required: []string{groupName, groupDosage, groupUsage},
		},
	}
}

// FallbackGrammar matches a name with a single dosage/usage clause. It only
// runs when the cascade produced nothing. The clause may not open with a
// comma, which marks an empty dosage.
func FallbackGrammar() Grammar {
	return Grammar{
		Tier:     TierFallback,
		Pattern:  regexp.MustCompile(`(?m)` + fragLooseStart + fragMarker + `[ \t]*(?P<name>[^：:\n]+)[：:][ \t]*(?P<dosage>[^,，\s][^\n]*)`),
		Required: []string{groupName, groupDosage},
	}
}

// group returns the trimmed value of a named group, "" when absent.
func (g Grammar) group(m []string, name string) string {
	idx := g.Pattern.SubexpIndex(name)
	if idx < 0 || idx >= len(m) {
		return ""
	}
	return strings.TrimSpace(m[idx])
}

// candidate builds a Candidate from one submatch. It returns errMalformed when
// a required clause is blank and errDeclined when the grammar does not apply.
func (g Grammar) candidate(m []string) (Candidate, error) {
	dosage := g.group(m, groupDosage)
	if dosage == "" {
		dosage = g.group(m, groupDosage2)
	}
	c := Candidate{
		Name:              strings.Trim(g.group(m, groupName), "* \t"),
		DosageAndUsage:    dosage,
		FrequencyOrTiming: g.group(m, groupUsage),
		ExplanatoryNote:   g.group(m, groupExplain),
		CautionNote:       g.group(m, groupCaution),
		SourceTier:        g.Tier,
	}

	if g.RequireNote && c.ExplanatoryNote == "" && c.CautionNote == "" {
		return Candidate{}, errDeclined
	}

	for _, req := range g.Required {
		var v string
		switch req {
		case groupName:
			v = c.Name
		case groupDosage:
			v = c.DosageAndUsage
		case groupUsage:
			v = c.FrequencyOrTiming
		default:
			v = g.group(m, req)
		}
		if v == "" {
			return Candidate{}, errMalformed
		}
	}
	return c, nil
}
