package trigger

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Evaluate applies each trigger's condition against the candidate index and
// returns the matches in trigger input order. A trigger matches at most once,
// on the first satisfying candidate. Triggers whose field key has no
// candidates are skipped silently. Evaluation is pure: same triggers, same
// candidates, same now, same matches.
func Evaluate(triggers []Trigger, candidates map[string][]Candidate, now time.Time) []Match {
	var matches []Match
	for _, tr := range triggers {
		if tr.Condition.FieldKey == "" {
			continue
		}
		cands := lookup(candidates, tr.Condition)
		if len(cands) == 0 {
			continue
		}
		for i := range cands {
			if satisfies(tr.Condition.Clause, cands[i].Value, now) {
				matches = append(matches, Match{Trigger: tr, Matched: &cands[i]})
				break
			}
		}
	}
	return matches
}

// lookup resolves a condition's candidates, preferring the category-qualified
// key and falling back to the bare field key.
func lookup(candidates map[string][]Candidate, c Condition) []Candidate {
	if c.CategoryKey != "" {
		if found, ok := candidates[c.CategoryKey+":"+c.FieldKey]; ok {
			return found
		}
	}
	return candidates[c.FieldKey]
}

func satisfies(clause Clause, value string, now time.Time) bool {
	switch cl := clause.(type) {
	case ExistsClause:
		return strings.TrimSpace(value) != ""
	case EqualsClause:
		return value == cl.Value
	case ContainsClause:
		return strings.Contains(strings.ToLower(value), strings.ToLower(cl.Value))
	case GreaterThanClause:
		amount, ok := parseAmount(value)
		return ok && amount > cl.Threshold
	case DateWithinClause:
		d, ok := parseDate(value)
		if !ok {
			return false
		}
		diff := d.Sub(now.Truncate(24 * time.Hour))
		return diff >= 0 && diff <= time.Duration(cl.Days)*24*time.Hour
	default:
		zap.L().Warn("trigger: unknown clause type", zap.Any("clause", clause))
		return false
	}
}

// parseAmount reads a numeric value out of free-form extracted text.
// Currency symbols, thousands separators, and surrounding whitespace are
// stripped first, so "$137,500.00" parses as 137500.
func parseAmount(v string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(v))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, v); err == nil {
			return d.Truncate(24 * time.Hour), true
		}
	}
	return time.Time{}, false
}
