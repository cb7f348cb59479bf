package tui

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pentve/rowcap/internal/events"
)

type filterKind int

const (
	filterText     filterKind = iota // plain substring match against the query
	filterDecision                   // "discarded" / "forwarded"
	filterCache                      // cache:hit, cache:miss, cache:stale, cache:error
	filterStorm                      // "storm" keyword
	filterSession                    // session:<prefix>
	filterCount                      // rows>N, rows<N, bytes>N, bytes<N
)

type countField int

const (
	countRows countField = iota
	countBytes
)

type countOp int

const (
	countGT countOp = iota
	countLT
)

type filterCondition struct {
	kind filterKind

	text string // filterText (lowercased), filterSession (prefix)

	decision events.Decision     // filterDecision
	cache    events.CacheOutcome // filterCache

	field countField // filterCount
	op    countOp
	value int
}

var reCount = regexp.MustCompile(`^(rows|bytes)([><])(\d+)([km]?)$`)

// parseFilter splits input into whitespace-separated conditions, all of
// which must match. Unrecognized tokens fall back to substring matching.
func parseFilter(input string) []filterCondition {
	tokens := strings.Fields(input)
	conds := make([]filterCondition, 0, len(tokens))

	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		switch {
		case lower == "discarded":
			conds = append(conds, filterCondition{kind: filterDecision, decision: events.DecisionSyntheticOK})
		case lower == "forwarded":
			conds = append(conds, filterCondition{kind: filterDecision, decision: events.DecisionForward})
		case lower == "storm":
			conds = append(conds, filterCondition{kind: filterStorm})
		case strings.HasPrefix(lower, "cache:"):
			if c, ok := parseCache(lower[len("cache:"):]); ok {
				conds = append(conds, c)
				continue
			}
			conds = append(conds, filterCondition{kind: filterText, text: lower})
		case strings.HasPrefix(lower, "session:"):
			if p := lower[len("session:"):]; p != "" {
				conds = append(conds, filterCondition{kind: filterSession, text: p})
				continue
			}
			conds = append(conds, filterCondition{kind: filterText, text: lower})
		default:
			if c, ok := parseCount(lower); ok {
				conds = append(conds, c)
				continue
			}
			conds = append(conds, filterCondition{kind: filterText, text: lower})
		}
	}
	return conds
}

func parseCache(outcome string) (filterCondition, bool) {
	switch outcome {
	case "hit":
		return filterCondition{kind: filterCache, cache: events.CacheOutcomeHit}, true
	case "miss":
		return filterCondition{kind: filterCache, cache: events.CacheOutcomeMiss}, true
	case "stale":
		return filterCondition{kind: filterCache, cache: events.CacheOutcomeSoftStale}, true
	case "error":
		return filterCondition{kind: filterCache, cache: events.CacheOutcomeError}, true
	}
	return filterCondition{}, false
}

func parseCount(tok string) (filterCondition, bool) {
	m := reCount.FindStringSubmatch(tok)
	if m == nil {
		return filterCondition{}, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return filterCondition{}, false
	}
	switch m[4] {
	case "k":
		n *= 1024
	case "m":
		n *= 1024 * 1024
	}

	c := filterCondition{kind: filterCount, value: n}
	if m[1] == "bytes" {
		c.field = countBytes
	}
	if m[2] == "<" {
		c.op = countLT
	}
	return c, true
}

func (c filterCondition) matches(ev events.Event) bool {
	switch c.kind {
	case filterText:
		return strings.Contains(strings.ToLower(ev.Query), c.text)
	case filterDecision:
		return ev.Decision == c.decision
	case filterCache:
		return ev.CacheOutcome == c.cache
	case filterStorm:
		return ev.DiscardStorm
	case filterSession:
		return strings.HasPrefix(strings.ToLower(ev.SessionID), c.text)
	case filterCount:
		n := ev.Rows
		if c.field == countBytes {
			n = ev.Bytes
		}
		if c.op == countLT {
			return n < c.value
		}
		return n > c.value
	}
	return true
}

func matchAllConditions(ev events.Event, conds []filterCondition) bool {
	for _, c := range conds {
		if !c.matches(ev) {
			return false
		}
	}
	return true
}

// matchingEvents returns the indices of evs that pass both the structured
// filter and the text search, ordered per mode.
func matchingEvents(evs []events.Event, filterQuery, searchQuery string, mode sortMode) []int {
	var conds []filterCondition
	if filterQuery != "" {
		conds = parseFilter(filterQuery)
	}
	searchLower := strings.ToLower(searchQuery)

	var out []int
	for i, ev := range evs {
		if len(conds) > 0 && !matchAllConditions(ev, conds) {
			continue
		}
		if searchLower != "" && !strings.Contains(strings.ToLower(ev.Query), searchLower) {
			continue
		}
		out = append(out, i)
	}

	switch mode {
	case sortRows:
		sort.SliceStable(out, func(a, b int) bool {
			return evs[out[a]].Rows > evs[out[b]].Rows
		})
	case sortBytes:
		sort.SliceStable(out, func(a, b int) bool {
			return evs[out[a]].Bytes > evs[out[b]].Bytes
		})
	case sortChronological:
	}
	return out
}

// describeFilter renders the parsed conditions back into a compact legend
// for the footer.
func describeFilter(input string) string {
	conds := parseFilter(input)
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		switch c.kind {
		case filterText:
			parts = append(parts, fmt.Sprintf("query~%q", c.text))
		case filterDecision:
			if c.decision == events.DecisionSyntheticOK {
				parts = append(parts, "discarded")
			} else {
				parts = append(parts, "forwarded")
			}
		case filterCache:
			parts = append(parts, "cache:"+string(c.cache))
		case filterStorm:
			parts = append(parts, "storm")
		case filterSession:
			parts = append(parts, "session:"+c.text+"*")
		case filterCount:
			field := "rows"
			if c.field == countBytes {
				field = "bytes"
			}
			op := ">"
			if c.op == countLT {
				op = "<"
			}
			parts = append(parts, fmt.Sprintf("%s%s%d", field, op, c.value))
		}
	}
	return strings.Join(parts, " ")
}
