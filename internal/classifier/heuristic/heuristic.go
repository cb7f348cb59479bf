// Package heuristic provides a deliberately approximate classifier.Classifier
// for use where a real SQL parser isn't available: the demo daemon and
// tests that need to drive internal/fingerprint with plausible table
// references rather than a hand-maintained fixture list.
//
// It is not, and is not meant to be, a SQL parser: it regex-scans for
// FROM/JOIN/INTO/UPDATE followed by an identifier, which is enough to
// exercise the fingerprinter but will misclassify subqueries, CTEs, and
// quoted identifiers containing keywords.
package heuristic

import (
	"regexp"

	"github.com/pentve/rowcap/internal/classifier"
)

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|UPDATE)\s+` +
	"`?([A-Za-z_][A-Za-z0-9_]*)`?" +
	`(?:\.` + "`?([A-Za-z_][A-Za-z0-9_]*)`?" + `)?`)

type heuristic struct{}

// New returns a Classifier that naively scans SQL text for table references
// following FROM/JOIN/INTO/UPDATE keywords.
func New() classifier.Classifier {
	return heuristic{}
}

func (heuristic) Tables(query []byte) []classifier.TableRef {
	matches := tableRefPattern.FindAllSubmatch(query, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[classifier.TableRef]bool, len(matches))
	var out []classifier.TableRef
	for _, m := range matches {
		var ref classifier.TableRef
		if len(m[2]) > 0 {
			ref = classifier.TableRef{Database: string(m[1]), Table: string(m[2])}
		} else {
			ref = classifier.TableRef{Table: string(m[1])}
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}
