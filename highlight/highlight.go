package highlight

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

var (
	sqlLexer    chroma.Lexer
	ansiFmt     chroma.Formatter
	chromaStyle *chroma.Style
)

func init() {
	sqlLexer = lexers.Get("sql")
	ansiFmt = formatters.Get("terminal256")
	chromaStyle = styles.Get("monokai")
}

// SQL returns the input with ANSI terminal syntax highlighting applied.
// On error or empty input, the original string is returned unchanged.
func SQL(s string) string {
	if s == "" {
		return s
	}

	it, err := sqlLexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf bytes.Buffer
	if err := ansiFmt.Format(&buf, chromaStyle, it); err != nil {
		return s
	}
	return strings.TrimRight(buf.String(), "\n")
}

var (
	// MySQL EXPLAIN FORMAT=TREE / EXPLAIN ANALYZE node names.
	nodeRe = regexp.MustCompile(
		`(?i)\b(Table scan|Index scan|Index lookup|Index range scan|Covering index lookup|` +
			`Covering index scan|Full scan|Single-row index lookup|` +
			`Nested loop inner join|Nested loop left join|Inner hash join|Hash|` +
			`Filter|Sort|Limit|Aggregate|Group aggregate|Stream results|` +
			`Materialize|Temporary table|Window aggregate|Zero rows)\b`,
	)
	metricsRe = regexp.MustCompile(`\((?:cost|actual time|rows|loops|never executed)[^)]*\)`)
	arrowRe   = regexp.MustCompile(`->`)

	boldStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// Plan returns an EXPLAIN tree with ANSI highlighting applied: node names
// bold, cost/timing metrics and arrows dim.
func Plan(s string) string {
	if s == "" {
		return s
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = arrowRe.ReplaceAllStringFunc(line, func(m string) string {
			return dimStyle.Render(m)
		})
		line = metricsRe.ReplaceAllStringFunc(line, func(m string) string {
			return dimStyle.Render(m)
		})
		line = nodeRe.ReplaceAllStringFunc(line, func(m string) string {
			return boldStyle.Render(m)
		})
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
