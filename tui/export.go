package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pentve/rowcap/internal/events"
)

type exportFormat int

const (
	exportJSON exportFormat = iota
	exportMarkdown
)

func (f exportFormat) ext() string {
	if f == exportMarkdown {
		return "md"
	}
	return "json"
}

type exportTemplateRow struct {
	Query    string `json:"query"`
	Count    int    `json:"count"`
	Discards int    `json:"discards"`
	Hits     int    `json:"cache_hits"`
	MaxRows  int    `json:"max_rows"`
	MaxBytes int    `json:"max_bytes"`
}

type exportData struct {
	Captured int    `json:"captured"`
	Exported int    `json:"exported"`
	Filter   string `json:"filter"`
	Search   string `json:"search"`
	Period   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"period"`
	Responses []events.Event      `json:"responses"`
	Templates []exportTemplateRow `json:"templates"`
}

// buildExportData snapshots the events passing filter and search, plus the
// per-template aggregation over that subset.
func buildExportData(evs []events.Event, filterQuery, searchQuery string) exportData {
	matched := matchingEvents(evs, filterQuery, searchQuery, sortChronological)

	subset := make([]events.Event, 0, len(matched))
	for _, i := range matched {
		subset = append(subset, evs[i])
	}

	var data exportData
	data.Captured = len(evs)
	data.Exported = len(subset)
	data.Filter = filterQuery
	data.Search = searchQuery
	data.Responses = subset

	if len(subset) > 0 {
		data.Period.Start = subset[0].Timestamp.Format(time.RFC3339)
		data.Period.End = subset[len(subset)-1].Timestamp.Format(time.RFC3339)
	}

	for _, r := range buildAnalyticsRows(subset) {
		data.Templates = append(data.Templates, exportTemplateRow{
			Query:    r.template,
			Count:    r.count,
			Discards: r.discards,
			Hits:     r.cacheHits,
			MaxRows:  r.maxRows,
			MaxBytes: r.maxBytes,
		})
	}
	return data
}

func renderMarkdown(data exportData) string {
	var b strings.Builder

	b.WriteString("# rowcap export\n\n")
	fmt.Fprintf(&b, "- captured: %d\n- exported: %d\n", data.Captured, data.Exported)
	if data.Filter != "" {
		fmt.Fprintf(&b, "- filter: `%s`\n", data.Filter)
	}
	if data.Search != "" {
		fmt.Fprintf(&b, "- search: `%s`\n", data.Search)
	}
	if data.Period.Start != "" {
		fmt.Fprintf(&b, "- period: %s — %s\n", data.Period.Start, data.Period.End)
	}

	b.WriteString("\n## Templates\n\n")
	b.WriteString("| Count | Discards | Hits | MaxRows | MaxBytes | Query |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, t := range data.Templates {
		fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | `%s` |\n",
			t.Count, t.Discards, t.Hits, t.MaxRows, t.MaxBytes,
			strings.ReplaceAll(t.Query, "|", "\\|"))
	}

	b.WriteString("\n## Responses\n\n")
	b.WriteString("| Time | Decision | Rows | Bytes | Cache | Query |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, ev := range data.Responses {
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %s | `%s` |\n",
			ev.Timestamp.Format(time.RFC3339),
			ev.Decision, ev.Rows, ev.Bytes, ev.CacheOutcome,
			strings.ReplaceAll(strings.TrimSpace(reSpaces.ReplaceAllString(ev.Query, " ")), "|", "\\|"))
	}

	return b.String()
}

// writeExport serializes data into dir and returns the written path. The
// file name embeds the wall-clock time to the second, so exports made in
// different seconds do not collide; a second export of the same format
// within the same second overwrites the first.
func writeExport(dir string, format exportFormat, data exportData, now time.Time) (string, error) {
	name := fmt.Sprintf("rowcap-export-%s.%s", now.Format("20060102-150405"), format.ext())
	path := filepath.Join(dir, name)

	var out []byte
	switch format {
	case exportMarkdown:
		out = []byte(renderMarkdown(data))
	case exportJSON:
		var err error
		out, err = json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("export: marshal: %w", err)
		}
		out = append(out, '\n')
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("export: write: %w", err)
	}
	return path, nil
}

func (m Model) export(format exportFormat) Model {
	if len(m.evs) == 0 {
		return m
	}
	data := buildExportData(m.evs, m.filterQuery, m.searchQuery)
	path, err := writeExport(".", format, data, time.Now())
	if err != nil {
		m.alert = err.Error()
		return m
	}
	m.alert = "exported " + path
	return m
}
