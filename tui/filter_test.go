package tui

import (
	"testing"
	"time"

	"github.com/pentve/rowcap/internal/events"
)

func testEvents() []events.Event {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []events.Event{
		{
			SessionID:    "aaa-1",
			Decision:     events.DecisionForward,
			Rows:         3,
			Bytes:        150,
			CacheOutcome: events.CacheOutcomeMiss,
			Query:        "SELECT name FROM users WHERE id = 1",
			Timestamp:    base,
		},
		{
			SessionID:    "bbb-2",
			Decision:     events.DecisionSyntheticOK,
			Rows:         5000,
			Bytes:        2 << 20,
			CacheOutcome: events.CacheOutcomeHit,
			Query:        "SELECT * FROM orders",
			DiscardStorm: true,
			Timestamp:    base.Add(time.Second),
		},
		{
			SessionID: "aaa-3",
			Decision:  events.DecisionForward,
			Rows:      10,
			Bytes:     900,
			Query:     "UPDATE users SET name = 'x' WHERE id = 2",
			Timestamp: base.Add(2 * time.Second),
		},
	}
}

func matchedQueries(evs []events.Event, filter, search string) []string {
	var out []string
	for _, i := range matchingEvents(evs, filter, search, sortChronological) {
		out = append(out, evs[i].Query)
	}
	return out
}

func TestFilterDecision(t *testing.T) {
	t.Parallel()

	evs := testEvents()
	got := matchedQueries(evs, "discarded", "")
	if len(got) != 1 || got[0] != "SELECT * FROM orders" {
		t.Errorf("discarded filter: got %v", got)
	}

	got = matchedQueries(evs, "forwarded", "")
	if len(got) != 2 {
		t.Errorf("forwarded filter: got %v", got)
	}
}

func TestFilterCacheOutcome(t *testing.T) {
	t.Parallel()

	evs := testEvents()
	got := matchedQueries(evs, "cache:hit", "")
	if len(got) != 1 || got[0] != "SELECT * FROM orders" {
		t.Errorf("cache:hit filter: got %v", got)
	}
}

func TestFilterCounts(t *testing.T) {
	t.Parallel()

	evs := testEvents()

	got := matchedQueries(evs, "rows>100", "")
	if len(got) != 1 || got[0] != "SELECT * FROM orders" {
		t.Errorf("rows>100: got %v", got)
	}

	got = matchedQueries(evs, "bytes<1k", "")
	if len(got) != 2 {
		t.Errorf("bytes<1k: got %v", got)
	}

	got = matchedQueries(evs, "bytes>1m", "")
	if len(got) != 1 {
		t.Errorf("bytes>1m: got %v", got)
	}
}

func TestFilterSessionPrefix(t *testing.T) {
	t.Parallel()

	evs := testEvents()
	got := matchedQueries(evs, "session:aaa", "")
	if len(got) != 2 {
		t.Errorf("session:aaa: got %v", got)
	}
}

func TestFilterStorm(t *testing.T) {
	t.Parallel()

	evs := testEvents()
	got := matchedQueries(evs, "storm", "")
	if len(got) != 1 || got[0] != "SELECT * FROM orders" {
		t.Errorf("storm filter: got %v", got)
	}
}

func TestFilterConditionsCombine(t *testing.T) {
	t.Parallel()

	evs := testEvents()
	got := matchedQueries(evs, "forwarded users", "")
	if len(got) != 2 {
		t.Errorf("combined filter: got %v", got)
	}

	got = matchedQueries(evs, "forwarded rows>5", "")
	if len(got) != 1 || got[0] != "UPDATE users SET name = 'x' WHERE id = 2" {
		t.Errorf("combined filter with count: got %v", got)
	}
}

func TestSearchMatchesSubstring(t *testing.T) {
	t.Parallel()

	evs := testEvents()
	got := matchedQueries(evs, "", "orders")
	if len(got) != 1 || got[0] != "SELECT * FROM orders" {
		t.Errorf("search: got %v", got)
	}
}

func TestSortModes(t *testing.T) {
	t.Parallel()

	evs := testEvents()

	idx := matchingEvents(evs, "", "", sortRows)
	if evs[idx[0]].Rows != 5000 {
		t.Errorf("sortRows: first row count = %d", evs[idx[0]].Rows)
	}

	idx = matchingEvents(evs, "", "", sortBytes)
	if evs[idx[0]].Bytes != 2<<20 {
		t.Errorf("sortBytes: first byte count = %d", evs[idx[0]].Bytes)
	}
}

func TestDescribeFilter(t *testing.T) {
	t.Parallel()

	got := describeFilter("discarded cache:hit rows>100 session:aaa orders")
	want := `discarded cache:hit rows>100 session:aaa* query~"orders"`
	if got != want {
		t.Errorf("describeFilter = %q, want %q", got, want)
	}
}
