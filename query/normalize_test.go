package query_test

import (
	"testing"

	"github.com/pentve/rowcap/query"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"string literal", "SELECT * FROM users WHERE name = 'alice'", "SELECT * FROM users WHERE name = '?'"},
		{"double quoted literal", `SELECT * FROM users WHERE name = "bob"`, "SELECT * FROM users WHERE name = '?'"},
		{"escaped quote", `SELECT * FROM t WHERE s = 'it''s'`, "SELECT * FROM t WHERE s = '?'"},
		{"backslash escape", `SELECT * FROM t WHERE s = 'it\'s'`, "SELECT * FROM t WHERE s = '?'"},
		{"numeric literal", "SELECT * FROM users WHERE id = 42", "SELECT * FROM users WHERE id = ?"},
		{"decimal literal", "SELECT * FROM orders WHERE total > 12.50", "SELECT * FROM orders WHERE total > ?"},
		{"placeholder kept", "SELECT * FROM users WHERE id = ?", "SELECT * FROM users WHERE id = ?"},
		{"identifier digits kept", "SELECT * FROM t2 JOIN t3 ON t2.id = t3.id", "SELECT * FROM t2 JOIN t3 ON t2.id = t3.id"},
		{"whitespace collapsed", "SELECT  *\n\tFROM   users", "SELECT * FROM users"},
		{"in list", "SELECT 1 FROM t WHERE id IN (1, 2, 3)", "SELECT ? FROM t WHERE id IN (?, ?, ?)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := query.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeGroupsVariants(t *testing.T) {
	t.Parallel()

	a := query.Normalize("SELECT name FROM users WHERE id = 1")
	b := query.Normalize("SELECT name FROM users WHERE id = 982")
	if a != b {
		t.Errorf("templates differ: %q vs %q", a, b)
	}
}
