// Package explain runs EXPLAIN against the upstream MySQL/MariaDB server
// for queries observed by the proxy, so an operator can see why a statement
// keeps blowing past the configured result-set limits.
package explain

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Mode selects between a plan estimate and actual execution.
type Mode int

const (
	Explain Mode = iota // EXPLAIN FORMAT=TREE (plan only)
	Analyze             // EXPLAIN ANALYZE (plan + actual execution)
)

func (m Mode) String() string {
	if m == Analyze {
		return "EXPLAIN ANALYZE"
	}
	return "EXPLAIN"
}

// prefix returns the statement prefix. Both forms produce a single-column
// tree-shaped result set, which Run scans line by line.
func (m Mode) prefix() string {
	if m == Analyze {
		return "EXPLAIN ANALYZE "
	}
	return "EXPLAIN FORMAT=TREE "
}

// Result holds the output of an EXPLAIN run.
type Result struct {
	Plan     string
	Duration time.Duration
}

// Client wraps a database connection for running EXPLAIN statements.
type Client struct {
	db *sql.DB
}

// Open connects to the upstream server with a go-sql-driver DSN
// (user:pass@tcp(host:port)/db) and verifies the connection.
func Open(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("explain: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("explain: ping: %w", err)
	}
	return &Client{db: db}, nil
}

// NewClient wraps an existing *sql.DB.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// Run executes EXPLAIN or EXPLAIN ANALYZE for the given query.
//
// ANALYZE actually executes the statement on the upstream; callers should
// only offer it for read queries.
func (c *Client) Run(ctx context.Context, mode Mode, query string) (*Result, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, mode.prefix()+query)
	if err != nil {
		return nil, fmt.Errorf("explain: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("explain: scan: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("explain: rows: %w", err)
	}

	return &Result{
		Plan:     strings.Join(lines, "\n"),
		Duration: time.Since(start),
	}, nil
}

// Close closes the underlying database connection.
func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("explain: close: %w", err)
	}
	return nil
}
