package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/pentve/rowcap/internal/events"
	"github.com/pentve/rowcap/internal/rowlimit"
	proxymysql "github.com/pentve/rowcap/proxy/mysql"
)

const (
	testUser     = "root"
	testPassword = "test"
	testDB       = "test"
)

// startMySQL launches a MySQL container and returns its host:port address.
func startMySQL(t *testing.T) string {
	t.Helper()

	ctx := t.Context()
	ctr, err := mysql.Run(ctx, "mysql:8",
		mysql.WithDatabase(testDB),
		mysql.WithUsername(testUser),
		mysql.WithPassword(testPassword),
	)
	if err != nil {
		t.Fatalf("start mysql container: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("get host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("get port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func startProxy(t *testing.T, upstream string, cfg rowlimit.Config) (*proxymysql.Proxy, string) {
	t.Helper()

	var lc net.ListenConfig
	lis, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	p := proxymysql.New(addr, upstream, cfg)
	ctx, cancel := context.WithCancel(t.Context())

	go func() {
		if err := p.ListenAndServe(ctx); err != nil {
			if ctx.Err() == nil {
				t.Logf("proxy error: %v", err)
			}
		}
	}()

	d := net.Dialer{Timeout: 100 * time.Millisecond}
	for range 50 {
		conn, dialErr := d.DialContext(ctx, "tcp", addr)
		if dialErr == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		_ = p.Close()
	})

	return p, addr
}

func openDB(t *testing.T, addr string) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?timeout=5s", testUser, testPassword, addr, testDB)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func seedRows(t *testing.T, db *sql.DB, table string, n int) {
	t.Helper()
	ctx := t.Context()
	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id INT PRIMARY KEY, payload VARCHAR(64))", table)); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := range n {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (id, payload) VALUES (?, ?)", table), i, fmt.Sprintf("row-%d", i)); err != nil {
			t.Fatalf("seed row: %v", err)
		}
	}
}

func countRows(t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	rows, err := db.QueryContext(t.Context(), query)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var n int
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows error: %v", err)
	}
	return n
}

func TestForwardsResultSetUnderRowLimit(t *testing.T) {
	t.Parallel()
	upstream := startMySQL(t)
	p, addr := startProxy(t, upstream, rowlimit.Config{MaxResultsetRows: 10, MaxResultsetSize: 1 << 20})
	db := openDB(t, addr)

	seedRows(t, db, "under_limit", 3)

	// Drain the CREATE TABLE and INSERT events before the query under test.
	for range 4 {
		waitEvent(t, p.Events())
	}

	got := countRows(t, db, "SELECT id FROM under_limit ORDER BY id")
	if got != 3 {
		t.Fatalf("expected 3 rows forwarded, got %d", got)
	}

	ev := waitEvent(t, p.Events())
	if ev.Decision != events.DecisionForward {
		t.Errorf("Decision = %v, want %v", ev.Decision, events.DecisionForward)
	}
	if ev.Rows != 3 {
		t.Errorf("Rows = %d, want 3", ev.Rows)
	}
}

func TestDiscardsResultSetOverRowLimit(t *testing.T) {
	t.Parallel()
	upstream := startMySQL(t)
	p, addr := startProxy(t, upstream, rowlimit.Config{MaxResultsetRows: 2, MaxResultsetSize: 1 << 20})
	db := openDB(t, addr)

	seedRows(t, db, "over_limit", 5)
	for range 6 {
		waitEvent(t, p.Events())
	}

	got := countRows(t, db, "SELECT id FROM over_limit ORDER BY id")
	if got != 0 {
		t.Fatalf("expected result set discarded (synthetic OK, 0 rows visible), got %d", got)
	}

	ev := waitEvent(t, p.Events())
	if ev.Decision != events.DecisionSyntheticOK {
		t.Errorf("Decision = %v, want %v", ev.Decision, events.DecisionSyntheticOK)
	}
	if ev.Rows != 5 {
		t.Errorf("Rows = %d, want 5 (the row count the server actually returned)", ev.Rows)
	}
}

func TestDiscardsResultSetOverByteLimit(t *testing.T) {
	t.Parallel()
	upstream := startMySQL(t)
	p, addr := startProxy(t, upstream, rowlimit.Config{MaxResultsetRows: 1000, MaxResultsetSize: 32})
	db := openDB(t, addr)

	seedRows(t, db, "over_byte_limit", 5)
	for range 6 {
		waitEvent(t, p.Events())
	}

	got := countRows(t, db, "SELECT id, payload FROM over_byte_limit ORDER BY id")
	if got != 0 {
		t.Fatalf("expected result set discarded on byte-size guard, got %d rows", got)
	}

	ev := waitEvent(t, p.Events())
	if ev.Decision != events.DecisionSyntheticOK {
		t.Errorf("Decision = %v, want %v", ev.Decision, events.DecisionSyntheticOK)
	}
}

func TestExecDDLIsForwardedAsOK(t *testing.T) {
	t.Parallel()
	upstream := startMySQL(t)
	p, addr := startProxy(t, upstream, rowlimit.Config{MaxResultsetRows: 1, MaxResultsetSize: 1 << 20})
	db := openDB(t, addr)

	_, err := db.ExecContext(t.Context(), "CREATE TABLE IF NOT EXISTS ddl_test (id INT PRIMARY KEY)")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	ev := waitEvent(t, p.Events())
	if ev.Decision != events.DecisionForward {
		t.Errorf("Decision = %v, want %v (an OK response is never discarded)", ev.Decision, events.DecisionForward)
	}
}

func TestErrorResponseIsForwarded(t *testing.T) {
	t.Parallel()
	upstream := startMySQL(t)
	p, addr := startProxy(t, upstream, rowlimit.Config{MaxResultsetRows: 10, MaxResultsetSize: 1 << 20})
	db := openDB(t, addr)

	_, err := db.ExecContext(t.Context(), "SELECT id FROM _nonexistent_table_12345")
	if err == nil {
		t.Fatal("expected error")
	}

	ev := waitEvent(t, p.Events())
	if ev.Decision != events.DecisionForward {
		t.Errorf("Decision = %v, want %v", ev.Decision, events.DecisionForward)
	}
}
