// Demo workload for a rowcap proxy: connects through the proxy, seeds a
// table, and alternates small SELECTs (forwarded untouched) with large ones
// (replaced by an empty OK once they trip the configured limits).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Point this at the proxy's listen address, not the server.
const defaultDSN = "mysql:mysql@tcp(localhost:3307)/db?parseTime=true"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func getDSN() string {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		return v
	}
	return defaultDSN
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dsn := getDSN()
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Printf("connected through proxy via %s\n", dsn)

	if err := seed(ctx, db); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for i := 1; ; i++ {
		doSmallSelect(ctx, db, i)
		doLargeSelect(ctx, db, i)
		doWideSelect(ctx, db, i)

		if i%3 == 0 {
			doDiscardStorm(ctx, db, i)
		}

		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func seed(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS items (
		id INT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(64) NOT NULL,
		blob_col TEXT
	)`)
	if err != nil {
		return err
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		return err
	}
	if count >= 1000 {
		return nil
	}

	padding := strings.Repeat("x", 512)
	for batch := 0; batch < 10; batch++ {
		var b strings.Builder
		b.WriteString("INSERT INTO items (name, blob_col) VALUES ")
		for i := range 100 {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "('item-%d-%d', '%s')", batch, i, padding)
		}
		if _, err := db.ExecContext(ctx, b.String()); err != nil {
			return err
		}
	}
	fmt.Println("seeded 1000 rows")
	return nil
}

// doSmallSelect stays under any sane row limit and is forwarded untouched.
func doSmallSelect(ctx context.Context, db *sql.DB, i int) {
	rows, err := db.QueryContext(ctx, "SELECT id, name FROM items WHERE id <= 5")
	if err != nil {
		log.Printf("small select: %v", err)
		return
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			log.Printf("small select scan: %v", err)
			return
		}
		n++
	}
	fmt.Printf("[%d] small select: %d rows\n", i, n)
}

// doLargeSelect returns every row; with -max-resultset-rows below 1000 the
// proxy replaces the result set and the client sees zero rows.
func doLargeSelect(ctx context.Context, db *sql.DB, i int) {
	rows, err := db.QueryContext(ctx, "SELECT id, name FROM items")
	if err != nil {
		log.Printf("large select: %v", err)
		return
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		n++
	}
	if n == 0 {
		fmt.Printf("[%d] large select: result set replaced (0 rows)\n", i)
	} else {
		fmt.Printf("[%d] large select: %d rows\n", i, n)
	}
}

// doWideSelect trips the byte-size guard even at low row counts.
func doWideSelect(ctx context.Context, db *sql.DB, i int) {
	rows, err := db.QueryContext(ctx,
		"SELECT a.id, a.blob_col, b.blob_col FROM items a JOIN items b ON b.id <= 20 WHERE a.id <= 20")
	if err != nil {
		log.Printf("wide select: %v", err)
		return
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		n++
	}
	fmt.Printf("[%d] wide select: %d rows\n", i, n)
}

// doDiscardStorm fires the same over-limit template repeatedly so the
// daemon's storm detector has something to flag.
func doDiscardStorm(ctx context.Context, db *sql.DB, i int) {
	for j := range 10 {
		rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT id, name FROM items WHERE id > %d", j))
		if err != nil {
			continue
		}
		for rows.Next() {
		}
		_ = rows.Close()
	}
	fmt.Printf("[%d] storm simulation done (10 over-limit SELECTs)\n", i)
}
