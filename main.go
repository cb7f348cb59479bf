package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pentve/rowcap/explain"
	"github.com/pentve/rowcap/tui"
	"github.com/pentve/rowcap/web"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("rowcap", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "rowcap — watch a rowcap daemon's filter decisions in real-time\n\nUsage:\n  rowcap [flags] <daemon-http-addr>\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n  DATABASE_URL    upstream DSN for the EXPLAIN view (optional)\n")
	}

	dsnEnv := fs.String("dsn-env", "DATABASE_URL", "environment variable holding DSN for EXPLAIN")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("rowcap %s\n", version)
		return
	}

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	if err := watch(fs.Arg(0), *dsnEnv); err != nil {
		log.Fatal(err)
	}
}

func watch(addr, dsnEnv string) error {
	ctx := context.Background()

	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	ch, stop, err := web.Watch(ctx, addr)
	if err != nil {
		return err
	}
	defer stop()

	var explainC *explain.Client
	if raw := os.Getenv(dsnEnv); raw != "" {
		explainC, err = explain.Open(ctx, raw)
		if err != nil {
			return fmt.Errorf("open db for explain: %w", err)
		}
		defer func() { _ = explainC.Close() }()
	}

	m := tui.New(tui.ChannelSource(ch, stop), explainC)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
