package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pentve/rowcap/detect"
	"github.com/pentve/rowcap/internal/cache"
	"github.com/pentve/rowcap/internal/cache/dirstore"
	"github.com/pentve/rowcap/internal/classifier/heuristic"
	"github.com/pentve/rowcap/internal/events"
	"github.com/pentve/rowcap/internal/rowlimit"
	proxymysql "github.com/pentve/rowcap/proxy/mysql"
	"github.com/pentve/rowcap/query"
	"github.com/pentve/rowcap/web"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("rowcapd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "rowcapd — result-set limiting MySQL proxy daemon\n\nUsage:\n  rowcapd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	listen := fs.String("listen", "", "client listen address (required)")
	upstream := fs.String("upstream", "", "upstream MySQL/MariaDB address (required)")
	maxRows := fs.Uint("max-resultset-rows", 10000, "row count above which a result set is replaced by an empty OK")
	maxSize := fs.Uint("max-resultset-size", 64<<20, "byte size above which a result set is replaced by an empty OK")
	debug := fs.Uint("debug", 0, "debug bitfield (1=decisions, 2=discarding)")
	cacheDir := fs.String("cache-dir", "", "directory for the query result cache index (empty disables cache lookups)")
	softTTL := fs.Duration("cache-soft-ttl", 10*time.Second, "age after which a cache entry is stale")
	hardTTL := fs.Duration("cache-hard-ttl", time.Minute, "age after which a cache entry is deleted on lookup")
	httpAddr := fs.String("http", "", "HTTP server address for the SSE events API (e.g. :8080)")
	stormThreshold := fs.Int("storm-threshold", 5, "discard storm detection threshold (0 to disable)")
	stormWindow := fs.Duration("storm-window", time.Second, "discard storm detection time window")
	stormCooldown := fs.Duration("storm-cooldown", 10*time.Second, "discard storm alert cooldown per query template")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("rowcapd %s\n", version)
		return
	}

	if *listen == "" || *upstream == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg := rowlimit.Config{
		MaxResultsetRows: uint32(*maxRows),
		MaxResultsetSize: uint32(*maxSize),
		DebugFlags:       uint32(*debug),
	}

	err := run(
		*listen, *upstream, *httpAddr, *cacheDir, cfg,
		*softTTL, *hardTTL,
		*stormThreshold, *stormWindow, *stormCooldown,
	)
	if err != nil {
		log.Fatal(err)
	}
}

func run(
	listen, upstream, httpAddr, cacheDir string, cfg rowlimit.Config,
	softTTL, hardTTL time.Duration,
	stormThreshold int, stormWindow, stormCooldown time.Duration,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Broker
	b := events.New(256)

	// Proxy options: cache lookups need both a classifier and a store.
	opts := []proxymysql.Option{}
	if cacheDir != "" {
		store, err := dirstore.New(cacheDir)
		if err != nil {
			return fmt.Errorf("open cache dir %s: %w", cacheDir, err)
		}
		adapter := cache.NewAdapter(store, softTTL, hardTTL)
		opts = append(opts,
			proxymysql.WithClassifier(heuristic.New()),
			proxymysql.WithCache(adapter),
		)
		log.Printf("cache lookups enabled (dir=%s, soft=%s, hard=%s)", cacheDir, softTTL, hardTTL)
	}

	p := proxymysql.New(listen, upstream, cfg, opts...)

	// HTTP server (optional)
	if httpAddr != "" {
		var lc net.ListenConfig
		httpLis, err := lc.Listen(ctx, "tcp", httpAddr)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", httpAddr, err)
		}
		webSrv := web.New(b)
		go func() {
			log.Printf("HTTP server listening on %s", httpAddr)
			if err := webSrv.Serve(httpLis); err != nil {
				log.Printf("http serve: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = webSrv.Shutdown(shutdownCtx)
		}()
	}

	// Discard storm detector (optional)
	var det *detect.Detector
	if stormThreshold > 0 {
		det = detect.New(stormThreshold, stormWindow, stormCooldown)
		log.Printf("discard storm detection enabled (threshold=%d, window=%s, cooldown=%s)",
			stormThreshold, stormWindow, stormCooldown)
	}

	go func() {
		for ev := range p.Events() {
			if ev.Query != "" {
				ev.NormalizedQuery = query.Normalize(ev.Query)
			}
			if det != nil && ev.Decision == events.DecisionSyntheticOK {
				r := det.Record(ev.NormalizedQuery, ev.Timestamp)
				ev.DiscardStorm = r.Storm
				if r.Alert != nil {
					log.Printf("discard storm: %q replaced %d times in %s",
						r.Alert.Template, r.Alert.Count, stormWindow)
				}
			}
			b.Publish(ev)
		}
	}()

	log.Printf("proxying %s -> %s (max rows=%d, max bytes=%d)",
		listen, upstream, cfg.MaxResultsetRows, cfg.MaxResultsetSize)
	if err := p.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	return p.Close()
}
