// proximityd is the central aggregation daemon. It ingests frame reports
// from source workers over an authenticated websocket, maintains per-area
// rolling statistics, raises rate-limited alerts, and serves the query API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/watchgrid/proximity.report/internal/aggregate"
	"github.com/watchgrid/proximity.report/internal/api"
	"github.com/watchgrid/proximity.report/internal/config"
	"github.com/watchgrid/proximity.report/internal/httputil"
	"github.com/watchgrid/proximity.report/internal/notify"
	"github.com/watchgrid/proximity.report/internal/store"
	"github.com/watchgrid/proximity.report/internal/transport"
)

var (
	configPath    = flag.String("config", "config.json", "Deployment config file")
	listen        = flag.String("listen", "", "Listen address (overrides config)")
	migrationsDir = flag.String("migrations", "migrations", "Schema migrations directory")
	webhookURL    = flag.String("webhook-url", "", "Optional alert webhook endpoint")
)

// buildPolicies maps configured areas onto aggregator policies.
func buildPolicies(cfg *config.Config) ([]aggregate.AreaPolicy, error) {
	var policies []aggregate.AreaPolicy
	for i := range cfg.Areas {
		area := &cfg.Areas[i]
		hour, minute, err := config.ParseTimeOfDay(area.GetDailyReportTime())
		if err != nil {
			return nil, err
		}
		policies = append(policies, aggregate.AreaPolicy{
			ID:                    area.ID,
			Name:                  area.Name,
			Sources:               area.Cameras,
			OccupancyThreshold:    area.GetOccupancyThreshold(),
			OccupancyAlertMinSecs: area.GetOccupancyAlertMinSecs(),
			ViolationSecs:         area.GetViolationSecs(),
			NotifyEvery:           time.Duration(area.GetNotifyEveryMinutes()) * time.Minute,
			Emails:                area.Emails,
			DailyReport:           area.GetDailyReport(),
			DailyReportHour:       hour,
			DailyReportMinute:     minute,
		})
	}
	return policies, nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()

	addr := cfg.App.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	db, err := store.Open(cfg.App.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	sink := notify.MultiSink{notify.LogSink{}}
	if *webhookURL != "" {
		sink = append(sink, notify.NewWebhookSink(*webhookURL, nil))
	}

	policies, err := buildPolicies(cfg)
	if err != nil {
		log.Fatalf("Invalid area policy: %v", err)
	}
	agg := aggregate.New(aggregate.Config{
		TickInterval:       cfg.App.GetTickInterval(),
		SilenceTimeout:     cfg.App.GetSilenceTimeout(),
		OccupancySampleAge: cfg.App.GetOccupancySampleAge(),
	}, policies, sink, db)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		agg.Run(ctx)
	}()

	apiServer := api.NewServer(agg, db, cfg, nil)
	mux := http.NewServeMux()
	mux.Handle("/ingest", transport.NewIngestServer(cfg.App.GetQueueAuthKey(), agg))
	mux.Handle("/api/", apiServer.ServeMux())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			httputil.NotFound(w, "not found")
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"service": "proximityd"})
	})

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("proximityd listening on %s (%d areas, %d sources)",
			addr, len(cfg.Areas), len(cfg.Sources))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Print("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	wg.Wait()
}
