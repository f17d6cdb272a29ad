// source-worker runs the per-camera pipeline for the sources in the
// deployment config: detect, deduplicate, track, evaluate distances, and
// ship frame reports to the aggregator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/watchgrid/proximity.report/internal/config"
	"github.com/watchgrid/proximity.report/internal/detect"
	"github.com/watchgrid/proximity.report/internal/distance"
	"github.com/watchgrid/proximity.report/internal/track"
	"github.com/watchgrid/proximity.report/internal/transport"
	"github.com/watchgrid/proximity.report/internal/worker"
)

var (
	configPath   = flag.String("config", "config.json", "Deployment config file")
	onlySource   = flag.String("source", "", "Run a single source by ID (default: all configured sources)")
	inferenceURL = flag.String("inference-url", "", "Remote detector inference endpoint")
	fps          = flag.Float64("fps", 2.0, "Frame rate per source")
	maxFrames    = flag.Int64("max-frames", 0, "Stop each source after N frames (0 = unbounded)")
)

func detectorFor(src *config.SourceConfig) (detect.Detector, error) {
	backend := src.GetDetector()
	opts := map[string]string{}
	switch backend {
	case "remote":
		if *inferenceURL == "" {
			return nil, fmt.Errorf("source %s uses the remote detector; -inference-url is required", src.ID)
		}
		opts["url"] = *inferenceURL
	case "static":
		opts["fixtures"] = src.VideoPath
	}
	return detect.New(backend, opts)
}

func workerFor(cfg *config.Config, src *config.SourceConfig, reporter worker.Reporter) (*worker.Worker, error) {
	detector, err := detectorFor(src)
	if err != nil {
		return nil, err
	}

	method := src.GetDistMethod()
	if method == "" {
		method = cfg.App.GetDefaultDistMethod()
	}

	return worker.New(worker.Config{
		SourceID:       src.ID,
		MinScore:       src.GetMinScore(),
		DedupThreshold: cfg.App.GetDedupThreshold(),
		Tracker: track.Config{
			MaxTrackFrame: cfg.App.GetMaxTrackFrame(),
			MatchRadiusPx: cfg.App.GetMatchRadiusPx(),
		},
		Distance: distance.Config{
			Method:        method,
			CmPerPixel:    src.GetCmPerPixel(),
			ThresholdCm:   src.GetDistThresholdCm(),
			ViolationSecs: src.GetViolationSecs(),
			Calibration:   src.CalibrationMatrix,
		},
	}, detector, reporter), nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()

	var sources []*config.SourceConfig
	for i := range cfg.Sources {
		if *onlySource == "" || cfg.Sources[i].ID == *onlySource {
			sources = append(sources, &cfg.Sources[i])
		}
	}
	if len(sources) == 0 {
		log.Fatalf("No sources to run (source filter %q)", *onlySource)
	}

	ingestURL := fmt.Sprintf("ws://%s:%d/ingest", cfg.App.GetQueueHost(), cfg.App.GetQueuePort())
	interval := time.Duration(float64(time.Second) / *fps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var jobs []worker.Job
	var clients []*transport.Client

	for _, src := range sources {
		client := transport.NewClient(transport.ClientConfig{
			URL:     ingestURL,
			AuthKey: cfg.App.GetQueueAuthKey(),
		})
		clients = append(clients, client)
		wg.Add(1)
		go func(c *transport.Client) {
			defer wg.Done()
			c.Run(ctx)
		}(client)

		w, err := workerFor(cfg, src, client)
		if err != nil {
			log.Fatalf("Failed to build worker: %v", err)
		}
		jobs = append(jobs, worker.Job{
			Worker: w,
			Source: &worker.IntervalSource{Interval: interval, MaxFrames: *maxFrames},
		})
	}

	log.Printf("source-worker: %d sources at %.1f fps, reporting to %s",
		len(jobs), *fps, ingestURL)
	worker.NewPool(cfg.App.GetMaxProcesses()).Run(ctx, jobs)

	// Sources finished or we were signalled; let the clients flush.
	stop()
	wg.Wait()
	for i, c := range clients {
		sent, dropped := c.Stats()
		log.Printf("source %s: %d reports sent, %d dropped", sources[i].ID, sent, dropped)
	}
}
