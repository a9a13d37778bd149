package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"meshnode/pkg/compute"
	"meshnode/pkg/config"
	"meshnode/pkg/events"
	"meshnode/pkg/hardware"
	"meshnode/pkg/identity"
	"meshnode/pkg/logging"
	"meshnode/pkg/metrics"
	"meshnode/pkg/model"
	"meshnode/pkg/node"
	"meshnode/pkg/resource"
	"meshnode/pkg/stealth"
	"meshnode/pkg/version"
)

const loadSampleInterval = 5 * time.Second

func main() {
	// Optional .env for local runs; real deployments use the environment.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("MESHNODE_CONFIG"), "path to yaml config (optional)")
	coordinator := flag.String("coordinator", "", "coordinator base URL (overrides config)")
	dataDir := flag.String("data-dir", "", "state directory (overrides config)")
	dev := flag.Bool("dev", false, "human-readable logs")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshnode version=%s\n", version.Build)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *coordinator != "" {
		cfg.Coordinator = *coordinator
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.IdentityPath, cfg.CacheDir, cfg.JournalPath, cfg.UpdateSignalPath = "", "", "", ""
		config.ApplyDefaults(&cfg)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, *dev)
	defer func() { _ = log.Sync() }()
	log.Info("meshnode starting",
		zap.String("version", version.Build),
		zap.String("coordinator", cfg.Coordinator),
		zap.String("data_dir", cfg.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := identity.LoadOrCreate(cfg.IdentityPath, log)
	if err != nil {
		log.Fatal("identity init failed", zap.Error(err))
	}
	log.Info("node identity ready", zap.String("node_id", id.NodeID))

	specs := hardware.NewAuditor(log).Scan()
	log.Info("hardware audit complete",
		zap.Int64("ram_mb", specs.RAMMb),
		zap.Int("cpu_cores", specs.CPUCores),
		zap.Bool("gpu", specs.HasGPU),
		zap.String("backend", specs.Backend),
		zap.Float64("est_flops", specs.EstimatedFlops),
	)

	gate := stealth.NewGate(log, cfg.IdleThreshold())
	gate.Start(ctx, loadSampleInterval)

	bus := events.NewBus()
	defer bus.Close()
	meter := metrics.New()

	engine, err := compute.NewEngine(log, nil, cfg.CacheDir, specs, cfg.ShardCacheSize, meter)
	if err != nil {
		log.Fatal("compute engine init failed", zap.Error(err))
	}
	defer engine.UnloadAll()

	var gpu *model.GPUResources
	if specs.HasGPU {
		gpu = &model.GPUResources{Name: specs.GPUName, MemoryMb: specs.GPUMemoryMb}
	}
	monitor := resource.NewMonitor(log, bus, meter, cfg.MonitorInterval(), cfg.HistoryRetention(), gpu)
	monitor.Start(ctx)
	defer monitor.Stop()

	journal, err := node.OpenJournal(cfg.JournalPath, log)
	if err != nil {
		log.Fatal("journal open failed", zap.Error(err))
	}
	defer func() { _ = journal.Close() }()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", meter.Handler())
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	core := node.New(cfg, node.Deps{
		Log:      log,
		Identity: id,
		Specs:    specs,
		Gate:     gate,
		Engine:   engine,
		Monitor:  monitor,
		Bus:      bus,
		Journal:  journal,
		Metrics:  meter,
	})

	if err := core.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("node stopped", zap.Error(err))
	}
	log.Info("meshnode shut down")
}
