package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pricewatch/harvester/analyzer"
	"github.com/pricewatch/harvester/browserpool"
	"github.com/pricewatch/harvester/config"
	"github.com/pricewatch/harvester/engine"
	"github.com/pricewatch/harvester/models"
	"github.com/pricewatch/harvester/normalize"
	"github.com/pricewatch/harvester/pipeline"
	"github.com/pricewatch/harvester/planner"
	"github.com/pricewatch/harvester/provider"
	"github.com/pricewatch/harvester/ratelimit"
	"github.com/pricewatch/harvester/store"
)

func main() {
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	workersDefault := defaultCfg.Workers
	if value, ok, err := config.EnvInt("HARVESTER_WORKERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_WORKERS: %v\n", err)
		os.Exit(1)
	} else if ok {
		workersDefault = value
	}
	poolDefault := defaultCfg.BrowserPoolSize
	if value, ok, err := config.EnvInt("HARVESTER_BROWSERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_BROWSERS: %v\n", err)
		os.Exit(1)
	} else if ok {
		poolDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("HARVESTER_OUTPUT"); ok {
		outputDefault = value
	}
	redisDefault, _ := config.EnvString("HARVESTER_REDIS_URL")
	pgDefault, _ := config.EnvString("HARVESTER_PG_DSN")
	metricsDefault, _ := config.EnvString("HARVESTER_METRICS_ADDR")

	workers := flag.Int("workers", workersDefault, "Number of concurrent extraction workers")
	browsers := flag.Int("browsers", poolDefault, "Headless browser pool size")
	browserBin := flag.String("browser-bin", "", "Explicit browser binary path")
	headless := flag.Bool("headless", true, "Run browsers headless")
	delayMs := flag.Int("delay", int(defaultCfg.DomainDelay/time.Millisecond), "Minimum delay between requests to one domain (milliseconds)")
	timeoutSec := flag.Int("timeout", int(defaultCfg.BaseTimeout/time.Second), "Baseline per-attempt timeout (seconds)")
	retryBudget := flag.Int("retry-budget", defaultCfg.RetryBudget, "Maximum provider attempts per target")
	profileTTLHours := flag.Int("profile-ttl", int(defaultCfg.ProfileTTL/time.Hour), "Site profile cache TTL (hours)")
	targetsFile := flag.String("targets", "", "File with one target URL per line (optional category after a tab)")
	overridesFile := flag.String("overrides", "", "YAML file with per-domain overrides")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", "csv", "Output format: csv, json, or dual")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	redisURL := flag.String("redis-url", redisDefault, "Redis URL for shared profile/stats state (optional)")
	pgDSN := flag.String("pg-dsn", pgDefault, "Postgres DSN for the listing sink (optional)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.Workers = *workers
	cfg.BrowserPoolSize = *browsers
	cfg.BrowserBin = *browserBin
	cfg.Headless = *headless
	cfg.DomainDelay = time.Duration(*delayMs) * time.Millisecond
	cfg.BaseTimeout = time.Duration(*timeoutSec) * time.Second
	cfg.RetryBudget = *retryBudget
	cfg.ProfileTTL = time.Duration(*profileTTLHours) * time.Hour
	cfg.OverridesFile = *overridesFile
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.MetricsAddr = *metricsAddr
	cfg.RedisURL = *redisURL
	cfg.PostgresDSN = *pgDSN
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	targets, err := loadTargets(*targetsFile, flag.Args())
	if err != nil {
		slog.Error("loading targets", slog.Any("error", err))
		os.Exit(1)
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "no targets: pass URLs as arguments or use -targets")
		os.Exit(1)
	}

	overrides, err := config.LoadOverrides(cfg.OverridesFile)
	if err != nil {
		slog.Error("loading overrides", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var profileCache analyzer.ProfileCache = analyzer.NewMemoryCache(cfg.ProfileCacheSize, cfg.ProfileTTL)
	var statsStore store.StatsStore = store.NewMemoryStats()
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(cfg.RedisURL, "harvester", cfg.ProfileTTL)
		if err != nil {
			slog.Error("connecting redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisStore.Close()
		profileCache = redisStore
		statsStore = store.NewRedisStats(redisStore)
		slog.Info("shared state enabled", slog.String("backend", "redis"))
	}

	pool := browserpool.New(browserpool.Options{
		Size:      cfg.BrowserPoolSize,
		Headless:  cfg.Headless,
		BinPath:   cfg.BrowserBin,
		UserAgent: cfg.UserAgent,
	})
	defer pool.Shutdown()

	windows := make(map[string]time.Duration, len(overrides))
	for domain, override := range overrides {
		windows[domain] = override.RateLimitWindow
	}

	eng := engine.New(cfg, engine.Options{
		Analyzer: analyzer.New(analyzer.Options{
			UserAgent: cfg.UserAgent,
			Cache:     profileCache,
		}),
		Planner: planner.New(overrides, cfg.BaseTimeout, cfg.RetryBudget),
		Providers: []provider.Provider{
			provider.NewHTTPFetch(cfg.UserAgent),
			provider.NewBrowser(pool, cfg.UserAgent, cfg.MaxScrolls),
			provider.NewAPIDiscovery(cfg.UserAgent),
		},
		Limiter:    ratelimit.New(cfg.DomainDelay, windows),
		Normalizer: normalize.New(cfg.PriceMinMinorUnits, cfg.PriceMaxMinorUnits, cfg.DefaultCurrency),
		Stats:      statsStore,
		Metrics:    engine.NewMetrics(),
	})

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && eng.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(eng.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(writer, cfg.PipelineBufferSize, cfg.BatchSize)
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	slog.Info("starting harvest",
		slog.Int("targets", len(targets)),
		slog.Int("workers", cfg.Workers),
		slog.Int("browsers", cfg.BrowserPoolSize),
	)

	startTime := time.Now()
	results := eng.Run(ctx, targets)

	for _, result := range results {
		if err := p.Process(result.Listings); err != nil && err != pipeline.ErrPipelineClosed {
			slog.Error("pipeline process error", slog.Any("error", err))
		}
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	summary := engine.Summarize(results, time.Since(startTime))
	printSummary(summary, results, eng.AllStats(), cfg.OutputFile)
}

// loadTargets reads targets from a file and/or positional arguments.
func loadTargets(path string, args []string) ([]models.Target, error) {
	var targets []models.Target

	appendURL := func(rawURL, category string) error {
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("invalid target url %q", rawURL)
		}
		targets = append(targets, models.Target{
			URL:      rawURL,
			Domain:   strings.ToLower(parsed.Hostname()),
			Category: category,
		})
		return nil
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open targets file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			fields := strings.Fields(line)
			category := ""
			if len(fields) > 1 {
				category = fields[1]
			}
			if err := appendURL(fields[0], category); err != nil {
				return nil, err
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read targets file: %w", err)
		}
	}

	for _, arg := range args {
		if err := appendURL(arg, ""); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

func createWriter(ctx context.Context, cfg *config.Config) (pipeline.OutputWriter, error) {
	if cfg.PostgresDSN != "" {
		return pipeline.NewPostgresWriter(ctx, cfg.PostgresDSN)
	}
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputFile)
	case "dual":
		jsonFilename := strings.TrimSuffix(cfg.OutputFile, ".csv") + ".json"
		return pipeline.NewDualWriter(cfg.OutputFile, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func printSummary(summary models.BatchSummary, results []*models.ScrapeResult, stats []models.DomainPerformanceStats, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")
	fmt.Printf("  Targets:       %d\n", summary.Targets)
	fmt.Printf("  Succeeded:     %d\n", summary.Succeeded)
	fmt.Printf("  Failed:        %d\n", summary.Failed)
	fmt.Printf("  Listings:      %d\n", summary.TotalListings)
	fmt.Printf("  Retries:       %d\n", summary.TotalRetries)
	if len(summary.ErrorsByKind) > 0 {
		fmt.Printf("  Error kinds:   %v\n", summary.ErrorsByKind)
	}
	fmt.Printf("  Duration:      %v\n", summary.Elapsed)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)

	for _, result := range results {
		status := "ok"
		if !result.Success {
			status = "failed"
		}
		fmt.Printf("  %-30s %-7s tool=%-8s items=%d retries=%d\n",
			result.Domain, status, result.ToolUsed, len(result.Listings), result.RetryCount)
	}

	if len(stats) > 0 {
		fmt.Println("\nAdaptive stats")
		for _, s := range stats {
			fmt.Printf("  %-30s success=%.2f latency=%v best=%s samples=%d\n",
				s.Domain, s.SuccessRate, s.AvgLatency.Round(time.Millisecond), s.BestProvider, s.SampleCount)
		}
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
