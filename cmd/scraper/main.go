package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-engine/config"
	"github.com/aluiziolira/go-scrape-engine/extract"
	"github.com/aluiziolira/go-scrape-engine/models"
	"github.com/aluiziolira/go-scrape-engine/pipeline"
	"github.com/aluiziolira/go-scrape-engine/scraper"
)

func main() {
	defaultCfg := config.DefaultConfig()
	workersDefault := defaultCfg.Concurrency
	if value, ok, err := config.EnvInt("SCRAPER_WORKERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_WORKERS: %v\n", err)
		os.Exit(1)
	} else if ok {
		workersDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	configFile := flag.String("config", "", "YAML configuration file (flags override it)")
	urlFile := flag.String("urls", "", "File with URLs to scrape, one per line")
	workers := flag.Int("workers", workersDefault, "Concurrency limit")
	maxRequests := flag.Int("max-requests", defaultCfg.MaxRequests, "Admitted requests per rate window")
	rateWindowMs := flag.Int("rate-window", int(defaultCfg.RateWindow/time.Millisecond), "Rate-limit window (milliseconds)")
	timeoutMs := flag.Int("timeout", int(defaultCfg.Timeout/time.Millisecond), "Per-request timeout (milliseconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per URL")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	respectRobots := flag.Bool("respect-robots", defaultCfg.RespectRobotsTxt, "Respect robots.txt directives")
	rotateIdentities := flag.Bool("rotate-identities", defaultCfg.RotateIdentities, "Rotate user-agent strings")
	rotateProxies := flag.Bool("rotate-proxies", defaultCfg.RotateProxies, "Rotate proxy endpoints")
	proxies := flag.String("proxies", "", "Comma-separated proxy URLs")
	scheduler := flag.String("scheduler", defaultCfg.Scheduler, "Scheduling strategy: pool or task")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: jsonl, csv, or sqlite")
	enableCaching := flag.Bool("cache", defaultCfg.EnableCaching, "Enable the in-memory response cache")
	maxPages := flag.Int("max-pages", defaultCfg.MaxPages, "Maximum URLs processed per batch")
	followRedirects := flag.Bool("follow-redirects", defaultCfg.FollowRedirects, "Follow HTTP redirects")
	verifySSL := flag.Bool("verify-ssl", defaultCfg.VerifySSL, "Verify TLS certificates")
	keepContent := flag.Bool("keep-content", defaultCfg.KeepContent, "Retain raw response bodies in records")
	extractors := flag.String("extractors", "links,text,images,metadata", "Comma-separated extractor names")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	// With a config file, only explicitly passed flags override it;
	// otherwise every flag applies (defaults mirror DefaultConfig).
	var explicit map[string]bool
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			slog.Error("loading configuration", slog.Any("error", err))
			os.Exit(1)
		}
		cfg = loaded
		explicit = make(map[string]bool)
		flag.Visit(func(fl *flag.Flag) {
			explicit[fl.Name] = true
		})
	}

	set := func(name string) bool {
		return explicit == nil || explicit[name]
	}
	if set("workers") {
		cfg.Concurrency = *workers
	}
	if set("max-requests") {
		cfg.MaxRequests = *maxRequests
	}
	if set("rate-window") {
		cfg.RateWindow = time.Duration(*rateWindowMs) * time.Millisecond
	}
	if set("timeout") {
		cfg.Timeout = time.Duration(*timeoutMs) * time.Millisecond
	}
	if set("max-retries") {
		cfg.MaxRetries = *maxRetries
	}
	if set("retry-backoff") {
		cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	}
	if set("retry-backoff-max") {
		cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	}
	if set("respect-robots") {
		cfg.RespectRobotsTxt = *respectRobots
	}
	if set("rotate-identities") {
		cfg.RotateIdentities = *rotateIdentities
	}
	if set("rotate-proxies") {
		cfg.RotateProxies = *rotateProxies
	}
	if *proxies != "" {
		cfg.Proxies = splitList(*proxies)
	}
	if set("scheduler") {
		cfg.Scheduler = strings.ToLower(*scheduler)
	}
	if set("output") {
		cfg.OutputFile = *outputFile
	}
	if set("format") {
		cfg.OutputFormat = strings.ToLower(*outputFormat)
	}
	if set("cache") {
		cfg.EnableCaching = *enableCaching
	}
	if set("max-pages") {
		cfg.MaxPages = *maxPages
	}
	if set("follow-redirects") {
		cfg.FollowRedirects = *followRedirects
	}
	if set("verify-ssl") {
		cfg.VerifySSL = *verifySSL
	}
	if set("keep-content") {
		cfg.KeepContent = *keepContent
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	urls, err := collectURLs(*urlFile, flag.Args())
	if err != nil {
		slog.Error("reading urls", slog.Any("error", err))
		os.Exit(1)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "no URLs supplied; pass them as arguments or via -urls")
		os.Exit(1)
	}

	exts, err := extract.ByName(splitList(*extractors))
	if err != nil {
		slog.Error("building extractors", slog.Any("error", err))
		os.Exit(1)
	}

	orchestrator, err := scraper.NewOrchestrator(cfg, exts)
	if err != nil {
		slog.Error("initialising orchestrator", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(orchestrator.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting scrape",
		slog.Int("urls", len(urls)),
		slog.Int("workers", cfg.Concurrency),
		slog.String("scheduler", cfg.Scheduler),
	)

	records, result, err := orchestrator.Run(ctx, urls)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := pipeline.Save(records, cfg.OutputFile, cfg.OutputFormat); err != nil {
		slog.Error("saving records", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, cfg.OutputFile)
}

// collectURLs merges positional arguments with a URL file, one URL per
// line, skipping blank lines and # comments.
func collectURLs(filename string, args []string) ([]string, error) {
	urls := make([]string, 0, len(args))
	urls = append(urls, args...)

	if filename == "" {
		return urls, nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printSummary(result *models.BatchResult, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.SuccessCount) / float64(result.RequestCount) * 100
	}
	fmt.Printf("  Records:       %d\n", result.RequestCount)
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime))
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
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
