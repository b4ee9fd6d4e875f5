package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-engine/config"
	"github.com/aluiziolira/go-scrape-engine/extract"
	"github.com/aluiziolira/go-scrape-engine/models"
)

// Orchestrator fans a URL batch out across fetches and runs the extractor
// pipeline over each response. It owns the rate limiter, identity rotator,
// and policy cache; their lifetimes are bound to it.
type Orchestrator struct {
	cfg        *config.Config
	fetcher    *Fetcher
	limiter    *RateLimiter
	rotator    *IdentityRotator
	policy     *PolicyCache
	extractors []extract.Extractor
	Metrics    *Metrics

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

// NewOrchestrator validates cfg and wires the engine components together.
func NewOrchestrator(cfg *config.Config, extractors []extract.Extractor) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rotator, err := NewIdentityRotator(cfg.Proxies, cfg.UserAgents)
	if err != nil {
		return nil, fmt.Errorf("build identity rotator: %w", err)
	}

	limiter := NewRateLimiter(cfg.MaxRequests, cfg.RateWindow)
	policy := NewPolicyCache(cfg.RespectRobotsTxt, &http.Client{Timeout: cfg.Timeout})
	metrics := NewMetrics()

	o := &Orchestrator{
		cfg:          cfg,
		limiter:      limiter,
		rotator:      rotator,
		policy:       policy,
		extractors:   extractors,
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	o.fetcher = NewFetcher(cfg, limiter, rotator, policy, metrics)
	return o, nil
}

// Run processes the batch with the configured scheduling strategy. Record
// order is unspecified; both strategies produce the same record set for the
// same input.
func (o *Orchestrator) Run(ctx context.Context, urls []string) ([]*models.ScrapeRecord, *models.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	var records []*models.ScrapeRecord

	switch o.cfg.Scheduler {
	case config.SchedulerPool:
		records = o.runPool(ctx, o.truncate(urls))
	case config.SchedulerTask:
		records = o.runTasks(ctx, o.truncate(urls))
	default:
		return nil, nil, fmt.Errorf("unsupported scheduler: %s", o.cfg.Scheduler)
	}

	return records, o.buildResult(start, records), nil
}

// runPool runs a fixed pool of workers pulling URLs from a shared queue. A
// worker's rate-limit and backoff sleeps block only that worker.
func (o *Orchestrator) runPool(ctx context.Context, urls []string) []*models.ScrapeRecord {
	jobs := make(chan string)
	out := make(chan *models.ScrapeRecord, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				out <- o.process(ctx, u)
			}
		}()
	}

	// Feed the queue; stop dispatching once the context is cancelled,
	// leaving in-flight fetches to finish on their own.
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		jobs <- u
	}
	close(jobs)

	wg.Wait()
	close(out)

	records := make([]*models.ScrapeRecord, 0, len(urls))
	for record := range out {
		records = append(records, record)
	}
	return records
}

// runTasks multiplexes up to Concurrency in-flight fetches on a cooperative
// task group; tasks suspend only while awaiting a response or a backoff
// delay.
func (o *Orchestrator) runTasks(ctx context.Context, urls []string) []*models.ScrapeRecord {
	results := make([]*models.ScrapeRecord, len(urls))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)

	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = o.process(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	records := make([]*models.ScrapeRecord, 0, len(urls))
	for _, record := range results {
		if record != nil {
			records = append(records, record)
		}
	}
	return records
}

// process turns one URL into exactly one record. A failure here never
// propagates: it is captured in the record so the rest of the batch is
// unaffected.
func (o *Orchestrator) process(ctx context.Context, rawURL string) *models.ScrapeRecord {
	start := time.Now()

	resp, err := o.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		label := errorTypeLabel(err)
		o.mu.Lock()
		o.failedURLs = append(o.failedURLs, rawURL)
		o.errorsByType[label]++
		o.mu.Unlock()
		o.Metrics.IncError(label)

		slog.Error("fetch failed",
			slog.String("url", rawURL),
			slog.String("category", label),
			slog.Any("error", err),
		)

		return &models.ScrapeRecord{
			URL:        rawURL,
			StatusCode: statusFromError(err),
			Data:       map[string]any{},
			Timestamp:  time.Now(),
			Elapsed:    time.Since(start),
			Success:    false,
			Error:      err.Error(),
		}
	}

	record := &models.ScrapeRecord{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Data:       o.runExtractors(resp),
		Timestamp:  time.Now(),
		Elapsed:    time.Since(start),
		Success:    true,
	}
	if o.cfg.KeepContent {
		record.Content = string(resp.Body)
	}

	o.Metrics.IncRecords()
	slog.Debug("scraped url",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", record.Elapsed),
	)
	return record
}

// runExtractors applies the extractor pipeline in order and unions the
// outputs. An extractor failure is logged and skipped; it never fails the
// record.
func (o *Orchestrator) runExtractors(resp *Response) map[string]any {
	data := make(map[string]any)
	if len(o.extractors) == 0 {
		return data
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		slog.Warn("document parse failed, skipping extraction",
			slog.String("url", resp.URL),
			slog.Any("error", err),
		)
		o.Metrics.IncError("extraction")
		return data
	}

	for _, ex := range o.extractors {
		out, err := ex.Apply(doc, resp.URL)
		if err != nil {
			slog.Warn("extractor failed",
				slog.String("extractor", ex.Name()),
				slog.String("url", resp.URL),
				slog.Any("error", err),
			)
			o.Metrics.IncError("extraction")
			continue
		}
		for k, v := range out {
			data[k] = v
		}
	}
	return data
}

func (o *Orchestrator) truncate(urls []string) []string {
	if len(urls) > o.cfg.MaxPages {
		slog.Debug("truncating url batch",
			slog.Int("submitted", len(urls)),
			slog.Int("max_pages", o.cfg.MaxPages),
		)
		return urls[:o.cfg.MaxPages]
	}
	return urls
}

func (o *Orchestrator) buildResult(start time.Time, records []*models.ScrapeRecord) *models.BatchResult {
	success := 0
	for _, r := range records {
		if r.Success {
			success++
		}
	}

	o.mu.Lock()
	failed := make([]string, len(o.failedURLs))
	copy(failed, o.failedURLs)
	byType := make(map[string]int, len(o.errorsByType))
	for k, v := range o.errorsByType {
		byType[k] = v
	}
	o.mu.Unlock()

	return &models.BatchResult{
		StartTime:    start,
		EndTime:      time.Now(),
		RequestCount: len(records),
		SuccessCount: success,
		ErrorCount:   len(records) - success,
		RetryCount:   o.fetcher.Retries(),
		FailedURLs:   failed,
		ErrorsByType: byType,
	}
}

func statusFromError(err error) int {
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return status.Code
	}
	return 0
}
