package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-engine/config"
	"github.com/aluiziolira/go-scrape-engine/extract"
	"github.com/aluiziolira/go-scrape-engine/models"
)

func orchestratorConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Concurrency = 4
	cfg.MaxRequests = 1000
	cfg.MaxRetries = 0
	cfg.RespectRobotsTxt = false
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, extractors []extract.Extractor, transport http.RoundTripper) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, extractors)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	o.fetcher.transport = transport
	recorder := &sleepRecorder{}
	o.fetcher.sleep = recorder.sleep
	return o
}

func registerPages(transport *httpmock.MockTransport) []string {
	urls := make([]string, 0, 4)
	for i := 1; i <= 3; i++ {
		u := fmt.Sprintf("http://example.test/page-%d", i)
		body := fmt.Sprintf("<html><head><title>Page %d</title></head><body><h1>Page %d</h1></body></html>", i, i)
		transport.RegisterResponder("GET", u, httpmock.NewStringResponder(200, body))
		urls = append(urls, u)
	}
	failing := "http://example.test/broken"
	transport.RegisterResponder("GET", failing, httpmock.NewStringResponder(500, ""))
	urls = append(urls, failing)
	return urls
}

func recordsByURL(records []*models.ScrapeRecord) map[string]*models.ScrapeRecord {
	out := make(map[string]*models.ScrapeRecord, len(records))
	for _, r := range records {
		out[r.URL] = r
	}
	return out
}

func TestOrchestratorSchedulersProduceEqualSets(t *testing.T) {
	extractors := []extract.Extractor{extract.Metadata{}}

	run := func(scheduler string) map[string]*models.ScrapeRecord {
		cfg := orchestratorConfig()
		cfg.Scheduler = scheduler

		transport := httpmock.NewMockTransport()
		urls := registerPages(transport)

		o := newTestOrchestrator(t, cfg, extractors, transport)
		records, result, err := o.Run(context.Background(), urls)
		if err != nil {
			t.Fatalf("run (%s): %v", scheduler, err)
		}
		if result.RequestCount != len(urls) {
			t.Fatalf("run (%s): records = %d, want %d", scheduler, result.RequestCount, len(urls))
		}
		return recordsByURL(records)
	}

	pool := run(config.SchedulerPool)
	task := run(config.SchedulerTask)

	if len(pool) != len(task) {
		t.Fatalf("record sets differ in size: pool=%d task=%d", len(pool), len(task))
	}
	for url, p := range pool {
		q, ok := task[url]
		if !ok {
			t.Fatalf("task mode missing record for %s", url)
		}
		if p.Success != q.Success || p.StatusCode != q.StatusCode {
			t.Fatalf("record mismatch for %s: pool=%+v task=%+v", url, p, q)
		}
		if fmt.Sprint(p.Data) != fmt.Sprint(q.Data) {
			t.Fatalf("data mismatch for %s: pool=%v task=%v", url, p.Data, q.Data)
		}
	}
}

func TestOrchestratorFaultIsolation(t *testing.T) {
	cfg := orchestratorConfig()
	transport := httpmock.NewMockTransport()
	urls := registerPages(transport)

	o := newTestOrchestrator(t, cfg, nil, transport)
	records, result, err := o.Run(context.Background(), urls)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byURL := recordsByURL(records)
	broken, ok := byURL["http://example.test/broken"]
	if !ok {
		t.Fatalf("failing URL should still yield a record")
	}
	if broken.Success {
		t.Fatalf("failing URL should be marked unsuccessful")
	}
	if broken.Error == "" {
		t.Fatalf("failed record must carry an error")
	}
	if broken.StatusCode != 500 {
		t.Fatalf("failed record status = %d, want 500", broken.StatusCode)
	}

	if result.SuccessCount != 3 || result.ErrorCount != 1 {
		t.Fatalf("success=%d errors=%d, want 3/1", result.SuccessCount, result.ErrorCount)
	}
	if got := result.ErrorsByType["http_500"]; got != 1 {
		t.Fatalf("errors by type = %v, want http_500:1", result.ErrorsByType)
	}

	// error is present iff success is false.
	for _, r := range records {
		if r.Success && r.Error != "" {
			t.Fatalf("successful record %s carries error %q", r.URL, r.Error)
		}
		if !r.Success && r.Error == "" {
			t.Fatalf("failed record %s missing error", r.URL)
		}
	}
}

func TestOrchestratorTruncatesToMaxPages(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.MaxPages = 2

	transport := httpmock.NewMockTransport()
	urls := registerPages(transport)

	o := newTestOrchestrator(t, cfg, nil, transport)
	records, _, err := o.Run(context.Background(), urls)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 after truncation", len(records))
	}
}

func TestOrchestratorExtractorFailureIsNonFatal(t *testing.T) {
	cfg := orchestratorConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page",
		httpmock.NewStringResponder(200, "<html><head><title>Ok</title></head><body></body></html>"))

	failing := extract.Func{
		ExtractorName: "boom",
		Fn: func(doc *goquery.Document, url string) (map[string]any, error) {
			return nil, errors.New("broken extractor")
		},
	}
	o := newTestOrchestrator(t, cfg, []extract.Extractor{failing, extract.Metadata{}}, transport)

	records, _, err := o.Run(context.Background(), []string{"http://example.test/page"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	record := records[0]
	if !record.Success {
		t.Fatalf("extractor failure must not fail the record: %+v", record)
	}
	if record.Error != "" {
		t.Fatalf("extractor failure must not populate the record error")
	}
	if _, ok := record.Data["metadata"]; !ok {
		t.Fatalf("surviving extractor output missing: %v", record.Data)
	}
}

func TestOrchestratorExtractorUnionOrder(t *testing.T) {
	cfg := orchestratorConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page",
		httpmock.NewStringResponder(200, "<html><body></body></html>"))

	first := extract.Func{
		ExtractorName: "first",
		Fn: func(doc *goquery.Document, url string) (map[string]any, error) {
			return map[string]any{"shared": "first", "only_first": true}, nil
		},
	}
	second := extract.Func{
		ExtractorName: "second",
		Fn: func(doc *goquery.Document, url string) (map[string]any, error) {
			return map[string]any{"shared": "second"}, nil
		},
	}
	o := newTestOrchestrator(t, cfg, []extract.Extractor{first, second}, transport)

	records, _, err := o.Run(context.Background(), []string{"http://example.test/page"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	data := records[0].Data
	if data["shared"] != "second" {
		t.Fatalf("later extractor should win on key collision, got %v", data["shared"])
	}
	if data["only_first"] != true {
		t.Fatalf("earlier extractor keys should survive, got %v", data)
	}
}

func TestOrchestratorKeepContent(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.KeepContent = true

	body := "<html><body>kept</body></html>"
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page",
		httpmock.NewStringResponder(200, body))

	o := newTestOrchestrator(t, cfg, nil, transport)
	records, _, err := o.Run(context.Background(), []string{"http://example.test/page"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if records[0].Content != body {
		t.Fatalf("content = %q, want raw body", records[0].Content)
	}

	cfg2 := orchestratorConfig()
	o2 := newTestOrchestrator(t, cfg2, nil, transport)
	records2, _, err := o2.Run(context.Background(), []string{"http://example.test/page"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if records2[0].Content != "" {
		t.Fatalf("content should be dropped by default")
	}
}

func TestOrchestratorCancelledContextStopsDispatch(t *testing.T) {
	cfg := orchestratorConfig()

	transport := httpmock.NewMockTransport()
	urls := registerPages(transport)

	o := newTestOrchestrator(t, cfg, nil, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, _, err := o.Run(ctx, urls)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("cancelled context should dispatch no work, got %d records", len(records))
	}
}

func TestOrchestratorRejectsInvalidConfig(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.Scheduler = "fibers"
	if _, err := NewOrchestrator(cfg, nil); err == nil {
		t.Fatalf("expected config validation error")
	}
}
