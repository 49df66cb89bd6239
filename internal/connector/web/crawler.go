package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/metrics"
	"github.com/finchsearch/finch/internal/run"
)

// PageFetcher retrieves a single page. Satisfied by *Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Config carries everything a crawl needs beyond the source definition.
type Config struct {
	SourceID  string
	Web       document.WebConfig
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Crawler walks a site breadth-first from the seed URL, honoring robots.txt,
// the configured depth and page budgets, and the politeness delay.
type Crawler struct {
	sourceID  string
	cfg       document.WebConfig
	seed      *url.URL
	userAgent string
	logger    *zap.Logger

	fetcher PageFetcher
	filter  *LinkFilter

	// Test seams. When nil, Run fetches robots.txt live and sleeps for real.
	robots *RobotsPolicy
	client *http.Client
}

// New validates the seed URL and compiles the link patterns.
func New(cfg Config) (*Crawler, error) {
	if err := cfg.Web.Validate(); err != nil {
		return nil, err
	}
	seed, err := url.Parse(cfg.Web.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("parse seed url %q: %w", cfg.Web.SeedURL, err)
	}
	if seed.Scheme != "http" && seed.Scheme != "https" {
		return nil, fmt.Errorf("seed url %q: scheme must be http or https", cfg.Web.SeedURL)
	}
	filter, err := NewLinkFilter(seed, cfg.Web.SameDomainOnly, cfg.Web.IncludePatterns, cfg.Web.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Crawler{
		sourceID:  cfg.SourceID,
		cfg:       cfg.Web,
		seed:      seed,
		userAgent: cfg.UserAgent,
		logger:    logger,
		fetcher:   NewFetcher(FetcherConfig{UserAgent: cfg.UserAgent, Timeout: timeout}),
		filter:    filter,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// Type reports the connector variant.
func (c *Crawler) Type() document.SourceType { return document.SourceWeb }

// Run executes the crawl until the frontier drains, the page budget is spent,
// a stop is requested, or the context is cancelled.
func (c *Crawler) Run(ctx context.Context, sup *run.Supervisor) error {
	robots := c.robotsPolicy(ctx)
	delay := c.politenessDelay(robots)

	frontier := NewFrontier()
	frontier.Push(Item{URL: c.seed.String(), Depth: 0})
	visited := make(map[string]struct{})
	processed := 0

	sup.Logf("crawl starting at %s (maxDepth=%d maxPages=%d)", c.seed, c.cfg.MaxDepth, c.cfg.MaxPages)

	for frontier.Len() > 0 && processed < c.cfg.MaxPages {
		if sup.StopRequested() {
			sup.Logf("stopping crawl after %d pages", processed)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		item, _ := frontier.Pop()
		if _, dup := visited[item.URL]; dup {
			continue
		}
		visited[item.URL] = struct{}{}

		target, err := url.Parse(item.URL)
		if err != nil {
			sup.Logf("skipping unparseable url %q: %v", item.URL, err)
			continue
		}
		if !robots.Allowed(target.Path) {
			sup.Logf("robots.txt disallows %s; skipping", item.URL)
			metrics.ObserveSkip(string(document.SourceWeb))
			continue
		}

		processed++
		c.crawlPage(ctx, sup, frontier, item)
		sup.Progress(processed, c.estimateTotal(processed, frontier.Len()), item.URL)

		if frontier.Len() > 0 && processed < c.cfg.MaxPages && !sup.StopRequested() {
			metrics.ObservePolitenessWait(delay)
			if !wait(ctx, delay) {
				return ctx.Err()
			}
		}
	}
	sup.Logf("crawl finished: %d pages processed", processed)
	return nil
}

func (c *Crawler) crawlPage(ctx context.Context, sup *run.Supervisor, frontier *Frontier, item Item) {
	page, err := c.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		sup.Logf("fetch %s failed: %v", item.URL, err)
		metrics.ObserveFetch("error")
		return
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		sup.Logf("fetch %s returned status %d; skipping", item.URL, page.StatusCode)
		metrics.ObserveFetch("http_" + strconv.Itoa(page.StatusCode/100) + "xx")
		return
	}
	metrics.ObserveFetch("ok")
	if !IsHTMLContentType(page.ContentType) {
		sup.Logf("skipping %s: content type %q is not html", item.URL, page.ContentType)
		metrics.ObserveSkip(string(document.SourceWeb))
		return
	}

	doc, err := ParsePage(page.Body)
	if err != nil {
		sup.Logf("parse %s failed: %v", item.URL, err)
		return
	}

	content := ExtractContent(doc)
	if utf8.RuneCountInString(content) < minContentChars {
		sup.Logf("skipping %s: too little extractable text", item.URL)
		metrics.ObserveSkip(string(document.SourceWeb))
	} else {
		sup.Document(&document.Document{
			ExternalID:  item.URL,
			Title:       ExtractTitle(doc, pageURL(item.URL)),
			Content:     content,
			URL:         item.URL,
			ContentType: document.ContentWebPage,
			Attributes: map[string]string{
				"depth": strconv.Itoa(item.Depth),
			},
		}, false)
	}

	if item.Depth >= c.cfg.MaxDepth {
		return
	}
	enqueued := 0
	for _, link := range ExtractLinks(doc, pageURL(item.URL)) {
		if frontier.Seen(link) || !c.filter.Allow(link) {
			continue
		}
		frontier.Push(Item{URL: link, Depth: item.Depth + 1})
		enqueued++
	}
	if enqueued > 0 {
		c.logger.Debug("links enqueued",
			zap.String("page", item.URL),
			zap.Int("count", enqueued),
			zap.Int("depth", item.Depth+1))
	}
}

func (c *Crawler) robotsPolicy(ctx context.Context) RobotsPolicy {
	if c.robots != nil {
		return *c.robots
	}
	return FetchRobots(ctx, c.client, c.seed, c.userAgent, c.logger)
}

// politenessDelay applies the configured rate limit; a robots.txt crawl-delay
// directive replaces it outright.
func (c *Crawler) politenessDelay(robots RobotsPolicy) time.Duration {
	if rd := robots.CrawlDelay(); rd > 0 {
		return rd
	}
	return time.Duration(c.cfg.RateLimitMillis) * time.Millisecond
}

// estimateTotal is the best current guess of the run's size: everything
// processed plus everything queued, clamped to the page budget.
func (c *Crawler) estimateTotal(processed, queued int) int {
	total := processed + queued
	if total > c.cfg.MaxPages {
		total = c.cfg.MaxPages
	}
	return total
}

func pageURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// wait sleeps for d unless the context is cancelled first. Reports whether
// the full delay elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
