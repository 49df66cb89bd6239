package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Page is the result of fetching one URL.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// FetcherConfig controls single-fetch behavior.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
	MaxBody   int
}

const defaultMaxBody = 5 << 20

// Fetcher issues single bounded HTTP GETs through a Colly collector. Robots
// enforcement happens in the crawl loop, not here, so the collector's own
// robots handling stays off.
type Fetcher struct {
	cfg  FetcherConfig
	base *colly.Collector
}

// NewFetcher builds a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	})
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes one HTTP GET. Non-success status codes are returned as a
// Page with a nil error so the caller can log and drop them.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	var (
		result   Page
		fetchErr error
	)
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.MaxBodySize = f.cfg.MaxBody
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = pageFromResponse(r)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// A non-2xx response is a fetch outcome, not a transport failure.
			result = pageFromResponse(r)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if result.StatusCode == 0 && err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		return result, nil
	}
}

func pageFromResponse(r *colly.Response) Page {
	return Page{
		URL:         r.Request.URL.String(),
		StatusCode:  r.StatusCode,
		ContentType: r.Headers.Get("Content-Type"),
		Body:        append([]byte(nil), r.Body...),
	}
}
