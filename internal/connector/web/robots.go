package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsPolicy evaluates the robots directives fetched once per run for the
// seed host. The zero value allows everything.
type RobotsPolicy struct {
	group      *robotstxt.Group
	crawlDelay time.Duration
}

// FetchRobots retrieves and parses robots.txt for the seed's host. A fetch or
// parse failure degrades to an allow-all policy with a logged warning; it
// never fails the run.
func FetchRobots(
	ctx context.Context,
	client *http.Client,
	seed *url.URL,
	userAgent string,
	logger *zap.Logger,
) RobotsPolicy {
	robotsURL := &url.URL{Scheme: seed.Scheme, Host: seed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		logger.Warn("robots request build failed; allowing all", zap.Error(err))
		return RobotsPolicy{}
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("robots fetch failed; allowing all", zap.String("host", seed.Host), zap.Error(err))
		return RobotsPolicy{}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debug("close robots body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		logger.Warn("robots read failed; allowing all", zap.Error(err))
		return RobotsPolicy{}
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logger.Warn("robots parse failed; allowing all", zap.Error(err))
		return RobotsPolicy{}
	}
	return NewRobotsPolicy(data, userAgent)
}

// NewRobotsPolicy builds a policy for the matching user-agent group.
func NewRobotsPolicy(data *robotstxt.RobotsData, userAgent string) RobotsPolicy {
	if data == nil {
		return RobotsPolicy{}
	}
	group := data.FindGroup(userAgent)
	policy := RobotsPolicy{group: group}
	if group != nil {
		policy.crawlDelay = group.CrawlDelay
	}
	return policy
}

// ParseRobots parses raw robots.txt content, mainly for tests.
func ParseRobots(body string, userAgent string) (RobotsPolicy, error) {
	data, err := robotstxt.FromString(body)
	if err != nil {
		return RobotsPolicy{}, fmt.Errorf("parse robots: %w", err)
	}
	return NewRobotsPolicy(data, userAgent), nil
}

// Allowed reports whether the path may be fetched.
func (p RobotsPolicy) Allowed(path string) bool {
	if p.group == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return p.group.Test(path)
}

// CrawlDelay returns the robots-declared delay, or zero when absent.
func (p RobotsPolicy) CrawlDelay() time.Duration { return p.crawlDelay }
