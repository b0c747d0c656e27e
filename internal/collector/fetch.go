package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"
)

// Fetch errors.
var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrRobotsDisallowed     = errors.New("disallowed by robots.txt")
)

// waitTurn reserves the next request slot for the URL's domain and blocks
// until it arrives. Reservations are taken under the lock so concurrent
// callers to the same domain are serialized at the configured interval.
func (c *Collector) waitTurn(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}

	c.mu.Lock()
	now := time.Now()

	at := now
	if next, ok := c.nextAllowed[u.Host]; ok && next.After(now) {
		at = next
	}

	c.nextAllowed[u.Host] = at.Add(c.cfg.RateLimit())
	c.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fetchURL fetches a URL as text, honoring the per-domain rate limit, the
// robots.txt gate, and the retry policy. The body is decoded to UTF-8 from
// whatever charset the response declares and capped at max_body_kb.
func (c *Collector) fetchURL(ctx context.Context, rawURL string) (string, error) {
	if c.cfg.RespectRobots {
		if allowed := c.robotsAllowed(ctx, rawURL); !allowed {
			return "", ErrRobotsDisallowed
		}
	}

	var lastErr error

	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if delay := c.cfg.Retry.Delay(attempt); delay > 0 {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		body, status, err := c.doRequest(ctx, rawURL)
		if err == nil {
			return body, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}

		if status != 0 && !retryableStatus(status) {
			break
		}
	}

	return "", lastErr
}

func (c *Collector) doRequest(ctx context.Context, rawURL string) (string, int, error) {
	if err := c.waitTurn(ctx, rawURL); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, text/html, application/xml;q=0.9, */*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}

	limit := int64(c.cfg.MaxBodyKb) * 1024

	body, err := io.ReadAll(io.LimitReader(reader, limit))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	return string(body), resp.StatusCode, nil
}

// fetchFeed fetches and parses a URL as a syndication feed.
func (c *Collector) fetchFeed(ctx context.Context, rawURL string) (*gofeed.Feed, error) {
	content, err := c.fetchURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	feed, err := c.feeds.ParseString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return feed, nil
}

// robotsAllowed checks the URL's path against the domain's robots.txt,
// fetched once per host and cached for the run. Unreachable or unparseable
// robots.txt means allow.
func (c *Collector) robotsAllowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	c.robotsMu.Lock()
	group, cached := c.robots[u.Host]
	c.robotsMu.Unlock()

	if !cached {
		group = c.fetchRobotsGroup(ctx, u)

		c.robotsMu.Lock()
		c.robots[u.Host] = group
		c.robotsMu.Unlock()
	}

	if group == nil {
		return true
	}

	return group.Test(u.Path)
}

func (c *Collector) fetchRobotsGroup(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	if err := c.waitTurn(ctx, robotsURL); err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return nil
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}

	return data.FindGroup(c.cfg.UserAgent)
}

// retryableStatus reports whether an HTTP status indicates a temporary
// failure worth retrying.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}

	return false
}
