// Package collector fetches documents from the run's source batch. Sources
// are tried as syndication feeds first (directly, then via feed discovery on
// the homepage), falling back to readable text extracted from the homepage
// itself. Requests are rate limited per target domain and gated on
// robots.txt; all network and parse failures are counted, never fatal.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/temoto/robotstxt"

	"horizon/internal/config"
	"horizon/internal/logger"
	"horizon/internal/models"
	"horizon/pkg/textutil"
)

// Skip reason codes recorded in per-source stats.
const (
	reasonShortEntry    = "empty_or_short_entry"
	reasonHomepageFetch = "homepage_fetch_failed"
	reasonHomepageShort = "homepage_empty_or_short"
	reasonRobots        = "robots_disallowed"
)

// Result aggregates one Fetch call.
type Result struct {
	Docs   []models.Document
	Failed int
	Stats  []SourceStats
}

// SourceStats is the per-source diagnostics block written to the collector
// report.
type SourceStats struct {
	SourceName    string   `json:"source_name"`
	SourceLink    string   `json:"source_link"`
	FeedURL       string   `json:"feed_url,omitempty"`
	EntriesFound  int      `json:"entries_found"`
	DocsCreated   int      `json:"docs_created"`
	AvgTextLength int      `json:"avg_text_length"`
	Errors        []string `json:"errors"`
}

// Collector fetches and extracts documents.
type Collector struct {
	cfg    config.CollectorConfig
	log    *logger.Logger
	client *http.Client
	feeds  *gofeed.Parser

	mu          sync.Mutex
	nextAllowed map[string]time.Time

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.Group
}

// New creates a collector with the given configuration.
func New(cfg config.CollectorConfig, log *logger.Logger) *Collector {
	return &Collector{
		cfg:         cfg,
		log:         log,
		client:      &http.Client{Timeout: cfg.Timeout()},
		feeds:       gofeed.NewParser(),
		nextAllowed: make(map[string]time.Time),
		robots:      make(map[string]*robotstxt.Group),
	}
}

// Fetch collects up to maxDocsPerSource documents per source, in source-list
// order. Failures increment the counter and the per-source error list; no
// failure aborts the run.
func (c *Collector) Fetch(ctx context.Context, sources []models.Source, maxDocsPerSource int) *Result {
	result := &Result{}

	for idx, source := range sources {
		if ctx.Err() != nil {
			break
		}

		if source.FetchURL == "" {
			continue
		}

		c.log.Info(fmt.Sprintf("[%d/%d] Processing: %s", idx+1, len(sources), source.Name))
		c.fetchSource(ctx, source, maxDocsPerSource, result)
	}

	return result
}

func (c *Collector) fetchSource(ctx context.Context, source models.Source, maxDocs int, result *Result) {
	stats := SourceStats{
		SourceName: source.Name,
		SourceLink: source.FetchURL,
		Errors:     []string{},
	}
	defer func() {
		result.Stats = append(result.Stats, stats)
	}()

	url := source.FetchURL

	// Try the source URL itself as a feed.
	feed, _ := c.fetchFeed(ctx, url)
	feedURL := ""

	if feed != nil && len(feed.Items) > 0 {
		feedURL = url
	}

	var homepage string

	if feedURL == "" {
		html, err := c.fetchURL(ctx, url)
		if err == nil {
			homepage = html
			for _, candidate := range limitStrings(discoverFeeds(html, url), c.cfg.MaxFeedDiscovery) {
				discovered, err := c.fetchFeed(ctx, candidate)
				if err == nil && discovered != nil && len(discovered.Items) > 0 {
					feed = discovered
					feedURL = candidate

					break
				}
			}
		}
	}

	if feedURL != "" {
		stats.FeedURL = feedURL
		stats.EntriesFound = len(feed.Items)
		c.collectFeedEntries(ctx, source, feed, feedURL, maxDocs, result, &stats)

		return
	}

	// No usable feed anywhere: fall back to the homepage as one document.
	if homepage == "" {
		html, err := c.fetchURL(ctx, url)
		if err != nil {
			result.Failed++
			stats.Errors = append(stats.Errors, reasonFor(err, reasonHomepageFetch))

			return
		}

		homepage = html
	}

	text := extractReadable(homepage, url)
	if len(text) < c.cfg.MinTextLength {
		result.Failed++
		stats.Errors = append(stats.Errors, reasonHomepageShort)

		return
	}

	result.Docs = append(result.Docs, c.newDocument(source, url, text, ""))
	stats.DocsCreated = 1
	stats.AvgTextLength = len(text)
}

func (c *Collector) collectFeedEntries(ctx context.Context, source models.Source, feed *gofeed.Feed, feedURL string, maxDocs int, result *Result, stats *SourceStats) {
	textLengthSum := 0

	for _, item := range limitItems(feed.Items, maxDocs) {
		if ctx.Err() != nil {
			return
		}

		entryURL := item.Link
		if entryURL == "" {
			entryURL = feedURL
		}

		published := textutil.FirstNonEmpty(item.Published, item.Updated)

		var text string
		if html, err := c.fetchURL(ctx, entryURL); err == nil {
			text = extractReadable(html, entryURL)
		}

		// Fetch or extraction failed: the feed's own summary and content
		// blocks are the fallback.
		if text == "" {
			text = textutil.NormalizeWhitespace(item.Description + " " + item.Content)
		}

		if len(text) < c.cfg.MinTextLength {
			result.Failed++
			stats.Errors = append(stats.Errors, reasonShortEntry)

			continue
		}

		textLengthSum += len(text)
		result.Docs = append(result.Docs, c.newDocument(source, entryURL, text, published))
		stats.DocsCreated++
	}

	if stats.DocsCreated > 0 {
		stats.AvgTextLength = textLengthSum / stats.DocsCreated
	}
}

// newDocument stamps a fetched text with its retrieval time and content
// hash. The hash covers the full extracted text; truncation to the bounded
// length happens after.
func (c *Collector) newDocument(source models.Source, url, text, published string) models.Document {
	return models.Document{
		DocID:        uuid.NewString(),
		SourceName:   source.Name,
		SourceURL:    source.FetchURL,
		CanonicalURL: url,
		PublishedAt:  published,
		RetrievedAt:  time.Now().UTC().Format(time.RFC3339),
		CleanText:    textutil.Truncate(text, c.cfg.MaxTextLength),
		ContentHash:  textutil.HashText(text),
	}
}

func reasonFor(err error, fallback string) string {
	if errors.Is(err, ErrRobotsDisallowed) {
		return reasonRobots
	}

	return fallback
}

func limitStrings(items []string, limit int) []string {
	if limit >= 0 && len(items) > limit {
		return items[:limit]
	}

	return items
}

func limitItems(items []*gofeed.Item, limit int) []*gofeed.Item {
	if limit >= 0 && len(items) > limit {
		return items[:limit]
	}

	return items
}
