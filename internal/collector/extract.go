package collector

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"horizon/pkg/textutil"
)

// extractReadable pulls the readable main-content text out of an HTML page.
// When readability cannot isolate an article, the whole page's text is the
// fallback.
func extractReadable(html, pageURL string) string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return pageText(html)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil {
		if text := textutil.NormalizeWhitespace(article.TextContent); text != "" {
			return text
		}
	}

	return pageText(html)
}

// pageText returns the whitespace-normalized text content of a full page.
func pageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, noscript").Remove()

	return textutil.NormalizeWhitespace(doc.Text())
}

// discoverFeeds scans a page for <link rel="alternate"> feed references,
// resolves them against the page URL, and deduplicates in document order.
func discoverFeeds(html, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)

	var feeds []string

	doc.Find("link").Each(func(_ int, sel *goquery.Selection) {
		rel := strings.ToLower(sel.AttrOr("rel", ""))
		linkType := strings.ToLower(sel.AttrOr("type", ""))
		href := sel.AttrOr("href", "")

		if href == "" || !strings.Contains(rel, "alternate") {
			return
		}

		if !strings.Contains(linkType, "rss") &&
			!strings.Contains(linkType, "atom") &&
			!strings.Contains(linkType, "xml") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}

		resolved := base.ResolveReference(parsed).String()
		if !seen[resolved] {
			seen[resolved] = true

			feeds = append(feeds, resolved)
		}
	})

	return feeds
}
