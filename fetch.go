package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// FetchTimeout bounds each page fetch. Unlike model calls, page
	// fetches have no reason to wait indefinitely.
	FetchTimeout = 30 * time.Second

	// MaxFetchedContentLength caps extracted page text so it stays usable
	// as prompt seed material.
	MaxFetchedContentLength = 8000
)

// FetchURLContent fetches a web page and extracts its readable text:
// title, headings, paragraphs, and list items, with scripts and styles
// dropped. The result is used by the UI as discussion seed material.
func FetchURLContent(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := &http.Client{
		Timeout: FetchTimeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	var b strings.Builder

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}

	doc.Find("h1, h2, h3, p, li").Each(func(_ int, s *goquery.Selection) {
		text := collapseWhitespace(s.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n")
	})

	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", fmt.Errorf("no readable content found")
	}

	if len(content) > MaxFetchedContentLength {
		content = content[:MaxFetchedContentLength]
	}

	return content, nil
}

// collapseWhitespace squeezes runs of whitespace into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
