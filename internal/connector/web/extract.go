package web

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Content extraction bounds.
const (
	maxContentChars = 50000
	minContentChars = 50
)

var (
	contentSelectors    = []string{"article", "main", "[role=main]", "#content", ".content", "#main"}
	boilerplateSelector = "script,style,nav,header,footer,aside,noscript,iframe,form"
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

// ParsePage parses an HTML body into a goquery document.
func ParsePage(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ExtractTitle picks a title by priority: open-graph title, the page title,
// then the first heading. Falls back to the URL host and path.
func ExtractTitle(doc *goquery.Document, pageURL *url.URL) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if title := collapse(og); title != "" {
			return title
		}
	}
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if heading := collapse(doc.Find("h1,h2,h3").First().Text()); heading != "" {
		return heading
	}
	if pageURL == nil {
		return ""
	}
	return pageURL.Host + pageURL.Path
}

// ExtractContent returns the page's main text: the first non-empty priority
// container, falling back to the whole body, with boilerplate stripped,
// whitespace collapsed, and length capped.
func ExtractContent(doc *goquery.Document) string {
	working := doc.Clone()
	working.Find(boilerplateSelector).Remove()

	var text string
	for _, selector := range contentSelectors {
		if candidate := collapse(working.Find(selector).First().Text()); candidate != "" {
			text = candidate
			break
		}
	}
	if text == "" {
		text = collapse(working.Find("body").Text())
	}
	return truncateRunes(text, maxContentChars)
}

// truncateRunes caps text at max characters without splitting a rune.
func truncateRunes(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}

// ExtractLinks collects same-page anchors resolved to absolute http(s) URLs
// with fragments stripped, deduplicated, in document order.
func ExtractLinks(doc *goquery.Document, base *url.URL) []string {
	var (
		links []string
		seen  = make(map[string]struct{})
	)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// IsHTMLContentType reports whether the Content-Type header denotes HTML.
func IsHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
