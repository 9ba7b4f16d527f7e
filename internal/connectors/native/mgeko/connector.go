package mgeko

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/searchutil"
)

const canonicalBaseURL = "https://www.mgeko.cc"

var (
	readerPathPattern        = regexp.MustCompile(`(?i)/reader/en/([^/?#]+-chapter-([0-9]+(?:-[0-9]+)?)[^/?#]*)/?`)
	relativeUnitPattern      = regexp.MustCompile(`(?i)(\d+)\s*(minute|hour|day|week|month|year)s?`)
	monthAbbrevPattern       = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|jun|jul|aug|sept?|oct|nov|dec)\.`)
	meridiemPattern          = regexp.MustCompile(`(?i)\b([ap])\.?m\.?`)
	allChaptersSuffixPattern = regexp.MustCompile(`(?i)\s*\[all\s+chapters?\]\s*$`)
	whitespacePattern        = regexp.MustCompile(`\s+`)
)

var datetimeLayouts = []string{
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006, 3 PM",
	"January 2, 2006, 3:04 PM",
	"January 2, 2006, 3 PM",
	"Jan 2, 2006",
	"January 2, 2006",
}

type Connector struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewConnector() *Connector {
	return NewConnectorWithOptions(canonicalBaseURL, nil)
}

func NewConnectorWithOptions(baseURL string, client *http.Client) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &Connector{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: client,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *Connector) Key() string {
	return "mgeko"
}

func (c *Connector) Name() string {
	return "Mgeko"
}

func (c *Connector) Kind() string {
	return connectors.KindNative
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	_, err := c.fetchDocument(ctx, c.baseURL+"/browse-comics/")
	return err
}

// ScrapeSeries reads a series page for metadata and its all-chapters page
// for the chapter list. The chapters listed on the series page are used
// when the all-chapters page is missing or empty.
func (c *Connector) ScrapeSeries(ctx context.Context, req connectors.SeriesRequest) (*connectors.Feed, error) {
	slug := seriesSlug(req.TitleID)
	if slug == "" {
		slug = seriesSlug(req.FeedURL)
	}
	if slug == "" {
		return nil, fmt.Errorf("invalid mgeko series id %q", req.TitleID)
	}

	seriesURL := c.baseURL + "/manga/" + url.PathEscape(slug) + "/"
	doc, err := c.fetchDocument(ctx, seriesURL)
	if err != nil {
		return nil, fmt.Errorf("fetch series page: %w", err)
	}

	title := extractTitle(doc, slug)
	feed := &connectors.Feed{
		MangaTitle: title,
		AltTitles:  alternativeTitles(doc, title),
		Info: &connectors.SeriesInfo{
			Cover:       c.absoluteURL(coverImage(doc)),
			Description: cleanText(doc.Find(".description, .summary").First().Text()),
		},
	}

	now := c.now()
	chaptersDoc, chaptersErr := c.fetchDocument(ctx, seriesURL+"all-chapters/")
	if chaptersErr == nil {
		feed.Chapters = c.parseChapters(chaptersDoc, now)
	}
	if len(feed.Chapters) == 0 {
		feed.Chapters = c.parseChapters(doc, now)
	}
	return feed, nil
}

func (c *Connector) parseChapters(doc *goquery.Document, now time.Time) []connectors.RawChapter {
	chapters := make([]connectors.RawChapter, 0)
	seen := make(map[string]struct{})
	doc.Find(`a[href*="/reader/"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		match := readerPathPattern.FindStringSubmatch(strings.TrimSpace(href))
		if len(match) < 3 {
			return
		}
		identifier := strings.ToLower(match[1])
		if _, ok := seen[identifier]; ok {
			return
		}
		seen[identifier] = struct{}{}

		number := strings.Replace(match[2], "-", ".", 1)
		chapter := connectors.RawChapter{
			Identifier: identifier,
			Title:      "Chapter " + number,
			Number:     number,
			URL:        c.absoluteURL(href),
		}
		if raw, ok := link.Find("time[datetime]").First().Attr("datetime"); ok {
			chapter.ReleaseDate = parseDatetime(raw)
		}
		if chapter.ReleaseDate == nil {
			relative := link.Find(".chapter-update, .chapter-stats").First().Text()
			chapter.ReleaseDate = parseRelativeTime(relative, now)
		}
		chapters = append(chapters, chapter)
	})
	return chapters
}

func (c *Connector) fetchDocument(ctx context.Context, endpoint string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func (c *Connector) absoluteURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return ""
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		return trimmed
	case strings.HasPrefix(trimmed, "//"):
		return "https:" + trimmed
	case strings.HasPrefix(trimmed, "/"):
		return c.baseURL + trimmed
	}
	return c.baseURL + "/" + trimmed
}

func extractTitle(doc *goquery.Document, slug string) string {
	if title := cleanText(doc.Find("h1.novel-title").First().Text()); title != "" {
		return title
	}
	value, _ := doc.Find(`meta[name="title"]`).First().Attr("content")
	if title := strings.TrimSpace(allChaptersSuffixPattern.ReplaceAllString(value, "")); title != "" {
		return title
	}
	return prettifySlug(slug)
}

// alternativeTitles splits the comma separated alternative-title heading
// and keeps the latin names that are not a piece of the main title.
func alternativeTitles(doc *goquery.Document, title string) []string {
	raw := cleanText(doc.Find("h2.alternative-title").First().Text())
	if raw == "" {
		return nil
	}
	primary := searchutil.Normalize(title)
	titles := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if !searchutil.IsLatinName(part) || strings.Contains(primary, searchutil.Normalize(part)) {
			continue
		}
		titles = append(titles, part)
	}
	return searchutil.UniqueNonEmpty(titles)
}

func coverImage(doc *goquery.Document) string {
	if value, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && strings.TrimSpace(value) != "" {
		return value
	}
	value, _ := doc.Find(`img.lazy[data-src*="manga_covers"]`).First().Attr("data-src")
	return value
}

// seriesSlug accepts a bare slug or a /manga/{slug}/ path or URL.
func seriesSlug(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Path != "" {
		trimmed = parsed.Path
	}
	segments := strings.Split(strings.Trim(path.Clean("/"+trimmed), "/"), "/")
	switch {
	case len(segments) == 1:
		return validSlug(segments[0])
	case len(segments) >= 2 && segments[0] == "manga":
		return validSlug(segments[1])
	}
	return ""
}

func validSlug(slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return ""
	}
	return slug
}

// parseDatetime reads the datetime attribute mgeko renders, such as
// "Feb. 21, 2026, 6:00 p.m." or "Sept. 3, 2025, noon".
func parseDatetime(raw string) *time.Time {
	normalized := strings.ReplaceAll(strings.TrimSpace(raw), "\u00a0", " ")
	normalized = strings.ReplaceAll(normalized, "noon", "12 PM")
	normalized = strings.ReplaceAll(normalized, "midnight", "12 AM")
	normalized = monthAbbrevPattern.ReplaceAllStringFunc(normalized, func(month string) string {
		return month[:3]
	})
	normalized = meridiemPattern.ReplaceAllStringFunc(normalized, func(value string) string {
		return strings.ToUpper(value[:1]) + "M"
	})
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")
	if normalized == "" {
		return nil
	}

	for _, layout := range datetimeLayouts {
		parsed, err := time.Parse(layout, normalized)
		if err != nil {
			continue
		}
		utc := parsed.UTC()
		return &utc
	}
	return nil
}

// parseRelativeTime reads "5 days, 23 hours" style ages.
func parseRelativeTime(raw string, now time.Time) *time.Time {
	normalized := strings.ToLower(cleanText(raw))
	if normalized == "" {
		return nil
	}
	if strings.Contains(normalized, "just now") {
		return &now
	}

	matches := relativeUnitPattern.FindAllStringSubmatch(normalized, -1)
	if len(matches) == 0 {
		return nil
	}
	result := now
	for _, match := range matches {
		quantity, err := strconv.Atoi(match[1])
		if err != nil || quantity <= 0 {
			continue
		}
		switch match[2] {
		case "minute":
			result = result.Add(-time.Duration(quantity) * time.Minute)
		case "hour":
			result = result.Add(-time.Duration(quantity) * time.Hour)
		case "day":
			result = result.AddDate(0, 0, -quantity)
		case "week":
			result = result.AddDate(0, 0, -7*quantity)
		case "month":
			result = result.AddDate(0, -quantity, 0)
		case "year":
			result = result.AddDate(-quantity, 0, 0)
		}
	}
	return &result
}

func prettifySlug(slug string) string {
	parts := strings.Fields(strings.ReplaceAll(strings.TrimSpace(slug), "-", " "))
	if len(parts) == 0 {
		return "Untitled"
	}
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func cleanText(raw string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(raw, " "))
}
