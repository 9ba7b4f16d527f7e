package asuracomic

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel/chapter-tracker/internal/chapterid"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/searchutil"
)

var (
	chapterPathPattern         = regexp.MustCompile(`(?i)/chapter/([0-9a-z.\-]+)/?$`)
	whitespacePattern          = regexp.MustCompile(`\s+`)
	monthDayOrdinalYearPattern = regexp.MustCompile(`(?i)(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})`)
)

type Connector struct {
	baseURL    string
	httpClient *http.Client
}

func NewConnector() *Connector {
	return NewConnectorWithOptions("https://asuracomic.net", nil)
}

func NewConnectorWithOptions(baseURL string, client *http.Client) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &Connector{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

func (c *Connector) Key() string {
	return "asuracomic"
}

func (c *Connector) Name() string {
	return "AsuraComic"
}

func (c *Connector) Kind() string {
	return connectors.KindNative
}

// Grammars covers "Chapter 74ex – Drunken Ping-Pong" and "Chapter 156.2".
func (c *Connector) Grammars() []chapterid.Grammar {
	return []chapterid.Grammar{chapterid.ExtraSuffixGrammar}
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	_, err := c.fetchDocument(ctx, c.baseURL+"/series?page=1")
	return err
}

// ScrapeSeries reads the chapter list of a series page.
func (c *Connector) ScrapeSeries(ctx context.Context, req connectors.SeriesRequest) (*connectors.Feed, error) {
	seriesID := strings.ToLower(strings.TrimSpace(req.TitleID))
	if !isValidSeriesID(seriesID) {
		return nil, fmt.Errorf("invalid asuracomic series id %q", req.TitleID)
	}

	doc, err := c.fetchDocument(ctx, c.baseURL+"/series/"+url.PathEscape(seriesID))
	if err != nil {
		return nil, fmt.Errorf("fetch series page: %w", err)
	}

	title := extractTitle(doc)
	if title == "" {
		title = prettifySeriesID(seriesID)
	}

	feed := &connectors.Feed{
		MangaTitle: title,
		AltTitles:  searchutil.ExtractAlternativeTitles(pageText(doc)),
		Info: &connectors.SeriesInfo{
			Cover:       c.absoluteURL(metaContent(doc, `meta[property="og:image"]`)),
			Description: metaContent(doc, `meta[property="og:description"]`),
		},
	}

	seen := make(map[string]struct{})
	doc.Find(`a[href*="/chapter/"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		match := chapterPathPattern.FindStringSubmatch(strings.TrimSpace(href))
		if len(match) < 2 {
			return
		}
		slug := strings.ToLower(match[1])
		if _, ok := seen[slug]; ok {
			return
		}

		rawTitle := chapterTitle(link)
		if rawTitle == "" {
			return
		}
		seen[slug] = struct{}{}

		chapter := connectors.RawChapter{
			Identifier: seriesBase(seriesID) + "/" + slug,
			Title:      rawTitle,
			URL:        c.absoluteURL(href),
		}
		if released := parseAsuraDate(cleanText(link.Text())); released != nil {
			chapter.ReleaseDate = released
		}
		feed.Chapters = append(feed.Chapters, chapter)
	})

	return feed, nil
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
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "//") {
		return "https:" + trimmed
	}
	if strings.HasPrefix(trimmed, "/") {
		return c.baseURL + trimmed
	}
	return c.baseURL + "/" + trimmed
}

// chapterTitle prefers the heading inside the chapter link. A link whose
// heading and subtitle are split into two elements is joined back together.
func chapterTitle(link *goquery.Selection) string {
	headings := link.Find("h3")
	if headings.Length() == 0 {
		return cleanText(monthDayOrdinalYearPattern.ReplaceAllString(link.Text(), ""))
	}

	title := cleanText(headings.First().Text())
	if sub := cleanText(headings.First().Find("span").Text()); sub != "" {
		number := cleanText(strings.Replace(headings.First().Text(), headings.First().Find("span").Text(), "", 1))
		title = number + " – " + sub
	}
	return title
}

func extractTitle(doc *goquery.Document) string {
	title := metaContent(doc, `meta[property="og:title"]`)
	if title == "" {
		title = cleanText(doc.Find("title").First().Text())
	}
	title = strings.ReplaceAll(title, "- Asura Scans", "")
	title = strings.ReplaceAll(title, "| Asura Scans", "")
	return strings.TrimSpace(title)
}

func metaContent(doc *goquery.Document, selector string) string {
	value, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(value)
}

func pageText(doc *goquery.Document) string {
	lines := make([]string, 0)
	doc.Find("body *").Each(func(_ int, node *goquery.Selection) {
		if node.Children().Length() > 0 {
			return
		}
		if text := cleanText(node.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	return strings.Join(lines, "\n")
}

func parseAsuraDate(raw string) *time.Time {
	matches := monthDayOrdinalYearPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if len(matches) < 4 {
		return nil
	}

	month := strings.ToUpper(matches[1][:1]) + strings.ToLower(matches[1][1:3])
	parsed, err := time.Parse("Jan 2 2006", fmt.Sprintf("%s %s %s", month, matches[2], matches[3]))
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

// seriesBase drops the random suffix asuracomic appends to series slugs, so
// chapter identifiers survive a slug change.
func seriesBase(seriesID string) string {
	idx := strings.LastIndex(seriesID, "-")
	if idx <= 0 {
		return seriesID
	}
	suffix := seriesID[idx+1:]
	if len(suffix) != 8 {
		return seriesID
	}
	for _, r := range suffix {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return seriesID
		}
	}
	return seriesID[:idx]
}

func isValidSeriesID(seriesID string) bool {
	for _, r := range seriesID {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return false
	}
	return seriesID != ""
}

func prettifySeriesID(seriesID string) string {
	parts := strings.Fields(strings.ReplaceAll(seriesBase(seriesID), "-", " "))
	if len(parts) == 0 {
		return "Untitled"
	}
	for index, part := range parts {
		parts[index] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func cleanText(raw string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(raw, " "))
}
