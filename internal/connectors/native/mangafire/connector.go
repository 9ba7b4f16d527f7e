package mangafire

import (
	"context"
	"errors"
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
	"golang.org/x/time/rate"
)

const maxAttempts = 3

var (
	chapterPathPattern = regexp.MustCompile(`(?i)/read/([^/]+)/([a-z-]+)/chapter-(\d+(?:\.\d+)?)`)
	chapterDatePattern = regexp.MustCompile(`(?i)(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+(\d{1,2}),\s+(\d{4})`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

type Connector struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewConnector() *Connector {
	return NewConnectorWithOptions("https://mangafire.to", nil, nil)
}

func NewConnectorWithOptions(baseURL string, client *http.Client, limiter *rate.Limiter) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(150*time.Millisecond), 1)
	}
	return &Connector{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: client,
		limiter:    limiter,
	}
}

func (c *Connector) Key() string {
	return "mangafire"
}

func (c *Connector) Name() string {
	return "MangaFire"
}

func (c *Connector) Kind() string {
	return connectors.KindNative
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	_, err := c.fetchDocument(ctx, c.baseURL+"/home")
	return err
}

// ScrapeSeries reads the English chapter links of a manga page. The release
// date sits next to each link in its list item.
func (c *Connector) ScrapeSeries(ctx context.Context, req connectors.SeriesRequest) (*connectors.Feed, error) {
	itemID := itemIDFrom(req.TitleID)
	if itemID == "" {
		itemID = itemIDFrom(req.FeedURL)
	}
	if itemID == "" {
		return nil, fmt.Errorf("invalid mangafire manga id %q", req.TitleID)
	}

	doc, err := c.fetchDocument(ctx, c.baseURL+"/manga/"+url.PathEscape(itemID))
	if err != nil {
		return nil, fmt.Errorf("fetch manga page: %w", err)
	}

	title := sanitizeTitle(metaContent(doc, `meta[property="og:title"]`))
	if title == "" {
		title = prettifyItemID(itemID)
	}
	cover := metaContent(doc, `meta[property="og:image"]`)
	if cover == "" {
		cover, _ = doc.Find(".poster img").First().Attr("src")
	}

	feed := &connectors.Feed{
		MangaTitle: title,
		Info: &connectors.SeriesInfo{
			Cover:       c.absoluteURL(cover),
			Description: metaContent(doc, `meta[property="og:description"]`),
		},
	}

	seen := make(map[string]struct{})
	doc.Find(`a[href*="/chapter-"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		match := chapterPathPattern.FindStringSubmatch(href)
		if len(match) < 4 || match[1] != itemID || !strings.EqualFold(match[2], "en") {
			return
		}
		identifier := itemID + "/" + match[3]
		if _, ok := seen[identifier]; ok {
			return
		}
		seen[identifier] = struct{}{}

		rawTitle := cleanText(link.Find(".name, span").First().Text())
		if rawTitle == "" {
			rawTitle = cleanText(chapterDatePattern.ReplaceAllString(link.Text(), ""))
		}
		if rawTitle == "" {
			rawTitle = "Chapter " + match[3]
		}

		chapter := connectors.RawChapter{
			Identifier: identifier,
			Title:      rawTitle,
			Number:     match[3],
			URL:        c.absoluteURL(href),
		}
		chapter.ReleaseDate = parseDate(link.Text())
		if chapter.ReleaseDate == nil {
			chapter.ReleaseDate = parseDate(link.Parent().Text())
		}
		feed.Chapters = append(feed.Chapters, chapter)
	})

	return feed, nil
}

// fetchDocument retries a 429 up to maxAttempts times, waiting for the
// Retry-After the site sends.
func (c *Connector) fetchDocument(ctx context.Context, endpoint string) (*goquery.Document, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		doc, retryAfter, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
			return nil, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay(attempt, retryAfter)):
		}
	}
	return nil, lastErr
}

func (c *Connector) fetchOnce(ctx context.Context, endpoint string) (*goquery.Document, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", c.baseURL+"/home")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, res.Header.Get("Retry-After"), &StatusError{StatusCode: res.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parse html: %w", err)
	}
	return doc, "", nil
}

// retryDelay honours a Retry-After in seconds, capped at four, and falls
// back to a short growing delay.
func retryDelay(attempt int, retryAfter string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
		seconds = max(0, min(seconds, 4))
		return time.Duration(seconds) * time.Second
	}
	switch attempt {
	case 0:
		return 350 * time.Millisecond
	case 1:
		return 800 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

func parseDate(raw string) *time.Time {
	match := chapterDatePattern.FindStringSubmatch(raw)
	if len(match) < 4 {
		return nil
	}
	month := strings.ToUpper(match[1][:1]) + strings.ToLower(match[1][1:])
	parsed, err := time.Parse("Jan 2 2006", month+" "+match[2]+" "+match[3])
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

// itemIDFrom accepts an item id such as "one-piecee.dkw" or a /manga/{id}
// path or URL.
func itemIDFrom(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if parsed, err := url.Parse(trimmed); err == nil {
		trimmed = parsed.Path
	}
	segments := strings.Split(strings.Trim(path.Clean("/"+trimmed), "/"), "/")
	var id string
	switch {
	case len(segments) == 1:
		id = segments[0]
	case len(segments) == 2 && segments[0] == "manga":
		id = segments[1]
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.' || r == '_' {
			continue
		}
		return ""
	}
	return id
}

func sanitizeTitle(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimSuffix(trimmed, " Manga - Read Manga Online Free")
	trimmed = strings.TrimSuffix(trimmed, " - Read Manga Online Free")
	return strings.TrimSpace(trimmed)
}

func prettifyItemID(itemID string) string {
	slug, _, _ := strings.Cut(itemID, ".")
	parts := strings.Fields(strings.ReplaceAll(slug, "-", " "))
	if len(parts) == 0 {
		return itemID
	}
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func metaContent(doc *goquery.Document, selector string) string {
	value, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(value)
}

func (c *Connector) absoluteURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return trimmed
	}
	return base.ResolveReference(parsed).String()
}

func cleanText(raw string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(raw, " "))
}
