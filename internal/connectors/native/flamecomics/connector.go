package flamecomics

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/connectors"
)

var (
	seriesIDPattern        = regexp.MustCompile(`^\d+$`)
	metaTitlePattern       = regexp.MustCompile(`(?is)<meta\s+[^>]*property=["']og:title["'][^>]*content=["']([^"]+)["']`)
	titleTagPattern        = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	metaImagePattern       = regexp.MustCompile(`(?is)<meta\s+[^>]*(?:property=["']og:image["']|name=["']twitter:image["'])[^>]*content=["']([^"]+)["']`)
	metaDescriptionPattern = regexp.MustCompile(`(?is)<meta\s+[^>]*(?:property=["']og:description["']|name=["']description["'])[^>]*content=["']([^"]+)["']`)
	chapterLinkPattern     = regexp.MustCompile(`(?is)<a[^>]+href=["'](?:https?://[^"']+)?/series/(\d+)/([a-z0-9]+)["'][^>]*>(.*?)</a>`)
	chapterNumberPattern   = regexp.MustCompile(`(?i)Chapter(?:\s|<!--\s*-->|&nbsp;)+([0-9]+(?:\.[0-9]+)?)`)
	fullDateTimePattern    = regexp.MustCompile(`(?i)(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\s+\d{1,2},\s+\d{4}(?:\s+\d{1,2}:\d{2}\s*(?:AM|PM))?`)
	htmlTagPattern         = regexp.MustCompile(`(?is)<[^>]+>`)
	whitespacePattern      = regexp.MustCompile(`\s+`)
	regionSuffixPattern    = regexp.MustCompile(`\s+(KR|JP|CN|XX)$`)
)

// maxDateDistance bounds how far after a chapter link its release date is
// looked for.
const maxDateDistance = 1800

type Connector struct {
	baseURL    string
	httpClient *http.Client
}

func NewConnector() *Connector {
	return NewConnectorWithOptions("https://flamecomics.xyz", nil)
}

func NewConnectorWithOptions(baseURL string, client *http.Client) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &Connector{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

func (c *Connector) Key() string {
	return "flamecomics"
}

func (c *Connector) Name() string {
	return "FlameComics"
}

func (c *Connector) Kind() string {
	return connectors.KindNative
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	_, err := c.fetchPage(ctx, c.baseURL+"/latest")
	return err
}

// ScrapeSeries reads the chapter links of a series page. Each link is
// followed by its release date somewhere before the next link.
func (c *Connector) ScrapeSeries(ctx context.Context, req connectors.SeriesRequest) (*connectors.Feed, error) {
	seriesID := seriesIDFrom(req.TitleID)
	if seriesID == "" {
		seriesID = seriesIDFrom(req.FeedURL)
	}
	if seriesID == "" {
		return nil, fmt.Errorf("invalid flamecomics series id %q", req.TitleID)
	}

	body, err := c.fetchPage(ctx, c.baseURL+"/series/"+seriesID)
	if err != nil {
		return nil, fmt.Errorf("fetch series page: %w", err)
	}

	title := extractTitle(body)
	if title == "" {
		title = "Series " + seriesID
	}
	return &connectors.Feed{
		MangaTitle: title,
		Info: &connectors.SeriesInfo{
			Cover:       normalizeImageURL(html.UnescapeString(firstSubmatch(metaImagePattern, body))),
			Description: cleanText(firstSubmatch(metaDescriptionPattern, body)),
		},
		Chapters: parseChapters(body, seriesID, c.baseURL),
	}, nil
}

func parseChapters(body string, seriesID string, baseURL string) []connectors.RawChapter {
	matches := chapterLinkPattern.FindAllStringSubmatchIndex(body, -1)
	chapters := make([]connectors.RawChapter, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for i, loc := range matches {
		if body[loc[2]:loc[3]] != seriesID {
			continue
		}
		token := strings.ToLower(body[loc[4]:loc[5]])
		identifier := seriesID + "/" + token
		if _, ok := seen[identifier]; ok {
			continue
		}

		inner := body[loc[6]:loc[7]]
		segmentEnd := loc[1] + maxDateDistance
		if i+1 < len(matches) && matches[i+1][0] < segmentEnd {
			segmentEnd = matches[i+1][0]
		}
		if segmentEnd > len(body) {
			segmentEnd = len(body)
		}
		segment := inner + " " + body[loc[1]:segmentEnd]

		number := firstSubmatch(chapterNumberPattern, inner)
		title := cleanText(fullDateTimePattern.ReplaceAllString(inner, ""))
		if title == "" && number == "" {
			continue
		}
		if title == "" {
			title = "Chapter " + number
		}
		seen[identifier] = struct{}{}

		chapters = append(chapters, connectors.RawChapter{
			Identifier:  identifier,
			Title:       title,
			Number:      number,
			ReleaseDate: parseFlameDate(fullDateTimePattern.FindString(cleanText(segment))),
			URL:         baseURL + "/series/" + identifier,
		})
	}
	return chapters
}

func parseFlameDate(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	layouts := []string{
		"January 2, 2006 3:04 PM",
		"Jan 2, 2006 3:04 PM",
		"January 2, 2006",
		"Jan 2, 2006",
	}
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, trimmed)
		if err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

// seriesIDFrom accepts a numeric id or a /series/{id} path or URL.
func seriesIDFrom(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if seriesIDPattern.MatchString(trimmed) {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(path.Clean("/"+parsed.Path), "/"), "/")
	if len(segments) >= 2 && segments[0] == "series" && seriesIDPattern.MatchString(segments[1]) {
		return segments[1]
	}
	return ""
}

func extractTitle(body string) string {
	title := strings.TrimSpace(html.UnescapeString(firstSubmatch(metaTitlePattern, body)))
	if title == "" {
		title = cleanText(firstSubmatch(titleTagPattern, body))
	}
	title = strings.ReplaceAll(title, "- Flame Comics", "")
	title = strings.ReplaceAll(title, "| Flame Comics", "")
	return regionSuffixPattern.ReplaceAllString(strings.TrimSpace(title), "")
}

// normalizeImageURL unwraps next.js image proxy URLs to the original image.
func normalizeImageURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if parsed, err := url.Parse(trimmed); err == nil && strings.HasPrefix(parsed.Path, "/_next/image") {
		if target := strings.TrimSpace(parsed.Query().Get("url")); target != "" {
			return target
		}
	}
	return trimmed
}

func cleanText(raw string) string {
	text := htmlTagPattern.ReplaceAllString(raw, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func firstSubmatch(pattern *regexp.Regexp, raw string) string {
	matches := pattern.FindStringSubmatch(raw)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

func (c *Connector) fetchPage(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status: %d", res.StatusCode)
	}

	rawBody, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(rawBody), nil
}
