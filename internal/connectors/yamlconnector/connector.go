package yamlconnector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/database"
)

type Connector struct {
	config     Config
	grammars   []chapterid.Grammar
	httpClient *http.Client
}

func NewConnector(cfg Config, client *http.Client) (*Connector, error) {
	if err := cfg.normalizeAndValidate(); err != nil {
		return nil, err
	}

	grammars := make([]chapterid.Grammar, 0, len(cfg.ChapterPatterns))
	for _, pattern := range cfg.ChapterPatterns {
		grammar, err := chapterid.NewGrammar(pattern)
		if err != nil {
			return nil, err
		}
		grammars = append(grammars, grammar)
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Connector{config: cfg, grammars: grammars, httpClient: client}, nil
}

func (c *Connector) Key() string {
	return c.config.Key
}

func (c *Connector) Name() string {
	return c.config.Name
}

func (c *Connector) Kind() string {
	return connectors.KindYAML
}

func (c *Connector) Grammars() []chapterid.Grammar {
	return c.grammars
}

// Seed is the services row this connector needs.
func (c *Connector) Seed() database.ServiceSeed {
	return database.ServiceSeed{
		Key:           c.config.Key,
		Name:          c.config.Name,
		URL:           c.config.BaseURL,
		FeedURL:       c.config.BaseURL + ensurePathPrefix(c.config.Feed.Path),
		CheckInterval: c.config.CheckInterval,
		DedupWindow:   c.config.DedupWindow,
	}
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	endpoint := c.config.BaseURL + ensurePathPrefix(c.config.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request health: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", res.StatusCode)
	}

	return nil
}

// ScrapeService reads the latest-chapters feed. Entries are returned in
// feed order; the id of the first one becomes Feed.LastID.
func (c *Connector) ScrapeService(ctx context.Context, req connectors.ServiceRequest) (*connectors.Feed, error) {
	endpoint := strings.TrimSpace(req.FeedURL)
	if endpoint == "" {
		endpoint = c.config.BaseURL + ensurePathPrefix(c.config.Feed.Path)
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid feed url: %w", err)
	}
	if len(c.config.AllowedHosts) > 0 && !hostAllowed(parsed.Hostname(), c.config.AllowedHosts) {
		return nil, fmt.Errorf("feed url does not belong to allowed hosts")
	}
	if c.config.Feed.SinceParam != "" && req.LastUpdate != nil {
		values := parsed.Query()
		values.Set(c.config.Feed.SinceParam, req.LastUpdate.UTC().Format(time.RFC3339))
		parsed.RawQuery = values.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("feed endpoint status: %d", res.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode feed payload: %w", err)
	}

	rawItems := getByPath(payload, c.config.Response.ItemsPath)
	itemList, ok := rawItems.([]any)
	if !ok {
		return nil, fmt.Errorf("feed payload items are invalid")
	}

	feed := &connectors.Feed{Chapters: make([]connectors.RawChapter, 0, len(itemList))}
	for _, rawItem := range itemList {
		itemMap, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		chapter, err := c.mapItem(itemMap)
		if err != nil {
			continue
		}
		if feed.LastID == "" {
			feed.LastID = chapter.Identifier
		}
		feed.Chapters = append(feed.Chapters, chapter)
	}

	return feed, nil
}

func (c *Connector) mapItem(item map[string]any) (connectors.RawChapter, error) {
	id, ok := toString(getByPath(item, c.config.Response.IDField))
	if !ok || strings.TrimSpace(id) == "" {
		return connectors.RawChapter{}, fmt.Errorf("missing id field")
	}
	seriesID, ok := toString(getByPath(item, c.config.Response.SeriesIDField))
	if !ok || strings.TrimSpace(seriesID) == "" {
		return connectors.RawChapter{}, fmt.Errorf("missing series id field")
	}
	seriesTitle, ok := toString(getByPath(item, c.config.Response.SeriesTitleField))
	if !ok || strings.TrimSpace(seriesTitle) == "" {
		return connectors.RawChapter{}, fmt.Errorf("missing series title field")
	}

	chapter := connectors.RawChapter{
		Identifier: strings.TrimSpace(id),
		TitleID:    strings.TrimSpace(seriesID),
		MangaTitle: strings.TrimSpace(seriesTitle),
	}

	if title, ok := toString(getByPath(item, c.config.Response.TitleField)); ok {
		chapter.Title = strings.TrimSpace(title)
	}
	if c.config.Response.NumberField != "" {
		if number, ok := toString(getByPath(item, c.config.Response.NumberField)); ok {
			chapter.Number = strings.TrimSpace(number)
		}
	}
	if chapter.Title == "" && chapter.Number == "" {
		return connectors.RawChapter{}, fmt.Errorf("missing title and number fields")
	}
	if c.config.Response.GroupField != "" {
		if group, ok := toString(getByPath(item, c.config.Response.GroupField)); ok {
			chapter.Group = strings.TrimSpace(group)
		}
	}
	if link, ok := toString(getByPath(item, c.config.Response.URLField)); ok {
		chapter.URL = strings.TrimSpace(link)
	}
	if released, ok := toTime(getByPath(item, c.config.Response.DateField)); ok {
		chapter.ReleaseDate = &released
	}

	return chapter, nil
}

func ensurePathPrefix(rawPath string) string {
	rawPath = strings.TrimSpace(rawPath)
	if rawPath == "" {
		return ""
	}
	if strings.HasPrefix(rawPath, "/") {
		return rawPath
	}
	return "/" + rawPath
}

func hostAllowed(host string, allowedHosts []string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func getByPath(input map[string]any, dottedPath string) any {
	dottedPath = strings.TrimSpace(dottedPath)
	if dottedPath == "" {
		return input
	}

	current := any(input)
	for _, segment := range strings.Split(dottedPath, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = asMap[segment]
	}
	return current
}

func toString(input any) (string, bool) {
	switch value := input.(type) {
	case string:
		return value, true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case int:
		return strconv.Itoa(value), true
	default:
		return "", false
	}
}

func toTime(input any) (time.Time, bool) {
	switch value := input.(type) {
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			parsed, err := time.Parse(layout, trimmed)
			if err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		return fromUnixTimestamp(int64(value))
	case int:
		return fromUnixTimestamp(int64(value))
	case int64:
		return fromUnixTimestamp(value)
	default:
		return time.Time{}, false
	}
}

func fromUnixTimestamp(value int64) (time.Time, bool) {
	if value <= 0 {
		return time.Time{}, false
	}
	if value > 1_000_000_000_000 {
		value = value / 1000
	}
	return time.Unix(value, 0).UTC(), true
}
