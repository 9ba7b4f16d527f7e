package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/connectors"
	"golang.org/x/time/rate"
)

var titleIDPattern = regexp.MustCompile(`^[0-9a-fA-F-]{32,36}$`)

const feedPageSize = 100

type Connector struct {
	apiBaseURL string
	language   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewConnector() *Connector {
	return NewConnectorWithOptions("https://api.mangadex.org", nil, nil)
}

// NewConnectorWithOptions builds a connector against another API base URL.
// A nil limiter uses the public API limit of five requests per second.
func NewConnectorWithOptions(apiBaseURL string, client *http.Client, limiter *rate.Limiter) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(5), 1)
	}
	return &Connector{
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		language:   "en",
		httpClient: client,
		limiter:    limiter,
	}
}

func (c *Connector) Key() string {
	return "mangadex"
}

func (c *Connector) Name() string {
	return "MangaDex"
}

func (c *Connector) Kind() string {
	return connectors.KindNative
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	res, err := c.get(ctx, c.apiBaseURL+"/ping")
	if err != nil {
		return fmt.Errorf("request ping: %w", err)
	}
	res.Body.Close()
	return nil
}

// ScrapeSeries reads the title and its english chapter feed, newest first.
func (c *Connector) ScrapeSeries(ctx context.Context, req connectors.SeriesRequest) (*connectors.Feed, error) {
	titleID := strings.TrimSpace(req.TitleID)
	if !titleIDPattern.MatchString(titleID) {
		return nil, fmt.Errorf("invalid mangadex title id %q", titleID)
	}

	var manga mangaResponse
	if err := c.getJSON(ctx, c.apiBaseURL+"/manga/"+titleID+"?includes[]=author&includes[]=artist", &manga); err != nil {
		return nil, fmt.Errorf("fetch manga: %w", err)
	}

	values := url.Values{}
	values.Add("translatedLanguage[]", c.language)
	values.Set("order[chapter]", "desc")
	values.Set("limit", strconv.Itoa(feedPageSize))
	values.Add("includes[]", "scanlation_group")

	var chapterFeed feedResponse
	if err := c.getJSON(ctx, c.apiBaseURL+"/manga/"+titleID+"/feed?"+values.Encode(), &chapterFeed); err != nil {
		return nil, fmt.Errorf("fetch chapter feed: %w", err)
	}

	feed := &connectors.Feed{
		MangaTitle: pickBestTitle(manga.Data.Attributes.Title),
		Info:       seriesInfo(manga),
		Chapters:   make([]connectors.RawChapter, 0, len(chapterFeed.Data)),
	}
	for _, alt := range manga.Data.Attributes.AltTitles {
		if value := pickBestTitle(alt); value != "" {
			feed.AltTitles = append(feed.AltTitles, value)
		}
	}

	for _, item := range chapterFeed.Data {
		if item.Attributes.ExternalURL != nil && *item.Attributes.ExternalURL != "" {
			continue
		}
		chapter := connectors.RawChapter{
			Identifier: item.ID,
			URL:        "https://mangadex.org/chapter/" + item.ID,
			Group:      groupName(item.Relationships),
		}
		if item.Attributes.Title != nil {
			chapter.Title = strings.TrimSpace(*item.Attributes.Title)
		}
		if item.Attributes.Chapter != nil {
			chapter.Number = strings.TrimSpace(*item.Attributes.Chapter)
		}
		if published, err := time.Parse(time.RFC3339, item.Attributes.PublishAt); err == nil {
			published = published.UTC()
			chapter.ReleaseDate = &published
		}
		feed.Chapters = append(feed.Chapters, chapter)
	}

	return feed, nil
}

func (c *Connector) get(ctx context.Context, endpoint string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		res.Body.Close()
		return nil, fmt.Errorf("mangadex returned status %d", res.StatusCode)
	}
	return res, nil
}

func (c *Connector) getJSON(ctx context.Context, endpoint string, target any) error {
	res, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("decode mangadex response: %w", err)
	}
	return nil
}

func pickBestTitle(titleMap map[string]string) string {
	if titleMap == nil {
		return ""
	}
	for _, key := range []string{"en", "ja-ro", "ja", "pt-br", "es"} {
		if value := strings.TrimSpace(titleMap[key]); value != "" {
			return value
		}
	}
	for _, value := range titleMap {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func groupName(relationships []relationship) string {
	for _, rel := range relationships {
		if rel.Type == "scanlation_group" && strings.TrimSpace(rel.Attributes.Name) != "" {
			return strings.TrimSpace(rel.Attributes.Name)
		}
	}
	return ""
}

func seriesInfo(manga mangaResponse) *connectors.SeriesInfo {
	info := &connectors.SeriesInfo{
		Status:      manga.Data.Attributes.Status,
		Description: strings.TrimSpace(manga.Data.Attributes.Description["en"]),
	}
	for _, rel := range manga.Data.Relationships {
		name := strings.TrimSpace(rel.Attributes.Name)
		if name == "" {
			continue
		}
		switch rel.Type {
		case "author":
			info.Authors = append(info.Authors, name)
		case "artist":
			info.Artists = append(info.Artists, name)
		}
	}
	return info
}

type relationship struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Name string `json:"name"`
	} `json:"attributes"`
}

type mangaResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Title       map[string]string   `json:"title"`
			AltTitles   []map[string]string `json:"altTitles"`
			Description map[string]string   `json:"description"`
			Status      string              `json:"status"`
		} `json:"attributes"`
		Relationships []relationship `json:"relationships"`
	} `json:"data"`
}

type feedResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Title       *string `json:"title"`
			Chapter     *string `json:"chapter"`
			PublishAt   string  `json:"publishAt"`
			ExternalURL *string `json:"externalUrl"`
		} `json:"attributes"`
		Relationships []relationship `json:"relationships"`
	} `json:"data"`
}
