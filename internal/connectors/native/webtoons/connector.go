package webtoons

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/connectors"
)

type Connector struct {
	baseURL    string
	locale     string
	httpClient *http.Client
}

func NewConnector() *Connector {
	return NewConnectorWithOptions("https://www.webtoons.com", nil)
}

func NewConnectorWithOptions(baseURL string, client *http.Client) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &Connector{baseURL: strings.TrimRight(baseURL, "/"), locale: "en", httpClient: client}
}

func (c *Connector) Key() string {
	return "webtoons"
}

func (c *Connector) Name() string {
	return "WEBTOON"
}

func (c *Connector) Kind() string {
	return connectors.KindNative
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+c.locale, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request home: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", res.StatusCode)
	}
	return nil
}

// ScrapeSeries reads the RSS feed of a title. The episode_no of each link
// is passed on as the chapter number.
func (c *Connector) ScrapeSeries(ctx context.Context, req connectors.SeriesRequest) (*connectors.Feed, error) {
	titleNo := strings.TrimSpace(req.TitleID)
	if _, err := strconv.Atoi(titleNo); err != nil {
		return nil, fmt.Errorf("invalid webtoons title number %q", req.TitleID)
	}

	feedURL := strings.TrimSpace(req.FeedURL)
	if feedURL == "" {
		feedURL = c.baseURL + "/" + c.locale + "/rss?title_no=" + url.QueryEscape(titleNo)
	}

	channel, err := c.fetchRSS(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	feed := &connectors.Feed{
		MangaTitle: strings.TrimSpace(html.UnescapeString(channel.Title)),
		Info: &connectors.SeriesInfo{
			Cover:       strings.TrimSpace(channel.Image.URL),
			Description: strings.TrimSpace(html.UnescapeString(channel.Description)),
		},
		Chapters: make([]connectors.RawChapter, 0, len(channel.Items)),
	}
	if author := strings.TrimSpace(channel.Author); author != "" {
		feed.Info.Authors = []string{author}
	}

	for _, item := range channel.Items {
		episodeNo := episodeNumber(item.Link)
		if episodeNo == "" {
			continue
		}
		chapter := connectors.RawChapter{
			Identifier: titleNo + "-" + episodeNo,
			Title:      strings.TrimSpace(html.UnescapeString(item.Title)),
			Number:     episodeNo,
			URL:        strings.TrimSpace(item.Link),
		}
		if published, err := parsePubDate(item.PubDate); err == nil {
			chapter.ReleaseDate = &published
		}
		feed.Chapters = append(feed.Chapters, chapter)
	}

	return feed, nil
}

func (c *Connector) fetchRSS(ctx context.Context, feedURL string) (*rssChannel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept", "application/rss+xml,application/xml;q=0.9,*/*;q=0.8")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request rss: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d", res.StatusCode)
	}

	var payload rssDocument
	if err := xml.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}
	return &payload.Channel, nil
}

func episodeNumber(link string) string {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	episode := strings.TrimSpace(parsed.Query().Get("episode_no"))
	if _, err := strconv.Atoi(episode); err != nil {
		return ""
	}
	return episode
}

func parsePubDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 MST", "Mon, 2 Jan 2006 15:04:05 -0700"} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised pubDate %q", raw)
}

type rssDocument struct {
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Author      string `xml:"author"`
	Image       struct {
		URL string `xml:"url"`
	} `xml:"image"`
	Items []struct {
		Title   string `xml:"title"`
		Link    string `xml:"link"`
		PubDate string `xml:"pubDate"`
	} `xml:"item"`
}
