package mangaplus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	"golang.org/x/time/rate"
)

type Connector struct {
	apiBaseURL string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu         sync.Mutex
	titleNames map[string]string
}

func NewConnector() *Connector {
	return NewConnectorWithOptions("https://jumpg-webapi.tokyo-cdn.com/api", nil, nil)
}

func NewConnectorWithOptions(apiBaseURL string, client *http.Client, limiter *rate.Limiter) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &Connector{
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		httpClient: client,
		limiter:    limiter,
		titleNames: map[string]string{},
	}
}

func (c *Connector) Key() string {
	return "mangaplus"
}

func (c *Connector) Name() string {
	return "MangaPlus"
}

func (c *Connector) Kind() string {
	return connectors.KindNative
}

// Grammars covers "#118(2) One for All" and "#Final Chapter(1) All Out!!".
func (c *Connector) Grammars() []chapterid.Grammar {
	return []chapterid.Grammar{chapterid.HashIndexGrammar}
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	if _, err := c.fetchAllTitles(ctx); err != nil {
		return fmt.Errorf("fetch titles: %w", err)
	}
	return nil
}

func (c *Connector) ScrapeSeries(ctx context.Context, req connectors.SeriesRequest) (*connectors.Feed, error) {
	titleID := strings.TrimSpace(req.TitleID)
	if _, err := strconv.Atoi(titleID); err != nil {
		return nil, fmt.Errorf("invalid mangaplus title id %q", titleID)
	}

	var payload titleDetailResponse
	if err := c.getJSON(ctx, c.apiBaseURL+"/title_detailV3?format=json&title_id="+titleID, &payload); err != nil {
		return nil, fmt.Errorf("fetch title detail: %w", err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("mangaplus error: %s", payload.Error.Message())
	}

	view := payload.Success.TitleDetailView
	title := strings.TrimSpace(view.Title.Name)
	if title == "" {
		name, err := c.titleName(ctx, titleID)
		if err != nil {
			return nil, err
		}
		title = name
	}

	feed := &connectors.Feed{
		MangaTitle: title,
		Info: &connectors.SeriesInfo{
			Cover:       view.Title.PortraitImageURL,
			Description: strings.TrimSpace(view.Overview),
		},
	}
	if author := strings.TrimSpace(view.Title.Author); author != "" {
		for _, name := range strings.Split(author, "/") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				feed.Info.Authors = append(feed.Info.Authors, trimmed)
			}
		}
	}

	seen := make(map[int]struct{})
	for _, chapter := range view.chapters() {
		if chapter.ChapterID == 0 {
			continue
		}
		if _, ok := seen[chapter.ChapterID]; ok {
			continue
		}
		seen[chapter.ChapterID] = struct{}{}

		raw := connectors.RawChapter{
			Identifier: strconv.Itoa(chapter.ChapterID),
			Title:      strings.TrimSpace(chapter.Name + " " + chapter.SubTitle),
			URL:        "https://mangaplus.shueisha.co.jp/viewer/" + strconv.Itoa(chapter.ChapterID),
		}
		if chapter.StartTimeStamp > 0 {
			released := time.Unix(chapter.StartTimeStamp, 0).UTC()
			raw.ReleaseDate = &released
		}
		feed.Chapters = append(feed.Chapters, raw)
	}

	return feed, nil
}

// titleName looks a title up in the title list, which is fetched once per
// connector.
func (c *Connector) titleName(ctx context.Context, titleID string) (string, error) {
	c.mu.Lock()
	name, ok := c.titleNames[titleID]
	cached := len(c.titleNames) > 0
	c.mu.Unlock()
	if ok || cached {
		return name, nil
	}

	titles, err := c.fetchAllTitles(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, title := range titles {
		c.titleNames[title.TitleID] = title.Name
	}
	return c.titleNames[titleID], nil
}

type mangaPlusTitle struct {
	TitleID string
	Name    string
}

func (c *Connector) fetchAllTitles(ctx context.Context) ([]mangaPlusTitle, error) {
	endpoints := []string{
		c.apiBaseURL + "/title_list/allV2?format=json",
		c.apiBaseURL + "/title_list/all?format=json",
	}

	var lastErr error
	for _, endpoint := range endpoints {
		var payload mangaPlusTitleListResponse
		if err := c.getJSON(ctx, endpoint, &payload); err != nil {
			lastErr = err
			continue
		}

		items := make([]mangaPlusTitle, 0)
		for _, group := range payload.Success.AllTitlesViewV2.AllTitlesGroup {
			for _, item := range group.Titles {
				items = appendTitle(items, item.TitleID, item.Name)
			}
		}
		for _, item := range payload.Success.AllTitlesView.Titles {
			items = appendTitle(items, item.TitleID, item.Name)
		}
		if len(items) > 0 {
			return items, nil
		}
		lastErr = fmt.Errorf("empty title list")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("unable to fetch mangaplus titles")
	}
	return nil, lastErr
}

func appendTitle(items []mangaPlusTitle, id int, name string) []mangaPlusTitle {
	if id == 0 || strings.TrimSpace(name) == "" {
		return items
	}
	return append(items, mangaPlusTitle{TitleID: strconv.Itoa(id), Name: strings.TrimSpace(name)})
}

func (c *Connector) getJSON(ctx context.Context, endpoint string, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("decode mangaplus response: %w", err)
	}
	return nil
}

type chapterItem struct {
	TitleID        int    `json:"titleId"`
	ChapterID      int    `json:"chapterId"`
	Name           string `json:"name"`
	SubTitle       string `json:"subTitle"`
	StartTimeStamp int64  `json:"startTimeStamp"`
}

type titleDetailView struct {
	Title struct {
		TitleID          int    `json:"titleId"`
		Name             string `json:"name"`
		Author           string `json:"author"`
		PortraitImageURL string `json:"portraitImageUrl"`
	} `json:"title"`
	Overview         string        `json:"overview"`
	FirstChapterList []chapterItem `json:"firstChapterList"`
	LastChapterList  []chapterItem `json:"lastChapterList"`
	ChapterListGroup []struct {
		FirstChapterList []chapterItem `json:"firstChapterList"`
		MidChapterList   []chapterItem `json:"midChapterList"`
		LastChapterList  []chapterItem `json:"lastChapterList"`
	} `json:"chapterListGroup"`
}

// chapters returns every listed chapter, oldest list first.
func (v titleDetailView) chapters() []chapterItem {
	items := make([]chapterItem, 0, len(v.FirstChapterList)+len(v.LastChapterList))
	for _, group := range v.ChapterListGroup {
		items = append(items, group.FirstChapterList...)
		items = append(items, group.MidChapterList...)
		items = append(items, group.LastChapterList...)
	}
	items = append(items, v.FirstChapterList...)
	items = append(items, v.LastChapterList...)
	return items
}

type titleDetailResponse struct {
	Success struct {
		TitleDetailView titleDetailView `json:"titleDetailView"`
	} `json:"success"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Popups []struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	} `json:"popups"`
}

func (e apiError) Message() string {
	for _, popup := range e.Popups {
		if popup.Body != "" {
			return popup.Subject + ": " + popup.Body
		}
	}
	return "unknown error"
}

type mangaPlusTitleListResponse struct {
	Success struct {
		AllTitlesView struct {
			Titles []struct {
				TitleID int    `json:"titleId"`
				Name    string `json:"name"`
			} `json:"titles"`
		} `json:"allTitlesView"`
		AllTitlesViewV2 struct {
			AllTitlesGroup []struct {
				Titles []struct {
					TitleID int    `json:"titleId"`
					Name    string `json:"name"`
				} `json:"titles"`
			} `json:"AllTitlesGroup"`
		} `json:"allTitlesViewV2"`
	} `json:"success"`
}
