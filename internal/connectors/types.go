package connectors

import (
	"context"
	"time"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
)

const (
	KindNative = "native"
	KindYAML   = "yaml"
)

// RawChapter is one chapter entry as a source publishes it. Title is fed
// to the chapter grammars; Number is the source's numeric attribute, when
// it has one.
type RawChapter struct {
	Identifier  string     `json:"identifier"`
	Title       string     `json:"title"`
	Number      string     `json:"number,omitempty"`
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`
	Group       string     `json:"group,omitempty"`
	URL         string     `json:"url,omitempty"`

	// Set by whole-feed sources, where one feed covers many series.
	TitleID    string `json:"titleId,omitempty"`
	MangaTitle string `json:"mangaTitle,omitempty"`
}

// SeriesInfo is optional metadata about a series.
type SeriesInfo struct {
	Cover       string   `json:"cover,omitempty"`
	Status      string   `json:"status,omitempty"`
	Description string   `json:"description,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Artists     []string `json:"artists,omitempty"`
}

// Feed is a successful scrape. An empty feed means nothing was published.
type Feed struct {
	MangaTitle string       `json:"mangaTitle,omitempty"`
	AltTitles  []string     `json:"altTitles,omitempty"`
	Info       *SeriesInfo  `json:"info,omitempty"`
	Chapters   []RawChapter `json:"chapters"`

	// LastID is the newest entry id of a whole feed.
	LastID string `json:"lastId,omitempty"`
}

type SeriesRequest struct {
	TitleID string
	FeedURL string
}

type ServiceRequest struct {
	FeedURL    string
	LastUpdate *time.Time
	TitleID    string
}

type Connector interface {
	Key() string
	Name() string
	Kind() string
	HealthCheck(ctx context.Context) error
}

// SeriesScraper scrapes one series at a time. A non-nil error means the
// fetch failed and the source is backed off.
type SeriesScraper interface {
	Connector
	ScrapeSeries(ctx context.Context, req SeriesRequest) (*Feed, error)
}

// ServiceScraper scrapes a feed that covers every series of the source.
type ServiceScraper interface {
	Connector
	ScrapeService(ctx context.Context, req ServiceRequest) (*Feed, error)
}

// GrammarProvider exposes the chapter title grammars of a source. Sources
// without one are parsed with the universal grammar only.
type GrammarProvider interface {
	Grammars() []chapterid.Grammar
}
