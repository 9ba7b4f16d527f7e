package models

import "time"

type Service struct {
	ID                  int64      `json:"id"`
	Key                 string     `json:"key"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	ChapterURLFormat    *string    `json:"chapterUrlFormat,omitempty"`
	MangaURLFormat      *string    `json:"mangaUrlFormat,omitempty"`
	Disabled            bool       `json:"disabled"`
	LastCheck           *time.Time `json:"lastCheck,omitempty"`
	DisabledUntil       *time.Time `json:"disabledUntil,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastID              *string    `json:"lastId,omitempty"`
}

// ServiceWhole is the scheduling state of a source that publishes one feed
// for all of its titles.
type ServiceWhole struct {
	ServiceID  int64      `json:"serviceId"`
	FeedURL    string     `json:"feedUrl"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
	NextUpdate *time.Time `json:"nextUpdate,omitempty"`
}

type ServiceConfig struct {
	ServiceID               int64         `json:"serviceId"`
	CheckInterval           time.Duration `json:"checkInterval"`
	DedupWindow             int           `json:"dedupWindow"`
	ScheduledRunsEnabled    bool          `json:"scheduledRunsEnabled"`
	ScheduledRunLimit       int           `json:"scheduledRunLimit"`
	ScheduledRunMinInterval time.Duration `json:"scheduledRunMinInterval"`
}

type Manga struct {
	ID               int64          `json:"id"`
	Title            string         `json:"title"`
	ReleaseInterval  *time.Duration `json:"releaseInterval,omitempty"`
	LatestRelease    *time.Time     `json:"latestRelease,omitempty"`
	EstimatedRelease *time.Time     `json:"estimatedRelease,omitempty"`
	LatestChapter    *int           `json:"latestChapter,omitempty"`
	Views            int            `json:"views"`
}

type MangaService struct {
	MangaID       int64      `json:"mangaId"`
	ServiceID     int64      `json:"serviceId"`
	TitleID       string     `json:"titleId"`
	Disabled      bool       `json:"disabled"`
	LastCheck     *time.Time `json:"lastCheck,omitempty"`
	NextUpdate    *time.Time `json:"nextUpdate,omitempty"`
	LatestChapter *int       `json:"latestChapter,omitempty"`
	LatestDecimal *int       `json:"latestDecimal,omitempty"`
	FeedURL       *string    `json:"feedUrl,omitempty"`
}

// Chapter is identified by (ServiceID, ChapterIdentifier). An empty Title
// means the chapter was stored before its title was known.
type Chapter struct {
	ID                int64     `json:"id"`
	MangaID           int64     `json:"mangaId"`
	ServiceID         int64     `json:"serviceId"`
	Title             string    `json:"title"`
	ChapterNumber     int       `json:"chapterNumber"`
	ChapterDecimal    *int      `json:"chapterDecimal,omitempty"`
	ReleaseDate       time.Time `json:"releaseDate"`
	ChapterIdentifier string    `json:"chapterIdentifier"`
	Group             *string   `json:"group,omitempty"`
	GroupID           *int64    `json:"groupId,omitempty"`
}

type ChapterKey struct {
	ServiceID  int64
	Identifier string
}

func (c Chapter) Key() ChapterKey {
	return ChapterKey{ServiceID: c.ServiceID, Identifier: c.ChapterIdentifier}
}

func (c Chapter) Equal(other Chapter) bool {
	return c.Key() == other.Key()
}

type ScheduledRun struct {
	MangaID   int64     `json:"mangaId"`
	ServiceID int64     `json:"serviceId"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	TitleID   string    `json:"titleId,omitempty"`
}

type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type MangaInfo struct {
	MangaID     int64   `json:"mangaId"`
	Cover       *string `json:"cover,omitempty"`
	Status      *string `json:"status,omitempty"`
	MAL         *string `json:"mal,omitempty"`
	Anilist     *string `json:"anilist,omitempty"`
	MU          *string `json:"mu,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ReleasePoint is the earliest release of one integer chapter number.
type ReleasePoint struct {
	ChapterNumber int       `json:"chapterNumber"`
	ReleaseDate   time.Time `json:"releaseDate"`
}
