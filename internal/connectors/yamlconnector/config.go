package yamlconnector

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
)

// Config declares a whole-feed JSON source: one endpoint listing the latest
// chapters of every series on the site.
type Config struct {
	Key           string        `yaml:"key"`
	Name          string        `yaml:"name"`
	Enabled       *bool         `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	AllowedHosts  []string      `yaml:"allowed_hosts"`
	HealthPath    string        `yaml:"health_path"`
	CheckInterval time.Duration `yaml:"check_interval"`
	DedupWindow   int           `yaml:"dedup_window"`
	Feed          struct {
		Path       string `yaml:"path"`
		SinceParam string `yaml:"since_param"`
	} `yaml:"feed"`
	Response struct {
		ItemsPath        string `yaml:"items_path"`
		IDField          string `yaml:"id_field"`
		TitleField       string `yaml:"title_field"`
		NumberField      string `yaml:"number_field"`
		DateField        string `yaml:"date_field"`
		GroupField       string `yaml:"group_field"`
		URLField         string `yaml:"url_field"`
		SeriesIDField    string `yaml:"series_id_field"`
		SeriesTitleField string `yaml:"series_title_field"`
	} `yaml:"response"`
	ChapterPatterns []chapterid.GrammarConfig `yaml:"chapter_patterns"`
}

func (c *Config) normalizeAndValidate() error {
	c.Key = strings.TrimSpace(c.Key)
	c.Name = strings.TrimSpace(c.Name)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")

	if c.Key == "" {
		return fmt.Errorf("key is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if strings.TrimSpace(c.Feed.Path) == "" {
		return fmt.Errorf("feed.path is required")
	}

	if strings.TrimSpace(c.HealthPath) == "" {
		c.HealthPath = "/health"
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 400
	}

	if strings.TrimSpace(c.Response.ItemsPath) == "" {
		c.Response.ItemsPath = "items"
	}
	if strings.TrimSpace(c.Response.IDField) == "" {
		c.Response.IDField = "id"
	}
	if strings.TrimSpace(c.Response.TitleField) == "" {
		c.Response.TitleField = "title"
	}
	if strings.TrimSpace(c.Response.DateField) == "" {
		c.Response.DateField = "published"
	}
	if strings.TrimSpace(c.Response.URLField) == "" {
		c.Response.URLField = "url"
	}
	if strings.TrimSpace(c.Response.SeriesIDField) == "" {
		c.Response.SeriesIDField = "series.id"
	}
	if strings.TrimSpace(c.Response.SeriesTitleField) == "" {
		c.Response.SeriesTitleField = "series.title"
	}

	if len(c.AllowedHosts) == 0 {
		c.AllowedHosts = []string{}
	}

	return nil
}

func (c *Config) isEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}
