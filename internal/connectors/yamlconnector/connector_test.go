package yamlconnector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
	"github.com/gabriel/chapter-tracker/internal/connectors"
)

func newFeedConfig(baseURL string) Config {
	cfg := Config{
		Key:        "example",
		Name:       "Example",
		BaseURL:    baseURL,
		HealthPath: "/health",
	}
	cfg.Feed.Path = "/latest"
	cfg.Feed.SinceParam = "since"
	cfg.Response.ItemsPath = "data.items"
	cfg.Response.NumberField = "chapter"
	cfg.Response.GroupField = "group.name"
	cfg.ChapterPatterns = []chapterid.GrammarConfig{{
		Name:    "episode",
		Pattern: `(?i)^ep(?:isode)?\s*(?P<number>\d+)(?:\s*-\s*(?P<title>.*))?$`,
	}}
	return cfg
}

func TestYAMLConnectorScrapeServiceAndHealth(t *testing.T) {
	var since string
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		since = r.URL.Query().Get("since")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"items": []map[string]any{
					{
						"id":        "c-102",
						"title":     "Episode 12 - Night Market",
						"published": "2024-03-02T12:00:00Z",
						"url":       "https://example.com/c-102",
						"group":     map[string]any{"name": "Example Scans"},
						"series":    map[string]any{"id": 7, "title": "Moon Bridge"},
					},
					{
						"id":        "c-101",
						"chapter":   "11.5",
						"published": 1709208000,
						"series":    map[string]any{"id": "9", "title": "Iron Lotus"},
					},
					{
						"id":     "broken",
						"title":  "Episode 1",
						"series": map[string]any{"title": "No Id"},
					},
				},
			},
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	connector, err := NewConnector(newFeedConfig(server.URL), &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	var _ connectors.ServiceScraper = connector

	if err := connector.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health failed: %v", err)
	}

	lastUpdate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	feed, err := connector.ScrapeService(context.Background(), connectors.ServiceRequest{LastUpdate: &lastUpdate})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if since != "2024-03-01T00:00:00Z" {
		t.Fatalf("expected since parameter, got %q", since)
	}
	if len(feed.Chapters) != 2 {
		t.Fatalf("expected entries without series id to be skipped, got %d", len(feed.Chapters))
	}
	if feed.LastID != "c-102" {
		t.Fatalf("unexpected last id %q", feed.LastID)
	}

	first := feed.Chapters[0]
	if first.TitleID != "7" || first.MangaTitle != "Moon Bridge" || first.Group != "Example Scans" {
		t.Fatalf("unexpected first chapter %+v", first)
	}
	if first.ReleaseDate == nil || !first.ReleaseDate.Equal(time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected release date %v", first.ReleaseDate)
	}

	second := feed.Chapters[1]
	if second.Number != "11.5" || second.ReleaseDate == nil {
		t.Fatalf("unexpected second chapter %+v", second)
	}

	parser := chapterid.NewParser(connector.Grammars(), nil)
	fragment, err := parser.Parse(first.Title)
	if err != nil {
		t.Fatalf("parse with chapter pattern: %v", err)
	}
	if *fragment.Number != 12 || *fragment.Title != "Night Market" {
		t.Fatalf("unexpected fragment %+v", fragment)
	}
}

func TestYAMLConnectorRejectsForeignFeedHost(t *testing.T) {
	cfg := newFeedConfig("http://localhost:9999")
	cfg.AllowedHosts = []string{"example.com"}

	connector, err := NewConnector(cfg, nil)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	_, err = connector.ScrapeService(context.Background(), connectors.ServiceRequest{FeedURL: "https://other.org/latest"})
	if err == nil {
		t.Fatalf("expected host check to fail")
	}
}

func TestYAMLConnectorValidation(t *testing.T) {
	cfg := newFeedConfig("http://localhost:9999")
	cfg.Feed.Path = ""
	if _, err := NewConnector(cfg, nil); err == nil {
		t.Fatalf("expected missing feed path to fail")
	}
}
