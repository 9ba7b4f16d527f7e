package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ServiceSeed describes a source row. A non-empty FeedURL makes it a
// whole-feed source.
type ServiceSeed struct {
	Key           string
	Name          string
	URL           string
	FeedURL       string
	CheckInterval time.Duration
	DedupWindow   int
}

var defaultServices = []ServiceSeed{
	{Key: "mangadex", Name: "MangaDex", URL: "https://mangadex.org", CheckInterval: 2 * time.Hour, DedupWindow: 400},
	{Key: "mangaplus", Name: "MangaPlus", URL: "https://mangaplus.shueisha.co.jp", CheckInterval: 3 * time.Hour, DedupWindow: 200},
	{Key: "asuracomic", Name: "AsuraComic", URL: "https://asuracomic.net", CheckInterval: 2 * time.Hour, DedupWindow: 200},
	{Key: "webtoons", Name: "Webtoons", URL: "https://www.webtoons.com", CheckInterval: 6 * time.Hour, DedupWindow: 200},
	{Key: "mgeko", Name: "Mgeko", URL: "https://www.mgeko.cc", CheckInterval: 4 * time.Hour, DedupWindow: 200},
	{Key: "flamecomics", Name: "FlameComics", URL: "https://flamecomics.xyz", CheckInterval: 2 * time.Hour, DedupWindow: 200},
	{Key: "mangafire", Name: "MangaFire", URL: "https://mangafire.to", CheckInterval: 4 * time.Hour, DedupWindow: 200},
}

func SeedDefaults(db *sql.DB) error {
	return SeedServices(db, defaultServices)
}

// SeedServices inserts missing sources with their config. Existing rows
// are left as they are.
func SeedServices(db *sql.DB, seeds []ServiceSeed) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}

	for _, seed := range seeds {
		key := strings.TrimSpace(seed.Key)
		if key == "" {
			continue
		}

		var serviceID int64
		err := tx.QueryRow(`
			INSERT INTO services (key, name, url)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET key = excluded.key
			RETURNING service_id
		`, key, seed.Name, seed.URL).Scan(&serviceID)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("seed service %s: %w", key, err)
		}

		interval := seed.CheckInterval
		if interval <= 0 {
			interval = time.Hour
		}
		window := seed.DedupWindow
		if window <= 0 {
			window = 400
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO service_config (service_id, check_interval_seconds, dedup_window)
			VALUES (?, ?, ?)
		`, serviceID, int64(interval/time.Second), window); err != nil {
			tx.Rollback()
			return fmt.Errorf("seed service config %s: %w", key, err)
		}

		if feedURL := strings.TrimSpace(seed.FeedURL); feedURL != "" {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO service_whole (service_id, feed_url) VALUES (?, ?)
			`, serviceID, feedURL); err != nil {
				tx.Rollback()
				return fmt.Errorf("seed whole-feed state %s: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}

	return nil
}
