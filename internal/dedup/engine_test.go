package dedup_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/gabriel/chapter-tracker/internal/database/dbtest"
	"github.com/gabriel/chapter-tracker/internal/dedup"
	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/stretchr/testify/require"
)

func setupManga(t *testing.T, db *sql.DB) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	serviceID := dbtest.ServiceID(t, db, "asuracomic")
	mangaRepo := repository.NewMangaRepository(db)
	mangaID, err := mangaRepo.Create(ctx, "Nano Machine")
	require.NoError(t, err)
	require.NoError(t, mangaRepo.AddService(ctx, models.MangaService{MangaID: mangaID, ServiceID: serviceID, TitleID: "nano-machine"}))
	return serviceID, mangaID
}

func batch(serviceID int64, mangaID int64, titles map[string]string) []models.Chapter {
	release := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	chapters := make([]models.Chapter, 0, len(titles))
	number := 1
	for _, identifier := range []string{"ch-1", "ch-2", "ch-3"} {
		title, ok := titles[identifier]
		if !ok {
			continue
		}
		chapters = append(chapters, models.Chapter{
			MangaID:           mangaID,
			ServiceID:         serviceID,
			Title:             title,
			ChapterNumber:     number,
			ReleaseDate:       release.Add(time.Duration(number) * time.Hour),
			ChapterIdentifier: identifier,
		})
		number++
	}
	return chapters
}

func TestSameBatchTwiceInsertsOnce(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	serviceID, mangaID := setupManga(t, db)
	engine := dedup.NewEngine(nil)

	chapters := batch(serviceID, mangaID, map[string]string{"ch-1": "Start", "ch-2": "Middle", "ch-3": "End"})

	first := engine.Split(ctx, db, serviceID, chapters, &mangaID, 400)
	require.Len(t, first.New, 3)
	stored, err := engine.Store(ctx, db, first)
	require.NoError(t, err)
	require.Len(t, stored.Inserted, 3)

	second := engine.Split(ctx, db, serviceID, chapters, &mangaID, 400)
	require.Empty(t, second.New)
	require.Empty(t, second.Updated)
	stored, err = engine.Store(ctx, db, second)
	require.NoError(t, err)
	require.Empty(t, stored.Inserted)
}

func TestStoreIgnoresConflictingIdentifiers(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	serviceID, mangaID := setupManga(t, db)
	engine := dedup.NewEngine(nil)

	chapters := batch(serviceID, mangaID, map[string]string{"ch-1": "Start"})
	stored, err := engine.Store(ctx, db, dedup.Result{New: chapters})
	require.NoError(t, err)
	require.Len(t, stored.Inserted, 1)

	stored, err = engine.Store(ctx, db, dedup.Result{New: chapters})
	require.NoError(t, err)
	require.Empty(t, stored.Inserted)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM chapters`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestEmptyTitleIsBackfilled(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	serviceID, mangaID := setupManga(t, db)
	engine := dedup.NewEngine(nil)

	_, err := engine.Store(ctx, db, dedup.Result{New: batch(serviceID, mangaID, map[string]string{"ch-1": "", "ch-2": "Known"})})
	require.NoError(t, err)

	result := engine.Split(ctx, db, serviceID, batch(serviceID, mangaID, map[string]string{"ch-1": "Revealed", "ch-2": "Renamed"}), nil, 400)
	require.Empty(t, result.New)
	require.Len(t, result.Updated, 1)
	require.Equal(t, "ch-1", result.Updated[0].ChapterIdentifier)

	stored, err := engine.Store(ctx, db, result)
	require.NoError(t, err)
	require.Len(t, stored.Backfilled, 1)

	var title string
	require.NoError(t, db.QueryRow(`SELECT title FROM chapters WHERE chapter_identifier = 'ch-1'`).Scan(&title))
	require.Equal(t, "Revealed", title)
	require.NoError(t, db.QueryRow(`SELECT title FROM chapters WHERE chapter_identifier = 'ch-2'`).Scan(&title))
	require.Equal(t, "Known", title)
}

func TestWindowLimitsHistory(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	serviceID, mangaID := setupManga(t, db)
	engine := dedup.NewEngine(nil)

	_, err := engine.Store(ctx, db, dedup.Result{New: batch(serviceID, mangaID, map[string]string{"ch-1": "a", "ch-2": "b", "ch-3": "c"})})
	require.NoError(t, err)

	// only ch-3 is inside a window of one, so ch-1 looks new again
	result := engine.Split(ctx, db, serviceID, batch(serviceID, mangaID, map[string]string{"ch-1": "a", "ch-3": "c"}), nil, 1)
	require.Len(t, result.New, 1)
	require.Equal(t, "ch-1", result.New[0].ChapterIdentifier)
}

func TestLookupFailureTreatsAllAsNew(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	serviceID, mangaID := setupManga(t, db)
	chapters := batch(serviceID, mangaID, map[string]string{"ch-1": "a", "ch-2": "b"})

	closed := dbtest.Open(t)
	require.NoError(t, closed.Close())

	result := dedup.NewEngine(nil).Split(ctx, closed, serviceID, chapters, nil, 400)
	require.Len(t, result.New, 2)
	require.Empty(t, result.Updated)
}

func TestDuplicateIdentifiersInBatchCollapse(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	serviceID, mangaID := setupManga(t, db)

	chapters := batch(serviceID, mangaID, map[string]string{"ch-1": "a"})
	chapters = append(chapters, chapters[0])

	got := dedup.NewEngine(nil).OnlyLatestEntries(ctx, db, serviceID, chapters, nil, 400)
	require.Len(t, got, 1)
}
