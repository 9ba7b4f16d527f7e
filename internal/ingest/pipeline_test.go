package ingest_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/database"
	"github.com/gabriel/chapter-tracker/internal/database/dbtest"
	"github.com/gabriel/chapter-tracker/internal/ingest"
	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := day0.AddDate(0, 0, days)
	return &t
}

func setup(t *testing.T, key string, title string, titleID string) (*sql.DB, models.Service, models.MangaService) {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t)

	service, err := repository.NewServiceRepository(db).GetByKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, service)

	mangaRepo := repository.NewMangaRepository(db)
	mangaID, err := mangaRepo.Create(ctx, title)
	require.NoError(t, err)
	ms := models.MangaService{MangaID: mangaID, ServiceID: service.ID, TitleID: titleID}
	require.NoError(t, mangaRepo.AddService(ctx, ms))
	return db, *service, ms
}

func chapterRow(t *testing.T, db *sql.DB, identifier string) (int, *int, string) {
	t.Helper()
	var number int
	var decimal sql.NullInt64
	var title string
	require.NoError(t, db.QueryRow(`
		SELECT chapter_number, chapter_decimal, COALESCE(title, '')
		FROM chapters WHERE chapter_identifier = ?
	`, identifier).Scan(&number, &decimal, &title))
	if !decimal.Valid {
		return number, nil, title
	}
	d := int(decimal.Int64)
	return number, &d, title
}

func TestIngestSeriesStoresOnceAndBackfillsTitles(t *testing.T) {
	ctx := context.Background()
	db, service, ms := setup(t, "mangadex", "Solo Leveling", "md-1")
	pipeline := ingest.NewPipeline(db, nil)

	feed := &connectors.Feed{
		MangaTitle: "Solo Leveling",
		AltTitles:  []string{"Na Honjaman Level Up"},
		Info:       &connectors.SeriesInfo{Cover: "https://img.example/cover.jpg", Authors: []string{"Chugong"}},
		Chapters: []connectors.RawChapter{
			{Identifier: "c3", Title: "Chapter 3: Storm", Number: "3", ReleaseDate: at(14), Group: "Reaper Scans"},
			{Identifier: "c2", Title: "", Number: "2", ReleaseDate: at(7)},
			{Identifier: "c1", Title: "Chapter 1", Number: "1", ReleaseDate: at(0)},
		},
	}

	report, err := pipeline.IngestSeries(ctx, service, ms, feed, nil)
	require.NoError(t, err)
	require.Len(t, report.Inserted, 3)
	require.Equal(t, []int64{ms.MangaID}, report.MangaIDs)

	_, _, title := chapterRow(t, db, "c2")
	require.Empty(t, title)
	_, _, title = chapterRow(t, db, "c3")
	require.Equal(t, "Storm", title)

	manga, err := repository.NewMangaRepository(db).GetByID(ctx, ms.MangaID)
	require.NoError(t, err)
	require.NotNil(t, manga.LatestChapter)
	require.Equal(t, 3, *manga.LatestChapter)
	require.True(t, manga.LatestRelease.Equal(*at(14)))

	stored, err := repository.NewMangaRepository(db).GetService(ctx, ms.MangaID, service.ID)
	require.NoError(t, err)
	require.Equal(t, 3, *stored.LatestChapter)

	aliases, err := repository.NewMangaRepository(db).ListAliases(ctx, ms.MangaID)
	require.NoError(t, err)
	require.Equal(t, []string{"Na Honjaman Level Up"}, aliases)

	info, err := repository.NewMangaRepository(db).GetInfo(ctx, ms.MangaID)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "https://img.example/cover.jpg", *info.Cover)

	feed.Chapters[1].Title = "Chapter 2 - Calm"
	report, err = pipeline.IngestSeries(ctx, service, ms, feed, nil)
	require.NoError(t, err)
	require.Empty(t, report.Inserted)
	require.Len(t, report.Backfilled, 1)
	require.Empty(t, report.MangaIDs)

	_, _, title = chapterRow(t, db, "c2")
	require.Equal(t, "Calm", title)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM chapters`).Scan(&count))
	require.Equal(t, 3, count)
}

func TestIngestSeriesSequencesNumberlessChapters(t *testing.T) {
	ctx := context.Background()
	db, service, ms := setup(t, "mangaplus", "One Piece", "100020")
	pipeline := ingest.NewPipeline(db, nil)

	feed := &connectors.Feed{Chapters: []connectors.RawChapter{
		{Identifier: "bad"},
		{Identifier: "mp-3", Title: "#Final Chapter(2) The End", ReleaseDate: at(14)},
		{Identifier: "mp-2", Title: "#Final Chapter(1) Beginning of the End", ReleaseDate: at(7)},
		{Identifier: "mp-1", Title: "#1 Romance Dawn", ReleaseDate: at(0)},
	}}

	report, err := pipeline.IngestSeries(ctx, service, ms, feed, []chapterid.Grammar{chapterid.HashIndexGrammar})
	require.NoError(t, err)
	require.Len(t, report.Inserted, 3)
	require.Equal(t, 1, report.Skipped)

	number, decimal, _ := chapterRow(t, db, "mp-1")
	require.Equal(t, 1, number)
	require.Nil(t, decimal)

	number, decimal, title := chapterRow(t, db, "mp-2")
	require.Equal(t, 2, number)
	require.Equal(t, 1, *decimal)
	require.Equal(t, "Beginning of the End (1)", title)

	number, decimal, _ = chapterRow(t, db, "mp-3")
	require.Equal(t, 2, number)
	require.Equal(t, 2, *decimal)

	stored, err := repository.NewMangaRepository(db).GetService(ctx, ms.MangaID, service.ID)
	require.NoError(t, err)
	require.Equal(t, 2, *stored.LatestChapter)
	require.Equal(t, 2, *stored.LatestDecimal)
}

func TestIngestSeriesReplayedFeedKeepsNumberlessSequence(t *testing.T) {
	ctx := context.Background()
	db, service, ms := setup(t, "webtoons", "Sound Garden", "wt-7")
	pipeline := ingest.NewPipeline(db, nil)
	grammars := []chapterid.Grammar{chapterid.TrackGrammar}

	chapters := []connectors.RawChapter{
		{Identifier: "tr-2", Title: "TRACK 2 INTERLUDE", ReleaseDate: at(7)},
		{Identifier: "tr-1", Title: "TRACK 1 OPENING", ReleaseDate: at(0)},
	}
	_, err := pipeline.IngestSeries(ctx, service, ms, &connectors.Feed{Chapters: chapters}, grammars)
	require.NoError(t, err)

	number, _, _ := chapterRow(t, db, "tr-1")
	require.Equal(t, 1, number)
	number, _, _ = chapterRow(t, db, "tr-2")
	require.Equal(t, 2, number)

	stored, err := repository.NewMangaRepository(db).GetService(ctx, ms.MangaID, service.ID)
	require.NoError(t, err)
	chapters = append([]connectors.RawChapter{{Identifier: "tr-3", Title: "TRACK 3 FINALE", ReleaseDate: at(14)}}, chapters...)
	report, err := pipeline.IngestSeries(ctx, service, *stored, &connectors.Feed{Chapters: chapters}, grammars)
	require.NoError(t, err)
	require.Len(t, report.Inserted, 1)

	number, _, _ = chapterRow(t, db, "tr-3")
	require.Equal(t, 3, number)

	stored, err = repository.NewMangaRepository(db).GetService(ctx, ms.MangaID, service.ID)
	require.NoError(t, err)
	require.Equal(t, 3, *stored.LatestChapter)

	_, err = pipeline.IngestSeries(ctx, service, *stored, &connectors.Feed{Chapters: chapters}, grammars)
	require.NoError(t, err)
	stored, err = repository.NewMangaRepository(db).GetService(ctx, ms.MangaID, service.ID)
	require.NoError(t, err)
	require.Equal(t, 3, *stored.LatestChapter)
}

func TestIngestSeriesNewEntriesContinueFromStoredLatest(t *testing.T) {
	ctx := context.Background()
	db, service, ms := setup(t, "webtoons", "Sound Garden", "wt-8")
	pipeline := ingest.NewPipeline(db, nil)
	grammars := []chapterid.Grammar{chapterid.TrackGrammar}

	_, err := pipeline.IngestSeries(ctx, service, ms, &connectors.Feed{Chapters: []connectors.RawChapter{
		{Identifier: "tr-2", Title: "TRACK 2 INTERLUDE", ReleaseDate: at(7)},
		{Identifier: "tr-1", Title: "TRACK 1 OPENING", ReleaseDate: at(0)},
	}}, grammars)
	require.NoError(t, err)

	stored, err := repository.NewMangaRepository(db).GetService(ctx, ms.MangaID, service.ID)
	require.NoError(t, err)
	_, err = pipeline.IngestSeries(ctx, service, *stored, &connectors.Feed{Chapters: []connectors.RawChapter{
		{Identifier: "tr-3", Title: "TRACK 3 FINALE", ReleaseDate: at(14)},
	}}, grammars)
	require.NoError(t, err)

	number, _, _ := chapterRow(t, db, "tr-3")
	require.Equal(t, 3, number)
}

func TestIngestSeriesLatestChapterNeverDecreases(t *testing.T) {
	ctx := context.Background()
	db, service, ms := setup(t, "mangadex", "Blue Lock", "md-2")
	pipeline := ingest.NewPipeline(db, nil)

	_, err := pipeline.IngestSeries(ctx, service, ms, &connectors.Feed{Chapters: []connectors.RawChapter{
		{Identifier: "b10", Number: "10", ReleaseDate: at(10)},
	}}, nil)
	require.NoError(t, err)

	_, err = pipeline.IngestSeries(ctx, service, ms, &connectors.Feed{Chapters: []connectors.RawChapter{
		{Identifier: "b9", Number: "9", ReleaseDate: at(20)},
	}}, nil)
	require.NoError(t, err)

	manga, err := repository.NewMangaRepository(db).GetByID(ctx, ms.MangaID)
	require.NoError(t, err)
	require.Equal(t, 10, *manga.LatestChapter)
	require.True(t, manga.LatestRelease.Equal(*at(10)))
}

func TestIngestServiceResolvesTitles(t *testing.T) {
	ctx := context.Background()
	db, _, existing := setup(t, "mangadex", "Solo Leveling", "md-1")
	require.NoError(t, database.SeedServices(db, []database.ServiceSeed{{
		Key: "examplescans", Name: "Example Scans", URL: "https://example.com", FeedURL: "https://example.com/latest",
	}}))

	services := repository.NewServiceRepository(db)
	service, err := services.GetByKey(ctx, "examplescans")
	require.NoError(t, err)

	feed := &connectors.Feed{
		LastID: "e-3",
		Chapters: []connectors.RawChapter{
			{Identifier: "e-3", Title: "Chapter 201", TitleID: "7", MangaTitle: "SOLO LEVELING", ReleaseDate: at(2)},
			{Identifier: "e-2", Title: "Chapter 12", TitleID: "9", MangaTitle: "Iron Lotus", ReleaseDate: at(1)},
			{Identifier: "e-1", Title: "Chapter 200", TitleID: "7", MangaTitle: "SOLO LEVELING", ReleaseDate: at(0)},
			{Identifier: "e-0", Title: "Chapter 1", MangaTitle: "No Id"},
		},
	}

	pipeline := ingest.NewPipeline(db, nil)
	report, err := pipeline.IngestService(ctx, *service, feed, nil)
	require.NoError(t, err)
	require.Len(t, report.Inserted, 3)
	require.Len(t, report.Created, 1)
	require.Len(t, report.MangaIDs, 2)
	require.Contains(t, report.MangaIDs, existing.MangaID)
	require.Equal(t, 1, report.Skipped)

	linked, err := repository.NewMangaRepository(db).GetService(ctx, existing.MangaID, service.ID)
	require.NoError(t, err)
	require.NotNil(t, linked)
	require.Equal(t, "7", linked.TitleID)
	require.Equal(t, 201, *linked.LatestChapter)

	service, err = services.GetByKey(ctx, "examplescans")
	require.NoError(t, err)
	require.NotNil(t, service.LastID)
	require.Equal(t, "e-3", *service.LastID)

	report, err = pipeline.IngestService(ctx, *service, feed, nil)
	require.NoError(t, err)
	require.Empty(t, report.Inserted)
	require.Empty(t, report.Created)
}
