package resolve_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/gabriel/chapter-tracker/internal/database/dbtest"
	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gabriel/chapter-tracker/internal/resolve"
	"github.com/stretchr/testify/require"
)

func addChapters(t *testing.T, db *sql.DB, mangaID int64, serviceID int64, identifiers ...string) {
	t.Helper()
	ctx := context.Background()
	release := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, identifier := range identifiers {
		_, inserted, err := repository.NewChapterRepository(db).Insert(ctx, models.Chapter{
			MangaID:           mangaID,
			ServiceID:         serviceID,
			ChapterNumber:     i + 1,
			ReleaseDate:       release.Add(time.Duration(i) * 24 * time.Hour),
			ChapterIdentifier: identifier,
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func merge(t *testing.T, db *sql.DB, base int64, toMerge int64, serviceID *int64) resolve.MergeResult {
	t.Helper()
	var result resolve.MergeResult
	err := repository.InTx(context.Background(), db, func(tx *sql.Tx) error {
		var err error
		result, err = resolve.NewMerger(nil).Merge(context.Background(), tx, base, toMerge, serviceID)
		return err
	})
	require.NoError(t, err)
	return result
}

func strPtr(value string) *string {
	return &value
}

func TestMergeMovesEverything(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	asura := dbtest.ServiceID(t, db, "asuracomic")
	mangaRepo := repository.NewMangaRepository(db)

	base := createManga(t, db, "Tower of God", mangadex, "tog-md")
	addChapters(t, db, base, mangadex, "md-1", "md-2")

	toMerge := createManga(t, db, "Kami no Tou", asura, "tog-asura")
	require.NoError(t, mangaRepo.AddService(ctx, models.MangaService{MangaID: toMerge, ServiceID: mangadex, TitleID: "tog-md-dup"}))
	addChapters(t, db, toMerge, asura, "asura-1", "asura-2", "asura-3")
	addChapters(t, db, toMerge, mangadex, "md-dup-1")
	require.NoError(t, mangaRepo.AddAlias(ctx, toMerge, "Sinui Tap"))
	require.NoError(t, mangaRepo.AddAlias(ctx, toMerge, "ToG"))
	require.NoError(t, mangaRepo.AddAlias(ctx, base, "ToG"))
	require.NoError(t, mangaRepo.LinkAuthor(ctx, toMerge, "SIU", false))
	require.NoError(t, mangaRepo.LinkAuthor(ctx, toMerge, "SIU", true))
	require.NoError(t, repository.NewScheduledRunRepository(db).Create(ctx, toMerge, asura, "user", time.Now()))

	require.NoError(t, mangaRepo.UpsertInfo(ctx, models.MangaInfo{MangaID: base, Status: strPtr("ongoing")}))
	require.NoError(t, mangaRepo.UpsertInfo(ctx, models.MangaInfo{MangaID: toMerge, Status: strPtr("completed"), Cover: strPtr("cover.png")}))

	before := count(t, db, `SELECT COUNT(1) FROM chapters WHERE manga_id = ?`, toMerge)
	result := merge(t, db, base, toMerge, nil)

	require.Equal(t, before, result.ChaptersMoved)
	require.Equal(t, int64(4), result.ChaptersMoved)
	require.Equal(t, int64(1), result.ServicesMoved)
	// Sinui Tap moved, ToG already present, Kami no Tou added from the title
	require.Equal(t, int64(2), result.AliasesMoved)
	require.Equal(t, int64(1), result.AuthorsMoved)
	require.Equal(t, int64(1), result.ArtistsMoved)
	require.True(t, result.MetadataDeleted)

	require.Equal(t, int64(6), count(t, db, `SELECT COUNT(1) FROM chapters WHERE manga_id = ?`, base))
	require.Equal(t, int64(0), count(t, db, `SELECT COUNT(1) FROM chapters WHERE manga_id = ?`, toMerge))
	require.Equal(t, int64(0), count(t, db, `SELECT COUNT(1) FROM manga WHERE manga_id = ?`, toMerge))
	require.Equal(t, int64(1), count(t, db, `SELECT COUNT(1) FROM scheduled_runs WHERE manga_id = ? AND service_id = ?`, base, asura))

	aliases, err := mangaRepo.ListAliases(ctx, base)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Kami no Tou", "Sinui Tap", "ToG"}, aliases)

	info, err := mangaRepo.GetInfo(ctx, base)
	require.NoError(t, err)
	require.Equal(t, "ongoing", *info.Status)
	require.Equal(t, "cover.png", *info.Cover)

	again := merge(t, db, base, toMerge, nil)
	require.Equal(t, resolve.MergeResult{}, again)
}

func TestMergeKeepsMetadataWhenBaseHasNone(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	asura := dbtest.ServiceID(t, db, "asuracomic")
	mangaRepo := repository.NewMangaRepository(db)

	base := createManga(t, db, "Base", mangadex, "base")
	toMerge := createManga(t, db, "Other", asura, "other")
	require.NoError(t, mangaRepo.UpsertInfo(ctx, models.MangaInfo{MangaID: toMerge, Description: strPtr("kept")}))

	result := merge(t, db, base, toMerge, nil)
	require.False(t, result.MetadataDeleted)

	info, err := mangaRepo.GetInfo(ctx, base)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "kept", *info.Description)
}

func TestScopedMergeLeavesAliasesAndManga(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	asura := dbtest.ServiceID(t, db, "asuracomic")
	mangaRepo := repository.NewMangaRepository(db)

	base := createManga(t, db, "Base", mangadex, "base")
	toMerge := createManga(t, db, "Other", asura, "other")
	require.NoError(t, mangaRepo.AddService(ctx, models.MangaService{MangaID: toMerge, ServiceID: mangadex, TitleID: "other-md"}))
	addChapters(t, db, toMerge, asura, "a-1", "a-2")
	addChapters(t, db, toMerge, mangadex, "m-1")
	require.NoError(t, mangaRepo.AddAlias(ctx, toMerge, "Alias"))

	result := merge(t, db, base, toMerge, &asura)
	require.Equal(t, int64(2), result.ChaptersMoved)
	require.Equal(t, int64(1), result.ServicesMoved)
	require.Zero(t, result.AliasesMoved)

	require.Equal(t, int64(1), count(t, db, `SELECT COUNT(1) FROM manga WHERE manga_id = ?`, toMerge))
	require.Equal(t, int64(1), count(t, db, `SELECT COUNT(1) FROM chapters WHERE manga_id = ?`, toMerge))
	require.Equal(t, int64(1), count(t, db, `SELECT COUNT(1) FROM manga_alias WHERE manga_id = ?`, toMerge))
	require.Equal(t, int64(0), count(t, db, `SELECT COUNT(1) FROM manga_alias WHERE manga_id = ?`, base))
}

func TestMergeRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	base := createManga(t, db, "Base", mangadex, "base")

	_, err := resolve.NewMerger(nil).Merge(ctx, db, base, base, nil)
	require.Error(t, err)

	_, err = resolve.NewMerger(nil).Merge(ctx, db, 9999, base, nil)
	require.Error(t, err)
}
