package resolve_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/gabriel/chapter-tracker/internal/database/dbtest"
	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gabriel/chapter-tracker/internal/resolve"
	"github.com/stretchr/testify/require"
)

func createManga(t *testing.T, db *sql.DB, title string, serviceID int64, titleID string) int64 {
	t.Helper()
	ctx := context.Background()

	mangaRepo := repository.NewMangaRepository(db)
	id, err := mangaRepo.Create(ctx, title)
	require.NoError(t, err)
	require.NoError(t, mangaRepo.AddService(ctx, models.MangaService{MangaID: id, ServiceID: serviceID, TitleID: titleID}))
	return id
}

func TestSplitExistingMatchesUniqueTitle(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	asura := dbtest.ServiceID(t, db, "asuracomic")

	existing := createManga(t, db, "Solo Leveling", mangadex, "md-1")

	split, err := resolve.NewResolver(nil).SplitExisting(ctx, db, asura, []resolve.TitleCandidate{
		{Title: "SOLO  leveling", TitleID: "solo"},
		{Title: "Omniscient Reader", TitleID: "orv"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"solo": existing}, split.Matched)
	require.Equal(t, []resolve.TitleCandidate{{Title: "Omniscient Reader", TitleID: "orv"}}, split.New)
	require.Empty(t, split.Deferred)
}

func TestSplitExistingDefersBatchCollisions(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	asura := dbtest.ServiceID(t, db, "asuracomic")

	createManga(t, db, "Solo Leveling", mangadex, "md-1")

	split, err := resolve.NewResolver(nil).SplitExisting(ctx, db, asura, []resolve.TitleCandidate{
		{Title: "Solo Leveling", TitleID: "a"},
		{Title: "solo leveling", TitleID: "b"},
	})
	require.NoError(t, err)
	require.Empty(t, split.Matched)
	require.Empty(t, split.New)
	require.Len(t, split.Deferred, 2)
}

func TestSplitExistingDefersSeveralMatches(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	mangaplus := dbtest.ServiceID(t, db, "mangaplus")
	asura := dbtest.ServiceID(t, db, "asuracomic")

	createManga(t, db, "Blue Box", mangadex, "md-1")
	createManga(t, db, "Blue Box", mangaplus, "mp-1")

	split, err := resolve.NewResolver(nil).SplitExisting(ctx, db, asura, []resolve.TitleCandidate{{Title: "Blue Box", TitleID: "bb"}})
	require.NoError(t, err)
	require.Empty(t, split.Matched)
	require.Len(t, split.Deferred, 1)
}

func TestSplitExistingIgnoresMangaAlreadyOnSource(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	asura := dbtest.ServiceID(t, db, "asuracomic")

	createManga(t, db, "Return of the Mount Hua Sect", asura, "mount-hua")

	split, err := resolve.NewResolver(nil).SplitExisting(ctx, db, asura, []resolve.TitleCandidate{{Title: "Return of the Mount Hua Sect", TitleID: "mount-hua-2"}})
	require.NoError(t, err)
	require.Empty(t, split.Matched)
	require.Len(t, split.New, 1)
}

func TestResolveCreatesAndLinks(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	mangadex := dbtest.ServiceID(t, db, "mangadex")
	asura := dbtest.ServiceID(t, db, "asuracomic")

	existing := createManga(t, db, "Solo Leveling", mangadex, "md-1")
	known := createManga(t, db, "Nano Machine", asura, "nano")

	resolution, err := resolve.NewResolver(nil).Resolve(ctx, db, asura, []resolve.TitleCandidate{
		{Title: "Nano Machine", TitleID: "nano"},
		{Title: "Solo Leveling", TitleID: "solo"},
		{Title: "Twin Title", TitleID: "twin-a"},
		{Title: "twin title", TitleID: "twin-b"},
		{Title: "Solo Leveling", TitleID: "solo"},
	})
	require.NoError(t, err)
	require.Equal(t, known, resolution.MangaIDs["nano"])
	require.Equal(t, existing, resolution.MangaIDs["solo"])
	require.Len(t, resolution.Created, 2)
	require.NotEqual(t, resolution.MangaIDs["twin-a"], resolution.MangaIDs["twin-b"])

	ms, err := repository.NewMangaRepository(db).GetService(ctx, existing, asura)
	require.NoError(t, err)
	require.NotNil(t, ms)
	require.Equal(t, "solo", ms.TitleID)

	again, err := resolve.NewResolver(nil).Resolve(ctx, db, asura, []resolve.TitleCandidate{{Title: "Twin Title", TitleID: "twin-a"}})
	require.NoError(t, err)
	require.Empty(t, again.Created)
	require.Equal(t, resolution.MangaIDs["twin-a"], again.MangaIDs["twin-a"])
}
