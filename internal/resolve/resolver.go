package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gabriel/chapter-tracker/internal/searchutil"
)

// TitleCandidate is a series discovered on a source.
type TitleCandidate struct {
	Title   string
	TitleID string
}

// Split is the outcome of SplitExisting. Matched maps title ids to the one
// existing manga with the same title. New titles have no match. Deferred
// titles are ambiguous and are never matched automatically.
type Split struct {
	Matched  map[string]int64
	New      []TitleCandidate
	Deferred []TitleCandidate
}

// Resolution maps every candidate title id to its manga.
type Resolution struct {
	MangaIDs map[string]int64
	Created  []int64
}

type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// SplitExisting matches titles new to a source against manga from other
// sources. Titles sharing a key inside the batch, and titles whose key
// matches more than one manga, are deferred.
func (r *Resolver) SplitExisting(ctx context.Context, q repository.Querier, serviceID int64, candidates []TitleCandidate) (Split, error) {
	split := Split{Matched: make(map[string]int64)}

	byKey := make(map[string][]TitleCandidate, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		key := searchutil.TitleKey(candidate.Title)
		if key == "" {
			split.Deferred = append(split.Deferred, candidate)
			continue
		}
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], candidate)
	}

	unique := make([]string, 0, len(keys))
	for _, key := range keys {
		group := byKey[key]
		if len(group) > 1 {
			r.logger.Warn("title collides within batch, leaving for manual merge", "serviceId", serviceID, "title", group[0].Title, "count", len(group))
			split.Deferred = append(split.Deferred, group...)
			continue
		}
		unique = append(unique, key)
	}

	matches, err := repository.NewMangaRepository(q).FindTitleMatches(ctx, serviceID, unique)
	if err != nil {
		return Split{}, err
	}
	found := make(map[string][]int64, len(matches))
	for _, match := range matches {
		found[match.TitleKey] = append(found[match.TitleKey], match.MangaID)
	}

	for _, key := range unique {
		candidate := byKey[key][0]
		switch ids := found[key]; len(ids) {
		case 0:
			split.New = append(split.New, candidate)
		case 1:
			split.Matched[candidate.TitleID] = ids[0]
		default:
			r.logger.Warn("title matches several manga, leaving for manual merge", "serviceId", serviceID, "title", candidate.Title, "mangaIds", ids)
			split.Deferred = append(split.Deferred, candidate)
		}
	}
	return split, nil
}

// CreateNew inserts a manga together with its presence on the source.
func (r *Resolver) CreateNew(ctx context.Context, q repository.Querier, serviceID int64, candidate TitleCandidate) (int64, error) {
	title := strings.TrimSpace(candidate.Title)
	if title == "" {
		title = candidate.TitleID
	}
	mangaRepo := repository.NewMangaRepository(q)
	mangaID, err := mangaRepo.Create(ctx, title)
	if err != nil {
		return 0, err
	}
	if err := mangaRepo.AddService(ctx, models.MangaService{MangaID: mangaID, ServiceID: serviceID, TitleID: candidate.TitleID}); err != nil {
		return 0, err
	}
	return mangaID, nil
}

// Resolve finds or creates the manga of every candidate. Known title ids
// keep their manga, unique title matches are linked and everything else
// becomes a new manga.
func (r *Resolver) Resolve(ctx context.Context, q repository.Querier, serviceID int64, candidates []TitleCandidate) (Resolution, error) {
	resolution := Resolution{MangaIDs: make(map[string]int64, len(candidates))}

	titleIDs := make([]string, 0, len(candidates))
	firstByID := make(map[string]TitleCandidate, len(candidates))
	for _, candidate := range candidates {
		candidate.TitleID = strings.TrimSpace(candidate.TitleID)
		if candidate.TitleID == "" {
			continue
		}
		if _, ok := firstByID[candidate.TitleID]; ok {
			continue
		}
		firstByID[candidate.TitleID] = candidate
		titleIDs = append(titleIDs, candidate.TitleID)
	}

	mangaRepo := repository.NewMangaRepository(q)
	known, err := mangaRepo.ServicesByTitleID(ctx, serviceID, titleIDs)
	if err != nil {
		return resolution, err
	}

	unknown := make([]TitleCandidate, 0, len(titleIDs))
	for _, titleID := range titleIDs {
		if ms, ok := known[titleID]; ok {
			resolution.MangaIDs[titleID] = ms.MangaID
			continue
		}
		unknown = append(unknown, firstByID[titleID])
	}
	if len(unknown) == 0 {
		return resolution, nil
	}

	split, err := r.SplitExisting(ctx, q, serviceID, unknown)
	if err != nil {
		return resolution, err
	}

	for titleID, mangaID := range split.Matched {
		if err := mangaRepo.AddService(ctx, models.MangaService{MangaID: mangaID, ServiceID: serviceID, TitleID: titleID}); err != nil {
			return resolution, err
		}
		resolution.MangaIDs[titleID] = mangaID
		r.logger.Info("linked title to existing manga", "serviceId", serviceID, "titleId", titleID, "mangaId", mangaID)
	}

	for _, candidate := range append(split.New, split.Deferred...) {
		mangaID, err := r.CreateNew(ctx, q, serviceID, candidate)
		if err != nil {
			return resolution, fmt.Errorf("create manga for %q: %w", candidate.TitleID, err)
		}
		resolution.MangaIDs[candidate.TitleID] = mangaID
		resolution.Created = append(resolution.Created, mangaID)
	}
	return resolution, nil
}
