package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/chapterid"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/dedup"
	"github.com/gabriel/chapter-tracker/internal/interval"
	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gabriel/chapter-tracker/internal/resolve"
)

// Report lists what one ingest changed.
type Report struct {
	ServiceID  int64   `json:"serviceId"`
	Inserted   []int64 `json:"inserted"`
	Backfilled []int64 `json:"backfilled"`
	MangaIDs   []int64 `json:"mangaIds"`
	Created    []int64 `json:"created,omitempty"`
	Skipped    int     `json:"skipped"`
}

func (r *Report) merge(other Report) {
	r.Inserted = append(r.Inserted, other.Inserted...)
	r.Backfilled = append(r.Backfilled, other.Backfilled...)
	r.Created = append(r.Created, other.Created...)
	r.Skipped += other.Skipped
	for _, id := range other.MangaIDs {
		r.addManga(id)
	}
}

func (r *Report) addManga(mangaID int64) {
	for _, id := range r.MangaIDs {
		if id == mangaID {
			return
		}
	}
	r.MangaIDs = append(r.MangaIDs, mangaID)
}

// Pipeline turns scraped feeds into stored chapters. Each call runs in a
// single transaction so the dedup check and the inserts see the same state.
type Pipeline struct {
	db        *sql.DB
	dedup     *dedup.Engine
	resolver  *resolve.Resolver
	estimator *interval.Estimator
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(db *sql.DB, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		db:        db,
		dedup:     dedup.NewEngine(logger),
		resolver:  resolve.NewResolver(logger),
		estimator: interval.NewEstimator(logger),
		logger:    logger,
		now:       time.Now,
	}
}

// IngestSeries stores the feed of one title on a per-title source.
func (p *Pipeline) IngestSeries(ctx context.Context, service models.Service, ms models.MangaService, feed *connectors.Feed, grammars []chapterid.Grammar) (Report, error) {
	report := Report{ServiceID: service.ID}
	if feed == nil {
		return report, nil
	}
	parser := chapterid.NewParser(grammars, p.logger)

	err := repository.InTx(ctx, p.db, func(tx *sql.Tx) error {
		cfg, err := repository.NewServiceRepository(tx).GetConfig(ctx, service.ID)
		if err != nil {
			return err
		}

		current, err := repository.NewMangaRepository(tx).GetService(ctx, ms.MangaID, service.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("manga %d is not on service %s", ms.MangaID, service.Key)
		}

		titleReport, err := p.ingestTitle(ctx, tx, *current, feed.Chapters, parser, cfg.DedupWindow)
		if err != nil {
			return err
		}
		report.merge(titleReport)

		return p.storeMetadata(ctx, tx, ms.MangaID, feed)
	})
	if err != nil {
		return Report{ServiceID: service.ID}, fmt.Errorf("ingest %s title %s: %w", service.Key, ms.TitleID, err)
	}
	return report, nil
}

// IngestService stores a whole-source feed. Entries are grouped by title id
// and every title is resolved to a manga first, creating it when needed.
func (p *Pipeline) IngestService(ctx context.Context, service models.Service, feed *connectors.Feed, grammars []chapterid.Grammar) (Report, error) {
	report := Report{ServiceID: service.ID}
	if feed == nil || len(feed.Chapters) == 0 {
		return report, nil
	}
	parser := chapterid.NewParser(grammars, p.logger)

	order := make([]string, 0)
	byTitle := make(map[string][]connectors.RawChapter)
	candidates := make([]resolve.TitleCandidate, 0)
	for _, raw := range feed.Chapters {
		titleID := strings.TrimSpace(raw.TitleID)
		if titleID == "" {
			p.logger.Warn("whole-feed entry without title id", "serviceId", service.ID, "chapterIdentifier", raw.Identifier)
			report.Skipped++
			continue
		}
		if _, ok := byTitle[titleID]; !ok {
			order = append(order, titleID)
			candidates = append(candidates, resolve.TitleCandidate{Title: raw.MangaTitle, TitleID: titleID})
		}
		byTitle[titleID] = append(byTitle[titleID], raw)
	}

	err := repository.InTx(ctx, p.db, func(tx *sql.Tx) error {
		cfg, err := repository.NewServiceRepository(tx).GetConfig(ctx, service.ID)
		if err != nil {
			return err
		}

		resolution, err := p.resolver.Resolve(ctx, tx, service.ID, candidates)
		if err != nil {
			return err
		}
		report.Created = append(report.Created, resolution.Created...)

		mangaRepo := repository.NewMangaRepository(tx)
		for _, titleID := range order {
			mangaID, ok := resolution.MangaIDs[titleID]
			if !ok {
				continue
			}
			ms, err := mangaRepo.GetService(ctx, mangaID, service.ID)
			if err != nil {
				return err
			}
			if ms == nil {
				return fmt.Errorf("manga %d lost its service row", mangaID)
			}
			titleReport, err := p.ingestTitle(ctx, tx, *ms, byTitle[titleID], parser, cfg.DedupWindow)
			if err != nil {
				return err
			}
			report.merge(titleReport)
		}

		if feed.LastID != "" {
			return repository.NewServiceRepository(tx).UpdateLastID(ctx, service.ID, feed.LastID)
		}
		return nil
	})
	if err != nil {
		return Report{ServiceID: service.ID}, fmt.Errorf("ingest %s feed: %w", service.Key, err)
	}
	return report, nil
}

func (p *Pipeline) ingestTitle(ctx context.Context, tx *sql.Tx, ms models.MangaService, raws []connectors.RawChapter, parser *chapterid.Parser, window int) (Report, error) {
	report := Report{ServiceID: ms.ServiceID}
	now := p.now()

	ordered := releaseOrder(raws, now)
	identifiers := make([]string, 0, len(ordered))
	for _, raw := range ordered {
		if identifier := strings.TrimSpace(raw.Identifier); identifier != "" {
			identifiers = append(identifiers, identifier)
		}
	}
	known, err := repository.NewChapterRepository(tx).StoredIdentities(ctx, ms.ServiceID, ms.MangaID, identifiers)
	if err != nil {
		return report, err
	}

	// A feed that replays stored entries is sequenced from its own start;
	// only a feed of new entries continues from the stored latest.
	sequencer := chapterid.NewSequencer(nil, nil)
	if len(known) == 0 {
		sequencer = chapterid.NewSequencer(ms.LatestChapter, ms.LatestDecimal)
	}

	candidates := make([]models.Chapter, 0, len(ordered))
	for _, raw := range ordered {
		identifier := strings.TrimSpace(raw.Identifier)
		if identifier == "" {
			report.Skipped++
			continue
		}
		fragment, err := parser.ParseEntry(raw.Title, raw.Number)
		if err != nil {
			p.logger.Warn("skipping unparseable chapter", "serviceId", ms.ServiceID, "mangaId", ms.MangaID, "chapterIdentifier", identifier, "title", raw.Title, "error", err)
			report.Skipped++
			continue
		}
		identity := sequencer.Next(fragment)
		if stored, ok := known[identifier]; ok {
			sequencer.Resume(stored.Number, stored.Decimal, fragment.BaseTitle)
			identity.Number = stored.Number
			identity.Decimal = stored.Decimal
		}

		chapter := models.Chapter{
			MangaID:           ms.MangaID,
			ServiceID:         ms.ServiceID,
			ChapterNumber:     identity.Number,
			ChapterDecimal:    identity.Decimal,
			ReleaseDate:       releaseDate(raw, now),
			ChapterIdentifier: identifier,
		}
		if identity.Title != nil {
			chapter.Title = strings.TrimSpace(*identity.Title)
		}
		if group := strings.TrimSpace(raw.Group); group != "" {
			chapter.Group = &group
		}
		candidates = append(candidates, chapter)
	}
	if len(candidates) == 0 {
		return report, nil
	}

	mangaID := ms.MangaID
	result := p.dedup.Split(ctx, tx, ms.ServiceID, candidates, &mangaID, window)
	stored, err := p.dedup.Store(ctx, tx, result)
	if err != nil {
		return report, err
	}
	report.Inserted = stored.Inserted
	report.Backfilled = stored.Backfilled
	if len(stored.Inserted) > 0 {
		report.addManga(ms.MangaID)
	}

	latest := highest(candidates)
	if ms.LatestChapter == nil || compareIdentity(latest, *ms.LatestChapter, ms.LatestDecimal) > 0 {
		if err := repository.NewMangaRepository(tx).UpdateServiceLatest(ctx, ms.MangaID, ms.ServiceID, latest.ChapterNumber, latest.ChapterDecimal); err != nil {
			return report, err
		}
	}

	if len(stored.Inserted) > 0 {
		newest := highest(result.New)
		if _, err := p.estimator.UpdateLatestChapter(ctx, tx, ms.MangaID, newest.ChapterNumber, newest.ReleaseDate); err != nil {
			return report, err
		}
	}

	p.logger.Debug("title ingested", "serviceId", ms.ServiceID, "mangaId", ms.MangaID, "inserted", len(stored.Inserted), "backfilled", len(stored.Backfilled))
	return report, nil
}

func (p *Pipeline) storeMetadata(ctx context.Context, tx *sql.Tx, mangaID int64, feed *connectors.Feed) error {
	mangaRepo := repository.NewMangaRepository(tx)

	manga, err := mangaRepo.GetByID(ctx, mangaID)
	if err != nil {
		return err
	}
	titles := append([]string{feed.MangaTitle}, feed.AltTitles...)
	for _, title := range titles {
		title = strings.TrimSpace(title)
		if title == "" || (manga != nil && strings.EqualFold(title, manga.Title)) {
			continue
		}
		if err := mangaRepo.AddAlias(ctx, mangaID, title); err != nil {
			return err
		}
	}

	if feed.Info == nil {
		return nil
	}
	info := models.MangaInfo{
		MangaID:     mangaID,
		Cover:       optional(feed.Info.Cover),
		Status:      optional(feed.Info.Status),
		Description: optional(feed.Info.Description),
	}
	if info.Cover != nil || info.Status != nil || info.Description != nil {
		if err := mangaRepo.UpsertInfo(ctx, info); err != nil {
			return err
		}
	}
	for _, author := range feed.Info.Authors {
		if err := mangaRepo.LinkAuthor(ctx, mangaID, author, false); err != nil {
			return err
		}
	}
	for _, artist := range feed.Info.Artists {
		if err := mangaRepo.LinkAuthor(ctx, mangaID, artist, true); err != nil {
			return err
		}
	}
	return nil
}

// releaseOrder returns the entries oldest first. Feeds list the newest
// entry first, so ties keep the reversed feed order. Entries without a
// release date count as released now.
func releaseOrder(raws []connectors.RawChapter, now time.Time) []connectors.RawChapter {
	ordered := make([]connectors.RawChapter, len(raws))
	for i, raw := range raws {
		ordered[len(raws)-1-i] = raw
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return releaseDate(ordered[i], now).Before(releaseDate(ordered[j], now))
	})
	return ordered
}

func releaseDate(raw connectors.RawChapter, now time.Time) time.Time {
	if raw.ReleaseDate == nil || raw.ReleaseDate.IsZero() {
		return repository.DBTime(now)
	}
	return repository.DBTime(*raw.ReleaseDate)
}

func highest(chapters []models.Chapter) models.Chapter {
	best := chapters[0]
	for _, chapter := range chapters[1:] {
		if compareIdentity(chapter, best.ChapterNumber, best.ChapterDecimal) > 0 {
			best = chapter
		}
	}
	return best
}

func compareIdentity(chapter models.Chapter, number int, decimal *int) int {
	if chapter.ChapterNumber != number {
		if chapter.ChapterNumber > number {
			return 1
		}
		return -1
	}
	left, right := 0, 0
	if chapter.ChapterDecimal != nil {
		left = *chapter.ChapterDecimal
	}
	if decimal != nil {
		right = *decimal
	}
	switch {
	case left > right:
		return 1
	case left < right:
		return -1
	default:
		return 0
	}
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
