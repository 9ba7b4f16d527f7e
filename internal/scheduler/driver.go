package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gabriel/chapter-tracker/internal/ingest"
	"github.com/gabriel/chapter-tracker/internal/interval"
	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/notifications"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrUnknownTitle   = errors.New("manga not tracked on service")
)

type Config struct {
	Parallelism    int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	BatchMin       int
	BatchMax       int
	RequestTimeout time.Duration
	FallbackWake   time.Duration
	MinWake        time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	// MaintenanceCron schedules estimated-release drift correction while
	// RunForever is running. Empty disables it.
	MaintenanceCron string
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 5 * time.Second
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay * 2
	}
	if c.BatchMin <= 0 {
		c.BatchMin = 3
	}
	if c.BatchMax <= 0 {
		c.BatchMax = 6
	}
	if c.BatchMax < c.BatchMin {
		c.BatchMax = c.BatchMin
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.FallbackWake <= 0 {
		c.FallbackWake = time.Hour
	}
	if c.MinWake <= 0 {
		c.MinWake = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Minute
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 12 * time.Hour
	}
	return c
}

// RunReport summarises one wake of the driver.
type RunReport struct {
	RunID       string    `json:"runId"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
	NewChapters int       `json:"newChapters"`
	Backfilled  int       `json:"backfilled"`
	MangaIDs    []int64   `json:"mangaIds"`
	Failed      []string  `json:"failed,omitempty"`
	NextWake    time.Time `json:"nextWake"`
}

func (r *RunReport) add(report ingest.Report) {
	r.NewChapters += len(report.Inserted)
	r.Backfilled += len(report.Backfilled)
	for _, id := range report.MangaIDs {
		found := false
		for _, existing := range r.MangaIDs {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			r.MangaIDs = append(r.MangaIDs, id)
		}
	}
}

// Driver decides which sources and titles are due, scrapes them and feeds
// the results through the ingest pipeline.
type Driver struct {
	db        *sql.DB
	registry  *connectors.Registry
	pipeline  *ingest.Pipeline
	estimator *interval.Estimator
	notifier  notifications.Notifier
	cfg       Config
	logger    *slog.Logger
	stopCh    chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	intn  func(n int) int
}

func NewDriver(db *sql.DB, registry *connectors.Registry, notifier notifications.Notifier, cfg Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}

	return &Driver{
		db:        db,
		registry:  registry,
		pipeline:  ingest.NewPipeline(db, logger),
		estimator: interval.NewEstimator(logger),
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		stopCh:    make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
		intn:      rand.IntN,
	}
}

// RunOnce performs one wake: every due per-title source scrapes a random
// batch of its due titles and every due whole-feed source scrapes its feed.
func (d *Driver) RunOnce(ctx context.Context) (RunReport, error) {
	report := d.newReport()
	logger := d.logger.With("runId", report.RunID)

	services := repository.NewServiceRepository(d.db)
	perTitle, err := services.ListDuePerTitle(ctx, report.Started)
	if err != nil {
		return report, err
	}
	wholes, err := services.ListDueWhole(ctx, report.Started)
	if err != nil {
		return report, err
	}
	logger.Info("scheduler wake", "perTitleSources", len(perTitle), "wholeSources", len(wholes))

	var mu sync.Mutex
	collect := func(key string, result ingest.Report, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed = append(report.Failed, key)
		}
		report.add(result)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Parallelism)
	for _, service := range perTitle {
		group.Go(func() error {
			result, err := d.guard(logger, service, func() (ingest.Report, error) {
				titles, err := repository.NewMangaRepository(d.db).ListDueServices(groupCtx, service.ID, d.now())
				if err != nil {
					return ingest.Report{}, err
				}
				return d.runTitles(groupCtx, logger, service, d.pickBatch(titles))
			})
			collect(service.Key, result, err)
			return nil
		})
	}
	for _, due := range wholes {
		group.Go(func() error {
			result, err := d.guard(logger, due.Service, func() (ingest.Report, error) {
				return d.runWhole(groupCtx, logger, due.Service, due.Whole)
			})
			collect(due.Service.Key, result, err)
			return nil
		})
	}
	_ = group.Wait()

	return d.finish(ctx, logger, report), nil
}

// ForceRun scrapes one source immediately, ignoring schedules and backoff.
// With a manga id only that title is scraped.
func (d *Driver) ForceRun(ctx context.Context, serviceID int64, mangaID *int64) (RunReport, error) {
	report := d.newReport()
	logger := d.logger.With("runId", report.RunID)

	service, err := repository.NewServiceRepository(d.db).GetByID(ctx, serviceID)
	if err != nil {
		return report, err
	}
	if service == nil {
		return report, fmt.Errorf("%w: %d", ErrUnknownService, serviceID)
	}

	whole, err := repository.NewServiceRepository(d.db).GetWhole(ctx, serviceID)
	if err != nil {
		return report, err
	}

	var result ingest.Report
	switch {
	case whole != nil && mangaID == nil:
		result, err = d.runWhole(ctx, logger, *service, *whole)
	case mangaID != nil:
		ms, getErr := repository.NewMangaRepository(d.db).GetService(ctx, *mangaID, serviceID)
		if getErr != nil {
			return report, getErr
		}
		if ms == nil {
			return report, fmt.Errorf("%w: manga %d on %s", ErrUnknownTitle, *mangaID, service.Key)
		}
		result, err = d.runTitles(ctx, logger, *service, []models.MangaService{*ms})
	default:
		titles, listErr := repository.NewMangaRepository(d.db).ListEnabledServices(ctx, serviceID)
		if listErr != nil {
			return report, listErr
		}
		result, err = d.runTitles(ctx, logger, *service, titles)
	}
	report.add(result)
	if err != nil {
		report.Failed = append(report.Failed, service.Key)
		return d.finish(ctx, logger, report), err
	}

	return d.finish(ctx, logger, report), nil
}

// RunScheduledRuns executes pending one-off requests, oldest first, within
// the per-source limits of service_config. Executed requests are deleted
// in one transaction per source. Requests for titles disabled on their
// source are dropped without running.
func (d *Driver) RunScheduledRuns(ctx context.Context) (RunReport, error) {
	report := d.newReport()
	logger := d.logger.With("runId", report.RunID)

	serviceIDs, err := repository.NewScheduledRunRepository(d.db).ServiceIDs(ctx)
	if err != nil {
		return report, err
	}

	services := repository.NewServiceRepository(d.db)
	for _, serviceID := range serviceIDs {
		service, err := services.GetByID(ctx, serviceID)
		if err != nil {
			return report, err
		}
		if service == nil || service.Disabled {
			continue
		}
		cfg, err := services.GetConfig(ctx, serviceID)
		if err != nil {
			return report, err
		}
		if !cfg.ScheduledRunsEnabled {
			logger.Debug("scheduled runs disabled", "serviceId", serviceID)
			continue
		}

		dropped, err := repository.NewScheduledRunRepository(d.db).DeleteDisabled(ctx, serviceID)
		if err != nil {
			return report, err
		}
		if dropped > 0 {
			logger.Info("dropped scheduled runs for disabled titles", "serviceId", serviceID, "count", dropped)
		}

		runs, err := repository.NewScheduledRunRepository(d.db).ListEligible(ctx, serviceID, cfg.ScheduledRunLimit, cfg.ScheduledRunMinInterval, d.now())
		if err != nil {
			return report, err
		}
		if len(runs) == 0 {
			continue
		}

		titles := make([]models.MangaService, 0, len(runs))
		for _, run := range runs {
			ms, err := repository.NewMangaRepository(d.db).GetService(ctx, run.MangaID, run.ServiceID)
			if err != nil {
				return report, err
			}
			if ms != nil {
				titles = append(titles, *ms)
			}
		}

		var executed []models.MangaService
		result, runErr := d.guard(logger, *service, func() (ingest.Report, error) {
			var result ingest.Report
			var err error
			executed, result, err = d.scrapeTitles(ctx, logger, *service, titles)
			return result, err
		})
		report.add(result)
		if runErr != nil {
			report.Failed = append(report.Failed, service.Key)
		}

		if len(executed) > 0 {
			err := repository.InTx(ctx, d.db, func(tx *sql.Tx) error {
				runsRepo := repository.NewScheduledRunRepository(tx)
				for _, ms := range executed {
					if err := runsRepo.Delete(ctx, ms.MangaID, ms.ServiceID); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return report, fmt.Errorf("delete executed scheduled runs: %w", err)
			}
			logger.Info("scheduled runs executed", "serviceId", serviceID, "count", len(executed))
		}
	}

	return d.finish(ctx, logger, report), nil
}

// NextWake is the earliest due time of any source, never later than the
// fallback wake and never sooner than MinWake from now.
func (d *Driver) NextWake(ctx context.Context, now time.Time) time.Time {
	latest := now.Add(d.cfg.FallbackWake)
	earliest := now.Add(d.cfg.MinWake)

	services := repository.NewServiceRepository(d.db)
	wake := latest
	for _, lookup := range []func(context.Context, time.Time) (*time.Time, error){services.NextTitleWake, services.NextWholeWake} {
		next, err := lookup(ctx, now)
		if err != nil {
			d.logger.Warn("next wake lookup failed", "error", err)
			return latest
		}
		if next != nil && next.Before(wake) {
			wake = *next
		}
	}
	if wake.Before(earliest) {
		wake = earliest
	}
	return wake
}

// CorrectEstimates recomputes the estimated release of every manga with a
// release interval from its stored chapters.
func (d *Driver) CorrectEstimates(ctx context.Context) (int, error) {
	ids, err := repository.NewMangaRepository(d.db).ListIDsWithInterval(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, id := range ids {
		estimated, err := d.estimator.UpdateEstimatedRelease(ctx, d.db, id)
		if err != nil {
			return updated, fmt.Errorf("correct estimate of manga %d: %w", id, err)
		}
		if estimated != nil {
			updated++
		}
	}
	d.logger.Info("estimated releases corrected", "manga", updated)
	return updated, nil
}

func (d *Driver) newReport() RunReport {
	return RunReport{RunID: uuid.NewString(), Started: d.now()}
}

// finish recomputes intervals of manga that received chapters, sends the
// release notification and fills in the next wake.
func (d *Driver) finish(ctx context.Context, logger *slog.Logger, report RunReport) RunReport {
	sort.Slice(report.MangaIDs, func(i, j int) bool { return report.MangaIDs[i] < report.MangaIDs[j] })
	sort.Strings(report.Failed)

	for _, mangaID := range report.MangaIDs {
		if _, err := d.estimator.UpdateInterval(ctx, d.db, mangaID); err != nil {
			logger.Warn("release interval update failed", "mangaId", mangaID, "error", err)
			continue
		}
		if _, err := d.estimator.UpdateEstimatedRelease(ctx, d.db, mangaID); err != nil {
			logger.Warn("estimated release update failed", "mangaId", mangaID, "error", err)
		}
	}

	report.Finished = d.now()
	if message, ok := notifications.ReleaseMessage(notifications.Release{
		RunID:       report.RunID,
		Finished:    report.Finished,
		NewChapters: report.NewChapters,
		MangaIDs:    report.MangaIDs,
		Failed:      report.Failed,
	}); ok {
		if err := d.notifier.Notify(ctx, message); err != nil {
			logger.Warn("release notification failed", "error", err)
		}
	}

	report.NextWake = d.NextWake(ctx, report.Finished)
	logger.Info("scheduler run finished",
		"newChapters", report.NewChapters,
		"backfilled", report.Backfilled,
		"manga", len(report.MangaIDs),
		"failed", report.Failed,
		"nextWake", report.NextWake.Format(time.RFC3339),
	)
	return report
}

// guard turns a panic inside one source into an error for that source.
func (d *Driver) guard(logger *slog.Logger, service models.Service, fn func() (ingest.Report, error)) (result ingest.Report, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("source run panicked", "serviceId", service.ID, "service", service.Key, "panic", fmt.Sprint(recovered))
			err = fmt.Errorf("source %s panicked: %v", service.Key, recovered)
		}
	}()
	return fn()
}

// pickBatch returns a random subset of the due titles, sized between
// BatchMin and BatchMax.
func (d *Driver) pickBatch(titles []models.MangaService) []models.MangaService {
	size := d.cfg.BatchMin
	if spread := d.cfg.BatchMax - d.cfg.BatchMin; spread > 0 {
		size += d.intn(spread + 1)
	}

	picked := make([]models.MangaService, len(titles))
	copy(picked, titles)
	for i := len(picked) - 1; i > 0; i-- {
		j := d.intn(i + 1)
		picked[i], picked[j] = picked[j], picked[i]
	}
	if len(picked) > size {
		picked = picked[:size]
	}
	return picked
}

func (d *Driver) politenessDelay() time.Duration {
	delay := d.cfg.MinDelay
	if spread := d.cfg.MaxDelay - d.cfg.MinDelay; spread > 0 {
		delay += time.Duration(d.intn(int(spread/time.Millisecond)+1)) * time.Millisecond
	}
	return delay
}

func (d *Driver) runTitles(ctx context.Context, logger *slog.Logger, service models.Service, titles []models.MangaService) (ingest.Report, error) {
	_, result, err := d.scrapeTitles(ctx, logger, service, titles)
	return result, err
}

// scrapeTitles scrapes titles of one per-title source in order. The first
// failed fetch backs the source off and abandons the rest of the batch.
func (d *Driver) scrapeTitles(ctx context.Context, logger *slog.Logger, service models.Service, titles []models.MangaService) ([]models.MangaService, ingest.Report, error) {
	result := ingest.Report{ServiceID: service.ID}
	if len(titles) == 0 {
		return nil, result, nil
	}

	scraper, ok := d.registry.SeriesScraper(service.Key)
	if !ok {
		logger.Warn("no series connector for source", "serviceId", service.ID, "service", service.Key)
		return nil, result, nil
	}
	grammars := d.registry.Grammars(service.Key)

	services := repository.NewServiceRepository(d.db)
	cfg, err := services.GetConfig(ctx, service.ID)
	if err != nil {
		return nil, result, err
	}

	executed := make([]models.MangaService, 0, len(titles))
	for i, ms := range titles {
		if i > 0 {
			if err := d.sleep(ctx, d.politenessDelay()); err != nil {
				return executed, result, err
			}
		}

		request := connectors.SeriesRequest{TitleID: ms.TitleID}
		if ms.FeedURL != nil {
			request.FeedURL = *ms.FeedURL
		}
		requestCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
		feed, scrapeErr := scraper.ScrapeSeries(requestCtx, request)
		cancel()
		if scrapeErr == nil && feed == nil {
			scrapeErr = fmt.Errorf("connector returned no feed")
		}
		if scrapeErr != nil {
			until, err := services.RecordFailure(ctx, service.ID, d.now(), d.cfg.BackoffBase, d.cfg.BackoffMax)
			if err != nil {
				logger.Error("record source failure failed", "serviceId", service.ID, "error", err)
			}
			logger.Warn("scrape failed, backing off source", "serviceId", service.ID, "service", service.Key, "mangaId", ms.MangaID, "titleId", ms.TitleID, "disabledUntil", until.Format(time.RFC3339), "error", scrapeErr)
			return executed, result, scrapeErr
		}

		titleReport, err := d.pipeline.IngestSeries(ctx, service, ms, feed, grammars)
		if err != nil {
			logger.Error("ingest failed", "serviceId", service.ID, "mangaId", ms.MangaID, "error", err)
		} else {
			result.Inserted = append(result.Inserted, titleReport.Inserted...)
			result.Backfilled = append(result.Backfilled, titleReport.Backfilled...)
			result.MangaIDs = append(result.MangaIDs, titleReport.MangaIDs...)
		}
		executed = append(executed, ms)

		if err := d.scheduleTitle(ctx, ms, cfg.CheckInterval); err != nil {
			logger.Warn("schedule title failed", "serviceId", service.ID, "mangaId", ms.MangaID, "error", err)
		}
	}

	if err := services.RecordSuccess(ctx, service.ID, d.now()); err != nil {
		return executed, result, err
	}
	return executed, result, nil
}

// scheduleTitle sets the next check of a title to now + check interval, or
// to the manga's estimated release when that comes first.
func (d *Driver) scheduleTitle(ctx context.Context, ms models.MangaService, checkInterval time.Duration) error {
	now := d.now()
	next := now.Add(checkInterval)

	mangaRepo := repository.NewMangaRepository(d.db)
	manga, err := mangaRepo.GetByID(ctx, ms.MangaID)
	if err != nil {
		return err
	}
	if manga != nil && manga.EstimatedRelease != nil && manga.EstimatedRelease.After(now) && manga.EstimatedRelease.Before(next) {
		next = *manga.EstimatedRelease
	}
	return mangaRepo.UpdateServiceSchedule(ctx, ms.MangaID, ms.ServiceID, now, next)
}

func (d *Driver) runWhole(ctx context.Context, logger *slog.Logger, service models.Service, whole models.ServiceWhole) (ingest.Report, error) {
	result := ingest.Report{ServiceID: service.ID}

	scraper, ok := d.registry.ServiceScraper(service.Key)
	if !ok {
		logger.Warn("no whole-feed connector for source", "serviceId", service.ID, "service", service.Key)
		return result, nil
	}

	services := repository.NewServiceRepository(d.db)
	cfg, err := services.GetConfig(ctx, service.ID)
	if err != nil {
		return result, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	feed, scrapeErr := scraper.ScrapeService(requestCtx, connectors.ServiceRequest{FeedURL: whole.FeedURL, LastUpdate: whole.LastUpdate})
	cancel()
	if scrapeErr == nil && feed == nil {
		scrapeErr = fmt.Errorf("connector returned no feed")
	}
	if scrapeErr != nil {
		until, err := services.RecordFailure(ctx, service.ID, d.now(), d.cfg.BackoffBase, d.cfg.BackoffMax)
		if err != nil {
			logger.Error("record source failure failed", "serviceId", service.ID, "error", err)
		}
		logger.Warn("feed scrape failed, backing off source", "serviceId", service.ID, "service", service.Key, "disabledUntil", until.Format(time.RFC3339), "error", scrapeErr)
		return result, scrapeErr
	}

	result, err = d.pipeline.IngestService(ctx, service, feed, d.registry.Grammars(service.Key))
	if err != nil {
		return result, err
	}

	now := d.now()
	if err := services.UpdateWholeSchedule(ctx, service.ID, now, now.Add(cfg.CheckInterval)); err != nil {
		return result, err
	}
	if err := services.RecordSuccess(ctx, service.ID, now); err != nil {
		return result, err
	}
	if len(result.Created) > 0 {
		logger.Info("new manga discovered", "serviceId", service.ID, "count", len(result.Created))
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
