package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// RunForever wakes, runs scheduled requests and due sources, then sleeps
// until the next wake. A failed or panicking wake sleeps for the fallback
// interval. It returns when ctx is cancelled.
func (d *Driver) RunForever(ctx context.Context) error {
	if d.cfg.MaintenanceCron != "" {
		maintenance := cron.New()
		if _, err := maintenance.AddFunc(d.cfg.MaintenanceCron, func() {
			if _, err := d.CorrectEstimates(ctx); err != nil {
				d.logger.Warn("estimate correction failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule maintenance %q: %w", d.cfg.MaintenanceCron, err)
		}
		maintenance.Start()
		defer maintenance.Stop()
	}

	for {
		wake := d.wake(ctx)
		wait := wake.Sub(d.now())
		d.logger.Debug("scheduler sleeping", "until", wake.Format(time.RFC3339), "wait", wait.String())
		if err := d.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (d *Driver) wake(ctx context.Context) (next time.Time) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("scheduler wake panicked", "panic", fmt.Sprint(recovered))
			next = d.now().Add(d.cfg.FallbackWake)
		}
	}()

	if _, err := d.RunScheduledRuns(ctx); err != nil {
		d.logger.Warn("scheduled runs failed", "error", err)
	}
	report, err := d.RunOnce(ctx)
	if err != nil {
		d.logger.Warn("scheduler run failed", "error", err)
		return d.now().Add(d.cfg.FallbackWake)
	}
	return report.NextWake
}

func (d *Driver) Start(ctx context.Context) {
	d.logger.Info("scheduler started", "parallelism", d.cfg.Parallelism, "maintenanceCron", d.cfg.MaintenanceCron)
	go func() {
		defer close(d.stopCh)
		_ = d.RunForever(ctx)
		d.logger.Info("scheduler stopped")
	}()
}

func (d *Driver) StopWait(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	select {
	case <-d.stopCh:
	case <-time.After(timeout):
	}
}
