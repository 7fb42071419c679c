package analytics

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultDigestSchedule rebuilds the report at the top of every hour.
const DefaultDigestSchedule = "0 0 * * * *"

// Reporter builds a report. *Service satisfies it.
type Reporter interface {
	Report(ctx context.Context) (Report, error)
}

// DigestJob periodically rebuilds the report so the dashboard reads a warm
// cache, and logs the headline totals.
type DigestJob struct {
	reporter Reporter
	logger   *zap.Logger
	timeout  time.Duration
	cron     *cron.Cron
}

// NewDigestJob registers the digest under a six-field cron schedule.
func NewDigestJob(reporter Reporter, schedule string, logger *zap.Logger) (*DigestJob, error) {
	if logger == nil {
		logger = noOpLogger
	}
	if schedule == "" {
		schedule = DefaultDigestSchedule
	}
	job := &DigestJob{
		reporter: reporter,
		logger:   logger.With(zap.String("system", "cron")),
		timeout:  time.Minute,
	}
	job.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := job.cron.AddJob(schedule, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Run builds one report. It implements cron.Job.
func (j *DigestJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	report, err := j.reporter.Report(ctx)
	if err != nil {
		j.logger.Error("analytics digest failed", zap.Error(err))
		return
	}
	j.logger.Info("analytics digest",
		zap.Int("page_views", report.Totals.PageViews),
		zap.Int("article_views", report.Totals.ArticleViews),
		zap.Int("link_clicks", report.Totals.LinkClicks),
	)
}

func (j *DigestJob) Start() {
	j.cron.Start()
}

// Stop waits for a running digest to finish.
func (j *DigestJob) Stop() {
	<-j.cron.Stop().Done()
}
