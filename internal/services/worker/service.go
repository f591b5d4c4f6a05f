// Package worker claims pending upload jobs and runs their processing passes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/credentials"
	"ytbatch-uploader/internal/services/jobstore"
	"ytbatch-uploader/internal/services/manifest"
	"ytbatch-uploader/internal/services/progress"
	"ytbatch-uploader/internal/services/scheduler"
)

// CredentialSource resolves the acting client of a job owner
type CredentialSource interface {
	Client(ctx context.Context, sessionID, userID string) (credentials.Uploader, error)
}

// Options tunes the worker. Zero values get defaults.
type Options struct {
	PollInterval time.Duration
	Now          func() time.Time
	Sleep        func(time.Duration)
	Registerer   prometheus.Registerer
}

// Service is the single-worker processing loop
type Service struct {
	store     *jobstore.Store
	creds     CredentialSource
	manifests manifest.Source
	metrics   *Metrics

	pollInterval time.Duration
	now          func() time.Time
	sleep        func(time.Duration)
}

// NewService creates a worker
func NewService(store *jobstore.Store, creds CredentialSource, manifests manifest.Source, opts Options) *Service {
	s := &Service{
		store:        store,
		creds:        creds,
		manifests:    manifests,
		metrics:      NewMetrics(opts.Registerer),
		pollInterval: opts.PollInterval,
		now:          opts.Now,
		sleep:        opts.Sleep,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = time.Sleep
	}
	return s
}

// Run polls for work until ctx is cancelled. After a job it polls again at
// once to drain a backlog; when nothing is due it waits one poll interval.
func (s *Service) Run(ctx context.Context) error {
	log.Printf("Worker started (poll interval %v)", s.pollInterval)
	for {
		if ctx.Err() != nil {
			break
		}
		worked, err := s.PollOnce(ctx)
		if err != nil {
			log.Printf("ERROR: Worker pass failed: %v", err)
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.pollInterval):
		}
	}

	log.Println("Worker stopping, flushing job store")
	if err := s.store.Flush(context.WithoutCancel(ctx)); err != nil {
		log.Printf("WARNING: Final job store flush failed: %v", err)
	}
	return nil
}

// PollOnce claims and processes the oldest due job. It reports whether a job
// was processed.
func (s *Service) PollOnce(ctx context.Context) (bool, error) {
	if err := s.store.Refresh(ctx); err != nil {
		log.Printf("WARNING: Job store refresh failed: %v", err)
	}
	job := s.store.ListPending(s.now())
	if job == nil {
		return false, nil
	}
	return true, s.ProcessJob(ctx, job)
}

// ProcessJob runs one processing pass over a claimed job. Credential and
// manifest failures fail the job; task failures stay with their task.
func (s *Service) ProcessJob(ctx context.Context, job *models.UploadJob) error {
	processing := models.JobProcessing
	if err := s.store.Update(ctx, job.ID, jobstore.JobUpdate{Status: &processing, ClearNextRunAt: true}, true); err != nil {
		return fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}
	s.metrics.jobsInProgress.Inc()
	defer s.metrics.jobsInProgress.Dec()
	log.Printf("Job %s claimed", job.ID)

	client, err := s.creds.Client(ctx, job.SessionID, job.UserID)
	if err != nil {
		return s.failJob(ctx, job.ID, fmt.Sprintf("Credential unavailable: %v", err))
	}

	rows, err := s.manifests.Rows(job.ManifestPath, job.MediaDir())
	if err != nil && !errors.Is(err, manifest.ErrEmptyManifest) {
		return s.failJob(ctx, job.ID, fmt.Sprintf("Failed to parse manifest: %v", err))
	}

	tracker := progress.NewTracker(job.Progress, len(rows))
	for _, row := range rows {
		tracker.SetTitle(row.Index, row.Title)
	}
	// Progress beyond the manifest belongs to rows that were removed from it
	for i := len(rows); i < tracker.Len(); i++ {
		tracker.Set(i, progress.Failed("Row no longer in manifest"))
	}

	cadence := scheduler.CadenceFor(job)
	now := s.now()
	plan := scheduler.BuildPlan(cadence, tracker.Statuses()[:len(rows)], now)
	for _, d := range plan.Deferred {
		tracker.Set(d.Index, progress.Deferred(d.Until))
	}
	s.saveProgress(ctx, job.ID, tracker, false)

	interrupted := false
	for _, i := range plan.Admitted {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		var slot *time.Time
		if cadence.Enabled() {
			at := cadence.ScheduledAt(i)
			slot = &at
		}

		mark := func(status string) {
			tracker.Set(i, status)
			s.saveProgress(ctx, job.ID, tracker, false)
		}
		res := s.runTask(ctx, client, job.ID, rows[i], slot, mark)
		if res.Interrupted {
			tracker.Set(i, res.Status)
			interrupted = true
			break
		}
		tracker.Complete(i, res.Status, res.Progress)
		s.metrics.taskFinished(progress.Classify(res.Status).String())
		s.saveProgress(ctx, job.ID, tracker, false)
	}

	summary := tracker.Summary()
	status := progress.ResolveJobStatus(summary, cadence.Enabled())
	if interrupted {
		status = models.JobPending
	}

	total := job.TotalVideos
	if total == 0 {
		total = len(rows)
	}
	lastErr := ""
	if status == models.JobFailed {
		lastErr = fmt.Sprintf("All %d tasks failed", summary.Failed)
	}
	upd := jobstore.JobUpdate{
		Status:      &status,
		Progress:    tracker.Tasks(),
		TotalVideos: &total,
		LastError:   &lastErr,
	}
	if status == models.JobPending && plan.NextRunAt != nil && !interrupted {
		upd.NextRunAt = plan.NextRunAt
	}
	if err := s.store.Update(context.WithoutCancel(ctx), job.ID, upd, true); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", job.ID, err)
	}

	s.metrics.jobFinished(status)
	log.Printf("Job %s pass done: %s (uploaded=%d failed=%d deferred=%d pending=%d)",
		job.ID, status, summary.Uploaded, summary.Failed, summary.Deferred, summary.Pending)
	return nil
}

func (s *Service) failJob(ctx context.Context, id, reason string) error {
	log.Printf("ERROR: Job %s failed: %s", id, reason)
	failed := models.JobFailed
	if err := s.store.Update(context.WithoutCancel(ctx), id, jobstore.JobUpdate{Status: &failed, LastError: &reason}, true); err != nil {
		return fmt.Errorf("failed to record failure of job %s: %w", id, err)
	}
	s.metrics.jobFinished(failed)
	return nil
}

func (s *Service) saveProgress(ctx context.Context, id string, tracker *progress.Tracker, immediate bool) {
	if err := s.store.Update(context.WithoutCancel(ctx), id, jobstore.JobUpdate{Progress: tracker.Tasks()}, immediate); err != nil {
		log.Printf("WARNING: Job %s progress not saved: %v", id, err)
	}
}
