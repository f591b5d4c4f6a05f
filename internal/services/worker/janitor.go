package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ytbatch-uploader/internal/services/jobstore"
)

// JanitorOptions configures periodic store maintenance
type JanitorOptions struct {
	Cron       string        // 5- or 6-field expression
	StaleAfter time.Duration // processing jobs untouched this long are requeued; 0 disables
	Retention  time.Duration // finished jobs older than this are purged; 0 disables
	Now        func() time.Time
}

// SweepResult reports what one maintenance run changed
type SweepResult struct {
	Requeued []string
	Purged   []string
}

// Janitor requeues jobs abandoned by a dead worker and purges old finished jobs
type Janitor struct {
	store      *jobstore.Store
	cron       *cron.Cron
	spec       string
	staleAfter time.Duration
	retention  time.Duration
	now        func() time.Time
	removeAll  func(string) error
}

// NewJanitor validates the schedule and creates a janitor
func NewJanitor(store *jobstore.Store, opts JanitorOptions) (*Janitor, error) {
	spec, err := normalizeCron(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule: %w", err)
	}
	j := &Janitor{
		store:      store,
		cron:       cron.New(cron.WithSeconds()),
		spec:       spec,
		staleAfter: opts.StaleAfter,
		retention:  opts.Retention,
		now:        opts.Now,
		removeAll:  os.RemoveAll,
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j, nil
}

// Start runs one sweep and then schedules the rest
func (j *Janitor) Start(ctx context.Context) error {
	j.Sweep(ctx)

	if _, err := j.cron.AddFunc(j.spec, func() { j.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	j.cron.Start()
	log.Printf("Maintenance scheduled with cron: %s", j.spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep performs one maintenance run
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := j.now()

	if j.staleAfter > 0 {
		res.Requeued = j.store.ResetStale(ctx, now.Add(-j.staleAfter))
		for _, id := range res.Requeued {
			log.Printf("WARNING: Job %s was stuck in processing, requeued", id)
		}
	}

	if j.retention > 0 {
		for _, job := range j.store.PurgeTerminal(ctx, now.Add(-j.retention)) {
			res.Purged = append(res.Purged, job.ID)
			if job.WorkDir == "" {
				continue
			}
			if err := j.removeAll(job.WorkDir); err != nil {
				log.Printf("WARNING: Failed to remove work dir of purged job %s: %v", job.ID, err)
			}
		}
		if len(res.Purged) > 0 {
			log.Printf("Purged %d finished jobs older than %v", len(res.Purged), j.retention)
		}
	}
	return res
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cronExpr); err == nil {
			return cronExpr, nil
		}
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (0 = run at 0 seconds of the minute)
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}
