package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/progress"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state")
)

// Options configures a Store
type Options struct {
	// Debounce bounds how long buffered progress updates may stay unwritten.
	// Zero writes every update immediately.
	Debounce time.Duration
	Now      func() time.Time
}

// JobUpdate lists the fields an Update merges. Nil fields are left unchanged.
type JobUpdate struct {
	Status         *models.JobStatus
	Progress       []models.TaskProgress
	TotalVideos    *int
	Notes          *string
	LastError      *string
	NextRunAt      *time.Time
	ClearNextRunAt bool
}

// Store is the authority over persisted upload jobs. It keeps the table in
// memory; progress updates can be coalesced while status changes and
// creations are written at once. Several processes may share one backend, so
// every write re-reads the stored table and applies only the jobs this store
// created, changed or removed since its last write.
type Store struct {
	backend  Backend
	now      func() time.Time
	debounce time.Duration

	mu    sync.Mutex
	jobs  map[string]*models.UploadJob
	dirty bool
	timer *time.Timer

	created map[string]struct{}
	changed map[string]struct{}
	removed map[string]struct{}
}

// New loads the table from backend. An unreadable table is logged and
// replaced by an empty one instead of failing the process.
func New(ctx context.Context, backend Backend, opts Options) *Store {
	s := &Store{
		backend:  backend,
		now:      opts.Now,
		debounce: opts.Debounce,
		jobs:     make(map[string]*models.UploadJob),
	}
	s.resetChangesLocked()
	if s.now == nil {
		s.now = time.Now
	}

	jobs, err := backend.Load(ctx)
	if err != nil {
		log.Printf("ERROR: Failed to load job table, starting empty: %v", err)
		return s
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	log.Printf("Job store loaded %d jobs", len(s.jobs))
	return s
}

// Refresh writes pending changes and re-reads the table, picking up jobs and
// edits made by other processes. A failed read keeps the in-memory table.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// syncLocked refreshes before a mutation. Failures leave the cached table in
// place; buffered changes are never dropped by a reload.
func (s *Store) syncLocked(ctx context.Context) {
	if err := s.refreshLocked(ctx); err != nil {
		log.Printf("WARNING: Job table refresh skipped: %v", err)
	}
}

func (s *Store) refreshLocked(ctx context.Context) error {
	if s.dirty {
		// a write re-reads the table, so a successful flush is also a reload
		if err := s.saveLocked(ctx); err != nil {
			return fmt.Errorf("failed to flush before reload: %w", err)
		}
		return nil
	}
	jobs, err := s.backend.Load(ctx)
	if err != nil {
		log.Printf("WARNING: Failed to reload job table, keeping cached copy: %v", err)
		return nil
	}
	s.jobs = make(map[string]*models.UploadJob, len(jobs))
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return nil
}

// Create stores a new pending job and writes it immediately.
func (s *Store) Create(ctx context.Context, req *models.UploadJob) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked(ctx)

	now := s.now()
	job := req.Clone()
	job.ID = id.String()
	job.Status = models.JobPending
	job.Progress = []models.TaskProgress{}
	job.LastError = ""
	job.NextRunAt = nil
	job.CreatedAt = now
	job.UpdatedAt = now

	s.jobs[job.ID] = job
	s.created[job.ID] = struct{}{}
	s.changed[job.ID] = struct{}{}
	s.dirty = true
	if err := s.saveLocked(ctx); err != nil {
		delete(s.jobs, job.ID)
		delete(s.created, job.ID)
		delete(s.changed, job.ID)
		return "", fmt.Errorf("failed to persist job: %w", err)
	}
	return job.ID, nil
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (*models.UploadJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Update merges fields into a job. Status changes are always written
// immediately; other updates are buffered for the debounce window unless
// immediate is set. Write failures are logged and retried on the next flush.
func (s *Store) Update(ctx context.Context, id string, upd JobUpdate, immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upd.Status != nil {
		immediate = true
	}
	if immediate {
		s.syncLocked(ctx)
	}

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Progress != nil {
		job.Progress = make([]models.TaskProgress, len(upd.Progress))
		copy(job.Progress, upd.Progress)
	}
	if upd.TotalVideos != nil {
		job.TotalVideos = *upd.TotalVideos
	}
	if upd.Notes != nil {
		job.Notes = *upd.Notes
	}
	if upd.LastError != nil {
		job.LastError = *upd.LastError
	}
	if upd.ClearNextRunAt {
		job.NextRunAt = nil
	}
	if upd.NextRunAt != nil {
		t := *upd.NextRunAt
		job.NextRunAt = &t
	}
	job.UpdatedAt = s.now()

	s.changed[id] = struct{}{}
	s.markDirtyLocked(ctx, immediate)
	return nil
}

// ListPending returns the oldest pending job that is due at now, or nil.
func (s *Store) ListPending(now time.Time) *models.UploadJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.UploadJob
	for _, job := range s.jobs {
		if job.Status != models.JobPending {
			continue
		}
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if best == nil || job.CreatedAt.Before(best.CreatedAt) ||
			(job.CreatedAt.Equal(best.CreatedAt) && job.ID < best.ID) {
			best = job
		}
	}
	return best.Clone()
}

// List returns copies of the jobs accepted by keep, newest first.
func (s *Store) List(keep func(*models.UploadJob) bool) []*models.UploadJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.UploadJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if keep == nil || keep(job) {
			out = append(out, job.Clone())
		}
	}
	sortByCreation(out)
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out
}

// Delete removes a completed, failed or cancelled job. The caller owns the
// removal of the job's working directory.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, id, func(st models.JobStatus) bool { return st.IsTerminal() })
}

// Cancel removes a job that has not started processing. A job that is
// processing cannot be cancelled because an upload may be in flight.
func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.remove(ctx, id, func(st models.JobStatus) bool {
		return st == models.JobPending || st == models.JobPaused
	})
}

func (s *Store) remove(ctx context.Context, id string, allowed func(models.JobStatus) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked(ctx)
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !allowed(job.Status) {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, job.Status)
	}
	s.dropLocked(id)
	s.markDirtyLocked(ctx, true)
	return nil
}

// Pause moves a pending job to paused. It returns false when nothing changed.
func (s *Store) Pause(ctx context.Context, id string) (bool, error) {
	return s.toggle(ctx, id, models.JobPending, models.JobPaused)
}

// Resume moves a paused job back to pending. It returns false when nothing changed.
func (s *Store) Resume(ctx context.Context, id string) (bool, error) {
	return s.toggle(ctx, id, models.JobPaused, models.JobPending)
}

func (s *Store) toggle(ctx context.Context, id string, from, to models.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked(ctx)
	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = s.now()
	s.changed[id] = struct{}{}
	s.markDirtyLocked(ctx, true)
	return true, nil
}

// RetryFailed resets the failed tasks of a finished or waiting job to Pending
// and makes the job pending again. It returns the number of reset tasks.
func (s *Store) RetryFailed(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked(ctx)
	job, ok := s.jobs[id]
	if !ok {
		return 0, ErrNotFound
	}
	switch job.Status {
	case models.JobCompleted, models.JobFailed, models.JobPending, models.JobPaused:
	default:
		return 0, fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, job.Status)
	}

	tr := progress.NewTracker(job.Progress, len(job.Progress))
	n := tr.ResetFailed()
	if n == 0 && job.Status != models.JobFailed {
		return 0, nil
	}
	job.Progress = tr.Tasks()
	if job.Status != models.JobPaused {
		job.Status = models.JobPending
	}
	job.LastError = ""
	job.NextRunAt = nil
	job.UpdatedAt = s.now()
	s.changed[id] = struct{}{}
	s.markDirtyLocked(ctx, true)
	return n, nil
}

// ResetStale returns jobs stuck in processing since before cutoff to pending.
// Such jobs were claimed by a worker that died mid-pass.
func (s *Store) ResetStale(ctx context.Context, cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked(ctx)
	var ids []string
	for id, job := range s.jobs {
		if job.Status == models.JobProcessing && !job.UpdatedAt.After(cutoff) {
			job.Status = models.JobPending
			job.UpdatedAt = s.now()
			s.changed[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		sort.Strings(ids)
		s.markDirtyLocked(ctx, true)
	}
	return ids
}

// PurgeTerminal removes completed and failed jobs last updated before cutoff
// and returns them so the caller can clean their working directories.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) []*models.UploadJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked(ctx)
	var removed []*models.UploadJob
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			removed = append(removed, job)
			s.dropLocked(id)
		}
	}
	if len(removed) > 0 {
		sortByCreation(removed)
		s.markDirtyLocked(ctx, true)
	}
	return removed
}

// Flush writes buffered changes now.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.saveLocked(ctx)
}

// Close flushes and stops the debounce timer.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		return nil
	}
	return s.saveLocked(ctx)
}

// Dirty reports whether buffered changes are waiting to be written.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Store) markDirtyLocked(ctx context.Context, immediate bool) {
	s.dirty = true
	if immediate || s.debounce <= 0 {
		if err := s.saveLocked(ctx); err != nil {
			log.Printf("WARNING: Failed to write job table: %v", err)
		}
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, func() {
			if err := s.Flush(context.Background()); err != nil {
				log.Printf("WARNING: Debounced job table write failed: %v", err)
			}
		})
	}
}

func (s *Store) dropLocked(id string) {
	delete(s.jobs, id)
	delete(s.created, id)
	delete(s.changed, id)
	s.removed[id] = struct{}{}
}

func (s *Store) resetChangesLocked() {
	s.created = make(map[string]struct{})
	s.changed = make(map[string]struct{})
	s.removed = make(map[string]struct{})
}

// saveLocked writes this store's pending changes. Backends that can write
// single rows get just those rows; the others get the stored table re-read
// with the changes applied on top.
func (s *Store) saveLocked(ctx context.Context) error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if rb, ok := s.backend.(RowBackend); ok {
		if err := s.saveRowsLocked(ctx, rb); err != nil {
			return err
		}
	} else if err := s.saveTableLocked(ctx); err != nil {
		return err
	}
	s.resetChangesLocked()
	s.dirty = false
	return nil
}

func (s *Store) saveRowsLocked(ctx context.Context, rb RowBackend) error {
	var c Changes
	for id := range s.changed {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		if _, isNew := s.created[id]; isNew {
			c.Created = append(c.Created, job)
		} else {
			c.Updated = append(c.Updated, job)
		}
	}
	for id := range s.removed {
		c.Removed = append(c.Removed, id)
	}
	sortByCreation(c.Created)
	sortByCreation(c.Updated)
	sort.Strings(c.Removed)

	if err := rb.Apply(ctx, c); err != nil {
		return err
	}

	jobs, err := s.backend.Load(ctx)
	if err != nil {
		log.Printf("WARNING: Failed to reload job table after write, keeping cached copy: %v", err)
		return nil
	}
	s.jobs = make(map[string]*models.UploadJob, len(jobs))
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return nil
}

func (s *Store) saveTableLocked(ctx context.Context) error {
	merged := s.mergeLocked(ctx)
	jobs := make([]*models.UploadJob, 0, len(merged))
	for _, j := range merged {
		jobs = append(jobs, j)
	}
	sortByCreation(jobs)
	if err := s.backend.Save(ctx, jobs); err != nil {
		return err
	}
	s.jobs = merged
	return nil
}

// mergeLocked overlays this store's changes on the stored table. A changed
// job that another process deleted stays deleted. When the table cannot be
// read the cached copy is used as the base.
func (s *Store) mergeLocked(ctx context.Context) map[string]*models.UploadJob {
	stored, err := s.backend.Load(ctx)
	if err != nil {
		log.Printf("WARNING: Failed to read job table before write, writing cached copy: %v", err)
		merged := make(map[string]*models.UploadJob, len(s.jobs))
		for id, j := range s.jobs {
			merged[id] = j
		}
		return merged
	}

	merged := make(map[string]*models.UploadJob, len(stored)+len(s.created))
	for _, j := range stored {
		merged[j.ID] = j
	}
	for id := range s.changed {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		_, exists := merged[id]
		_, isNew := s.created[id]
		if !exists && !isNew {
			continue
		}
		merged[id] = job
	}
	for id := range s.removed {
		delete(merged, id)
	}
	return merged
}
