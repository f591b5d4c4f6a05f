// Package uploads is the caller-facing side of the uploader: submitting jobs
// and querying or changing them on behalf of their owner.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/jobstore"
	"ytbatch-uploader/internal/services/manifest"
	"ytbatch-uploader/internal/services/progress"
)

// ErrNotFound is returned for unknown jobs and for jobs of another owner
var ErrNotFound = errors.New("upload job not found")

// Owner identifies who acts on a job. UserID is preferred; SessionID is the
// fallback for callers that only know their session.
type Owner struct {
	UserID    string
	SessionID string
}

// SubmitRequest describes a new batch upload
type SubmitRequest struct {
	Owner
	ManifestPath          string
	WorkDir               string
	UploadInterval        string
	VideosPerInterval     int
	CustomIntervalMinutes int
	StartDate             *time.Time
	TotalVideos           int
	Notes                 string
}

// Stats aggregates an owner's jobs
type Stats struct {
	Jobs  map[models.JobStatus]int `json:"jobs"`
	Tasks progress.Summary         `json:"tasks"`
}

// CredentialChecker tells whether an owner can upload at all
type CredentialChecker interface {
	Check(ctx context.Context, sessionID, userID string) error
}

// Service implements the job operations exposed to callers
type Service struct {
	store     *jobstore.Store
	creds     CredentialChecker
	manifests manifest.Source
	removeAll func(string) error
}

// NewService creates the uploads service
func NewService(store *jobstore.Store, creds CredentialChecker, manifests manifest.Source) *Service {
	return &Service{
		store:     store,
		creds:     creds,
		manifests: manifests,
		removeAll: os.RemoveAll,
	}
}

// Submit validates a request and stores a pending job. Bad cadence settings,
// an unreadable manifest or missing credentials reject the request.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := ValidateSubmitRequest(&req); err != nil {
		return "", err
	}

	total := req.TotalVideos
	if total == 0 {
		rows, err := s.manifests.Rows(req.ManifestPath, mediaDir(req.ManifestPath, req.WorkDir))
		if err != nil && !errors.Is(err, manifest.ErrEmptyManifest) {
			return "", &ValidationError{"ManifestPath", fmt.Sprintf("unparseable: %v", err)}
		}
		total = len(rows)
	}

	if err := s.creds.Check(ctx, req.SessionID, req.UserID); err != nil {
		return "", &ValidationError{"Credentials", fmt.Sprintf("no authenticated YouTube session: %v", err)}
	}

	job := &models.UploadJob{
		UserID:                req.UserID,
		SessionID:             req.SessionID,
		ManifestPath:          req.ManifestPath,
		WorkDir:               req.WorkDir,
		UploadInterval:        req.UploadInterval,
		VideosPerInterval:     req.VideosPerInterval,
		CustomIntervalMinutes: req.CustomIntervalMinutes,
		StartDate:             req.StartDate,
		TotalVideos:           total,
		Notes:                 req.Notes,
	}
	id, err := s.store.Create(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	log.Printf("Job %s submitted (%d videos, interval=%q)", id, total, req.UploadInterval)
	return id, nil
}

// Get returns one of the owner's jobs
func (s *Service) Get(ctx context.Context, owner Owner, id string) (*models.UploadJob, error) {
	s.refresh(ctx)
	return s.owned(owner, id)
}

// List returns the owner's jobs, newest first
func (s *Service) List(ctx context.Context, owner Owner) []*models.UploadJob {
	s.refresh(ctx)
	return s.store.List(func(j *models.UploadJob) bool { return j.OwnedBy(owner.UserID, owner.SessionID) })
}

// Stats counts the owner's jobs by status and their tasks by class
func (s *Service) Stats(ctx context.Context, owner Owner) Stats {
	stats := Stats{Jobs: map[models.JobStatus]int{}}
	for _, job := range s.List(ctx, owner) {
		stats.Jobs[job.Status]++
		stats.Tasks.Add(progress.Summarize(job.Progress))
	}
	return stats
}

// Pause holds a pending job. It reports whether anything changed.
func (s *Service) Pause(ctx context.Context, owner Owner, id string) (bool, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return false, err
	}
	return s.store.Pause(ctx, id)
}

// Resume releases a paused job. It reports whether anything changed.
func (s *Service) Resume(ctx context.Context, owner Owner, id string) (bool, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return false, err
	}
	return s.store.Resume(ctx, id)
}

// Cancel removes a pending or paused job together with its working directory
func (s *Service) Cancel(ctx context.Context, owner Owner, id string) error {
	job, err := s.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.store.Cancel(ctx, id); err != nil {
		return s.translate(err)
	}
	s.removeWorkDir(job)
	return nil
}

// Delete removes a finished job together with its working directory
func (s *Service) Delete(ctx context.Context, owner Owner, id string) error {
	job, err := s.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return s.translate(err)
	}
	s.removeWorkDir(job)
	return nil
}

// DeleteAllTerminal deletes every finished job of the owner and returns how many went
func (s *Service) DeleteAllTerminal(ctx context.Context, owner Owner) (int, error) {
	deleted := 0
	for _, job := range s.List(ctx, owner) {
		if !job.Status.IsTerminal() {
			continue
		}
		if err := s.store.Delete(ctx, job.ID); err != nil {
			if errors.Is(err, jobstore.ErrNotFound) || errors.Is(err, jobstore.ErrInvalidState) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}
		s.removeWorkDir(job)
		deleted++
	}
	return deleted, nil
}

// RetryFailed gives the failed tasks of a job another attempt
func (s *Service) RetryFailed(ctx context.Context, owner Owner, id string) (int, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return 0, err
	}
	n, err := s.store.RetryFailed(ctx, id)
	return n, s.translate(err)
}

// UpdateNotes replaces the free-form notes of a job
func (s *Service) UpdateNotes(ctx context.Context, owner Owner, id, notes string) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}
	return s.translate(s.store.Update(ctx, id, jobstore.JobUpdate{Notes: &notes}, true))
}

func mediaDir(manifestPath, workDir string) string {
	return (&models.UploadJob{ManifestPath: manifestPath, WorkDir: workDir}).MediaDir()
}

func (s *Service) owned(owner Owner, id string) (*models.UploadJob, error) {
	job, ok := s.store.Get(id)
	if !ok || !job.OwnedBy(owner.UserID, owner.SessionID) {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *Service) refresh(ctx context.Context) {
	if err := s.store.Refresh(ctx); err != nil {
		log.Printf("WARNING: Job store refresh failed: %v", err)
	}
}

func (s *Service) translate(err error) error {
	if errors.Is(err, jobstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// removeWorkDir is best effort; the job is already gone. Jobs submitted
// without a working directory own no directory.
func (s *Service) removeWorkDir(job *models.UploadJob) {
	if job.WorkDir == "" {
		return
	}
	if err := s.removeAll(job.WorkDir); err != nil {
		log.Printf("WARNING: Failed to remove work dir %s of job %s: %v", job.WorkDir, job.ID, err)
	}
}
