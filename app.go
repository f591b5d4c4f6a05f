package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"ytbatch-uploader/internal/config"
	"ytbatch-uploader/internal/crypto"
	"ytbatch-uploader/internal/database"
	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/credentials"
	"ytbatch-uploader/internal/services/jobstore"
	"ytbatch-uploader/internal/services/manifest"
	"ytbatch-uploader/internal/services/progress"
	"ytbatch-uploader/internal/services/session"
	"ytbatch-uploader/internal/services/uploads"
	"ytbatch-uploader/internal/services/worker"
)

// App struct - main application state
type App struct {
	cfg      *config.Config
	db       *gorm.DB
	registry *prometheus.Registry

	sessions       *session.Store
	credentials    *credentials.Provider
	jobs           *jobstore.Store
	uploadsService *uploads.Service
	workerService  *worker.Service
	janitor        *worker.Janitor
}

// NewApp creates a new App application struct
func NewApp(cfg *config.Config) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &App{
		cfg:      cfg,
		registry: reg,
	}
}

// startup wires every service. The worker and the janitor are built here
// but only started by RunWorker.
func (a *App) startup(ctx context.Context) error {
	log.Println("Application starting up...")

	// Refresh tokens cannot be stored without encryption
	if err := crypto.InitEncryption(); err != nil {
		return fmt.Errorf("encryption initialization failed: %w", err)
	}
	log.Println("Encryption initialized successfully")

	db, err := database.Open(a.cfg.DatabaseURL, a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	log.Println("Database initialized successfully")

	a.sessions = session.NewStore(db)
	a.credentials = credentials.NewProvider(a.sessions, a.cfg.YouTube)

	var backend jobstore.Backend
	switch a.cfg.JobsBackend {
	case "db":
		backend = jobstore.NewDBBackend(db)
	default:
		backend = jobstore.NewFileBackend(a.cfg.JobsFile)
	}
	a.jobs = jobstore.New(ctx, backend, jobstore.Options{Debounce: a.cfg.FlushDebounce})
	log.Printf("Job store initialized (%s backend)", a.cfg.JobsBackend)

	manifests := manifest.CSVSource{}
	a.uploadsService = uploads.NewService(a.jobs, a.credentials, manifests)
	a.workerService = worker.NewService(a.jobs, a.credentials, manifests, worker.Options{
		PollInterval: a.cfg.PollInterval,
		Registerer:   a.registry,
	})

	a.janitor, err = worker.NewJanitor(a.jobs, worker.JanitorOptions{
		Cron:       a.cfg.MaintenanceCron,
		StaleAfter: a.cfg.StaleAfter,
		Retention:  a.cfg.JobRetention,
	})
	if err != nil {
		return err
	}

	log.Println("Startup complete")
	return nil
}

// shutdown writes buffered job changes and closes the database
func (a *App) shutdown(ctx context.Context) {
	log.Println("Application shutting down...")

	if a.jobs != nil {
		if err := a.jobs.Close(ctx); err != nil {
			log.Printf("WARNING: Failed to flush job store: %v", err)
		}
	}

	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	log.Println("Shutdown complete")
}

// RunWorker processes jobs until ctx is cancelled
func (a *App) RunWorker(ctx context.Context) error {
	if err := a.janitor.Start(ctx); err != nil {
		log.Printf("WARNING: Failed to start maintenance: %v", err)
	} else {
		defer a.janitor.Stop()
	}
	return a.workerService.Run(ctx)
}

// Session Methods

// LoginRequest stores a refresh token obtained from the OAuth consent flow
type LoginRequest struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id,omitempty"`
	RefreshToken string `json:"-"`
}

// LoginResponse reports the stored session
type LoginResponse struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	ChannelTitle string `json:"channel_title"`
}

// Login saves the credential and proves it works by reading the channel title
func (a *App) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if strings.TrimSpace(req.RefreshToken) == "" {
		return nil, errors.New("refresh token is required")
	}

	sess, err := a.sessions.Save(ctx, session.Credential{
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	client, err := a.credentials.APIClient(ctx, sess.ID, "")
	if err != nil {
		return nil, err
	}
	title, err := client.ChannelTitle(ctx)
	if err != nil {
		a.credentials.Forget(sess.ID)
		if delErr := a.sessions.Delete(ctx, sess.ID); delErr != nil {
			log.Printf("WARNING: Failed to remove unusable session %s: %v", sess.ID, delErr)
		}
		return nil, fmt.Errorf("failed to verify credential: %w", err)
	}

	// The client may have refreshed the access token meanwhile
	tok := client.Token()
	cred := session.Credential{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		ChannelTitle: title,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		cred.TokenExpiry = &tok.Expiry
	}
	if _, err := a.sessions.Save(ctx, cred); err != nil {
		return nil, err
	}

	log.Printf("Session %s stored for channel %q", sess.ID, title)
	return &LoginResponse{SessionID: sess.ID, UserID: sess.UserID, ChannelTitle: title}, nil
}

// Job Methods

// JobResponse is the listing view of a job
type JobResponse struct {
	ID          string           `json:"id"`
	Status      models.JobStatus `json:"status"`
	Manifest    string           `json:"manifest"`
	TotalVideos int              `json:"total_videos"`
	Interval    string           `json:"interval,omitempty"`
	NextRunAt   *time.Time       `json:"next_run_at,omitempty"`
	CreatedAt   string           `json:"created_at"`
	Summary     string           `json:"summary"`
	LastError   string           `json:"last_error,omitempty"`
}

// SubmitJob creates a pending upload job
func (a *App) SubmitJob(ctx context.Context, req uploads.SubmitRequest) (string, error) {
	return a.uploadsService.Submit(ctx, req)
}

// GetJob returns the full job including per-video progress
func (a *App) GetJob(ctx context.Context, owner uploads.Owner, id string) (*models.UploadJob, error) {
	return a.uploadsService.Get(ctx, owner, id)
}

// ListJobs lists the owner's jobs, newest first. limit <= 0 lists all.
func (a *App) ListJobs(ctx context.Context, owner uploads.Owner, limit int) []JobResponse {
	jobs := a.uploadsService.List(ctx, owner)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, JobResponse{
			ID:          job.ID,
			Status:      job.Status,
			Manifest:    job.ManifestPath,
			TotalVideos: job.TotalVideos,
			Interval:    job.UploadInterval,
			NextRunAt:   job.NextRunAt,
			CreatedAt:   job.CreatedAt.Format(time.RFC3339),
			Summary:     generateJobSummary(job),
			LastError:   job.LastError,
		})
	}
	return out
}

// generateJobSummary creates a brief summary of the job result
func generateJobSummary(job *models.UploadJob) string {
	s := progress.Summarize(job.Progress)
	switch job.Status {
	case models.JobCompleted:
		if s.Failed > 0 {
			return fmt.Sprintf("Completed (%d uploaded, %d failed)", s.Uploaded, s.Failed)
		}
		return fmt.Sprintf("Completed (%d uploaded)", s.Uploaded)
	case models.JobFailed:
		return fmt.Sprintf("Failed (%d of %d tasks failed)", s.Failed, s.Total)
	case models.JobPending, models.JobProcessing, models.JobPaused:
		if s.Total == 0 {
			return string(job.Status)
		}
		return fmt.Sprintf("%s (%d/%d uploaded)", job.Status, s.Uploaded, s.Total)
	default:
		return string(job.Status)
	}
}

// JobStats aggregates the owner's jobs
func (a *App) JobStats(ctx context.Context, owner uploads.Owner) uploads.Stats {
	return a.uploadsService.Stats(ctx, owner)
}

// PauseJob pauses a pending job
func (a *App) PauseJob(ctx context.Context, owner uploads.Owner, id string) (bool, error) {
	return a.uploadsService.Pause(ctx, owner, id)
}

// ResumeJob resumes a paused job
func (a *App) ResumeJob(ctx context.Context, owner uploads.Owner, id string) (bool, error) {
	return a.uploadsService.Resume(ctx, owner, id)
}

// CancelJob removes a job that has not finished
func (a *App) CancelJob(ctx context.Context, owner uploads.Owner, id string) error {
	return a.uploadsService.Cancel(ctx, owner, id)
}

// DeleteJob removes a finished job
func (a *App) DeleteJob(ctx context.Context, owner uploads.Owner, id string) error {
	return a.uploadsService.Delete(ctx, owner, id)
}

// DeleteTerminalJobs removes every finished job of the owner
func (a *App) DeleteTerminalJobs(ctx context.Context, owner uploads.Owner) (int, error) {
	return a.uploadsService.DeleteAllTerminal(ctx, owner)
}

// RetryFailedTasks requeues the failed videos of a job
func (a *App) RetryFailedTasks(ctx context.Context, owner uploads.Owner, id string) (int, error) {
	return a.uploadsService.RetryFailed(ctx, owner, id)
}

// UpdateJobNotes replaces the notes of a job
func (a *App) UpdateJobNotes(ctx context.Context, owner uploads.Owner, id, notes string) error {
	return a.uploadsService.UpdateNotes(ctx, owner, id, notes)
}
