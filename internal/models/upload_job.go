package models

import (
	"path/filepath"
	"time"
)

// JobStatus is the job-level state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobPaused     JobStatus = "paused"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status may be deleted.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Upload interval kinds
const (
	IntervalDay     = "day"
	Interval12Hours = "12hours"
	Interval6Hours  = "6hours"
	IntervalHour    = "hour"
	Interval30Mins  = "30mins"
	Interval10Mins  = "10mins"
	IntervalCustom  = "custom"
)

// UploadJob is one batch upload request
type UploadJob struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;column:user_id" json:"userId,omitempty"`
	SessionID string `gorm:"index;column:session_id" json:"sessionId,omitempty"`

	ManifestPath string `gorm:"not null;column:manifest_path" json:"manifestPath"`
	WorkDir      string `gorm:"column:work_dir" json:"workDir"`

	UploadInterval        string     `gorm:"column:upload_interval" json:"uploadInterval,omitempty"`
	VideosPerInterval     int        `gorm:"column:videos_per_interval" json:"videosPerInterval,omitempty"`
	CustomIntervalMinutes int        `gorm:"column:custom_interval_minutes" json:"customIntervalMinutes,omitempty"`
	StartDate             *time.Time `gorm:"column:start_date" json:"startDate,omitempty"`
	TotalVideos           int        `gorm:"column:total_videos" json:"totalVideos,omitempty"` // 0 = derive from manifest

	Status    JobStatus      `gorm:"not null;index;default:pending" json:"status"`
	Progress  []TaskProgress `gorm:"type:text;serializer:json" json:"progress"`
	Notes     string         `gorm:"type:text" json:"notes,omitempty"`
	LastError string         `gorm:"type:text;column:last_error" json:"lastError,omitempty"`
	NextRunAt *time.Time     `gorm:"column:next_run_at" json:"nextRunAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (UploadJob) TableName() string {
	return "upload_jobs"
}

// IsScheduled reports whether interval scheduling is configured for the job.
func (j *UploadJob) IsScheduled() bool {
	return j.UploadInterval != "" && j.VideosPerInterval > 0
}

// OwnedBy reports whether the job belongs to the given user or session.
// A userId match is preferred; sessionId is the legacy fallback.
func (j *UploadJob) OwnedBy(userID, sessionID string) bool {
	if j.UserID != "" && userID != "" {
		return j.UserID == userID
	}
	return j.SessionID != "" && j.SessionID == sessionID
}

// MediaDir is the directory relative manifest paths are resolved against:
// the working directory, or the manifest's own directory without one.
func (j *UploadJob) MediaDir() string {
	if j.WorkDir != "" {
		return j.WorkDir
	}
	return filepath.Dir(j.ManifestPath)
}

// Clone returns a deep copy so callers never share the progress slice.
func (j *UploadJob) Clone() *UploadJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.Progress != nil {
		c.Progress = make([]TaskProgress, len(j.Progress))
		copy(c.Progress, j.Progress)
	}
	if j.StartDate != nil {
		t := *j.StartDate
		c.StartDate = &t
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		c.NextRunAt = &t
	}
	return &c
}
