package progress

import (
	"ytbatch-uploader/internal/models"
)

// Summary aggregates task classes across one job.
type Summary struct {
	Total      int   `json:"total"`
	Pending    int   `json:"pending"`
	Deferred   int   `json:"deferred"`
	InProgress int   `json:"uploading"`
	Uploaded   int   `json:"uploaded"`
	Failed     int   `json:"failed"`
	Bytes      int64 `json:"bytes"`
}

// Add merges another summary into s.
func (s *Summary) Add(o Summary) {
	s.Total += o.Total
	s.Pending += o.Pending
	s.Deferred += o.Deferred
	s.InProgress += o.InProgress
	s.Uploaded += o.Uploaded
	s.Failed += o.Failed
	s.Bytes += o.Bytes
}

// FullyProcessed is true when every task reached a terminal class.
func (s Summary) FullyProcessed() bool {
	return s.Uploaded+s.Failed == s.Total
}

// HasRemaining is true when some task still waits for a future pass.
// Leftover in-progress markers count as remaining: they mean a pass was interrupted.
func (s Summary) HasRemaining() bool {
	return s.Pending+s.Deferred+s.InProgress > 0
}

// Summarize classifies every task of a progress list.
func Summarize(tasks []models.TaskProgress) Summary {
	var s Summary
	for _, t := range tasks {
		s.Total++
		switch Classify(t.Status) {
		case ClassPending:
			s.Pending++
		case ClassDeferred:
			s.Deferred++
		case ClassInProgress:
			s.InProgress++
		case ClassUploaded:
			s.Uploaded++
			s.Bytes += t.FileSize
		case ClassFailed:
			s.Failed++
		}
	}
	return s
}

// ResolveJobStatus decides the job status after a processing pass.
//   - remaining work and interval scheduling configured: pending (resumed later)
//   - nothing uploaded and at least one failure: failed
//   - otherwise: completed (all uploaded, mixed outcome, or empty manifest)
func ResolveJobStatus(s Summary, scheduled bool) models.JobStatus {
	if s.HasRemaining() && scheduled {
		return models.JobPending
	}
	if s.Uploaded == 0 && s.Failed > 0 {
		return models.JobFailed
	}
	return models.JobCompleted
}

// Tracker mutates the progress list of one job. Terminal entries never change.
type Tracker struct {
	tasks []models.TaskProgress
}

// NewTracker wraps a copy of progress, padded with Pending entries up to n
// rows so that tasks[i].Index == i for every row of the manifest.
func NewTracker(progress []models.TaskProgress, n int) *Tracker {
	size := len(progress)
	if n > size {
		size = n
	}
	tasks := make([]models.TaskProgress, size)
	copy(tasks, progress)
	for i := range tasks {
		tasks[i].Index = i
		if i >= len(progress) || tasks[i].Status == "" {
			tasks[i].Status = Pending()
		}
	}
	return &Tracker{tasks: tasks}
}

// Tasks returns a copy of the current progress list.
func (t *Tracker) Tasks() []models.TaskProgress {
	out := make([]models.TaskProgress, len(t.tasks))
	copy(out, t.tasks)
	return out
}

// Len returns the number of tracked tasks.
func (t *Tracker) Len() int { return len(t.tasks) }

// Status returns the status of task i.
func (t *Tracker) Status(i int) string {
	if i < 0 || i >= len(t.tasks) {
		return ""
	}
	return t.tasks[i].Status
}

// Statuses returns the status strings in index order.
func (t *Tracker) Statuses() []string {
	out := make([]string, len(t.tasks))
	for i, task := range t.tasks {
		out[i] = task.Status
	}
	return out
}

// SetTitle records the row title for display.
func (t *Tracker) SetTitle(i int, title string) {
	if i >= 0 && i < len(t.tasks) {
		t.tasks[i].Title = title
	}
}

// Set updates the status of task i. It returns false, leaving the task
// untouched, when the task is already terminal.
func (t *Tracker) Set(i int, status string) bool {
	if i < 0 || i >= len(t.tasks) || IsTerminal(t.tasks[i].Status) {
		return false
	}
	t.tasks[i].Status = status
	return true
}

// Complete records a terminal success together with its upload metrics.
func (t *Tracker) Complete(i int, status string, result models.TaskProgress) bool {
	if !t.Set(i, status) {
		return false
	}
	t.tasks[i].VideoID = result.VideoID
	t.tasks[i].FileSize = result.FileSize
	t.tasks[i].UploadSpeed = result.UploadSpeed
	t.tasks[i].Duration = result.Duration
	return true
}

// ResetFailed turns every failed task back into Pending and returns how many
// were reset. This is the one sanctioned way a terminal status changes.
func (t *Tracker) ResetFailed() int {
	n := 0
	for i := range t.tasks {
		if Classify(t.tasks[i].Status) == ClassFailed {
			t.tasks[i] = models.TaskProgress{Index: i, Title: t.tasks[i].Title, Status: Pending()}
			n++
		}
	}
	return n
}

// Summary aggregates the tracked tasks.
func (t *Tracker) Summary() Summary {
	return Summarize(t.tasks)
}
