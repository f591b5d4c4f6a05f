package worker

import (
	"context"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ytbatch-uploader/internal/api"
	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/credentials"
	"ytbatch-uploader/internal/services/manifest"
	"ytbatch-uploader/internal/services/progress"
)

const (
	privacyPublic   = "public"
	privacyPrivate  = "private"
	privacyUnlisted = "unlisted"

	thumbnailAttempts = 3
)

// scheduleLayouts are the accepted forms of a row's explicit schedule time,
// read in local time unless they carry an offset
var scheduleLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// taskResult is the outcome of one task attempt
type taskResult struct {
	Status   string
	Progress models.TaskProgress
	// Interrupted is set when the worker is shutting down mid-upload; the
	// task has not been attempted as far as quota is concerned
	Interrupted bool
}

// uploadPlan is a validated row ready for upload
type uploadPlan struct {
	row       manifest.Row
	requested string     // privacy the user asked for
	privacy   string     // privacy sent with the upload
	publishAt *time.Time // scheduled publish, if any
	size      int64
}

// validateRow checks a row and works out how it must be uploaded. slot is the
// task's cadence slot, nil for unscheduled jobs. A non-empty status means
// the task failed validation.
func validateRow(row manifest.Row, slot *time.Time) (*uploadPlan, string) {
	if row.Title == "" || row.Description == "" || row.VideoPath == "" {
		return nil, progress.StatusMissingFields
	}

	requested := strings.ToLower(strings.TrimSpace(row.PrivacyStatus))
	switch requested {
	case "":
		requested = privacyPublic
	case privacyPublic, privacyPrivate, privacyUnlisted:
	default:
		return nil, progress.StatusInvalidPrivacy
	}

	p := &uploadPlan{row: row, requested: requested, privacy: requested}

	if row.ScheduleTime != "" {
		at, err := parseScheduleTime(row.ScheduleTime)
		if err != nil {
			return nil, progress.StatusInvalidSchedule
		}
		p.publishAt = &at
	} else if slot != nil {
		at := *slot
		p.publishAt = &at
	}
	// Scheduled publishing requires the video to be private at upload time
	if p.publishAt != nil {
		p.privacy = privacyPrivate
	}
	return p, ""
}

func parseScheduleTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised schedule time %q", raw)
}

// checkSource tells a missing file apart from one that is not a regular file
func checkSource(path string) (int64, string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, progress.Failedf("Video file not found: %s", path)
		}
		return 0, progress.Failedf("Video file inaccessible: %v", err)
	}
	if !info.Mode().IsRegular() {
		return 0, progress.Failedf("Video path is not a regular file: %s", path)
	}
	return info.Size(), ""
}

// runTask uploads one row. Errors never escape: they become the task status.
func (s *Service) runTask(ctx context.Context, client credentials.Uploader, jobID string, row manifest.Row, slot *time.Time, mark func(string)) taskResult {
	plan, status := validateRow(row, slot)
	if status != "" {
		return taskResult{Status: status}
	}

	size, status := checkSource(row.VideoPath)
	if status != "" {
		return taskResult{Status: status}
	}
	plan.size = size

	f, err := os.Open(row.VideoPath)
	if err != nil {
		return taskResult{Status: progress.Failedf("Video file inaccessible: %v", err)}
	}
	defer f.Close()

	mark(progress.Uploading())
	log.Printf("Job %s: uploading row %d %q (%d bytes)", jobID, row.Index, row.Title, size)

	started := s.now()
	videoID, err := client.InsertVideo(ctx, api.VideoMetadata{
		Title:         row.Title,
		Description:   row.Description,
		PrivacyStatus: plan.privacy,
		PublishAt:     plan.publishAt,
	}, f, size)
	if err != nil {
		if ctx.Err() != nil {
			return taskResult{Status: progress.Pending(), Interrupted: true}
		}
		log.Printf("ERROR: Job %s row %d upload failed: %v", jobID, row.Index, err)
		return taskResult{Status: progress.Failedf("Upload failed: %v", err)}
	}
	elapsed := s.now().Sub(started)
	s.metrics.uploaded(elapsed.Seconds(), size)

	result := taskResult{
		Progress: models.TaskProgress{
			VideoID:     videoID,
			FileSize:    size,
			UploadSpeed: formatSpeed(size, elapsed),
			Duration:    formatDuration(elapsed),
		},
	}

	if row.ThumbnailPath != "" {
		mark(progress.UploadingThumbnail())
		s.setThumbnail(ctx, client, jobID, videoID, row.ThumbnailPath)
	}

	privacy, publishAt := plan.privacy, plan.publishAt
	if publishAt != nil && !publishAt.After(s.now()) && plan.requested != privacyPrivate {
		// The publish time has already passed, so release the video now
		if err := client.SetPrivacy(ctx, videoID, plan.requested); err != nil {
			log.Printf("WARNING: Job %s: video %s stays private, privacy update failed: %v", jobID, videoID, err)
		} else {
			privacy, publishAt = plan.requested, nil
		}
	}

	result.Status = progress.Uploaded(privacy, publishAt)
	return result
}

// setThumbnail is best effort: the video is already uploaded
func (s *Service) setThumbnail(ctx context.Context, client credentials.Uploader, jobID, videoID, path string) {
	image, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARNING: Job %s: thumbnail %s unreadable: %v", jobID, path, err)
		return
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "image/jpeg"
	}

	label := fmt.Sprintf("Job %s thumbnail for %s", jobID, videoID)
	err = retryWithBackoff(label, func() error {
		return client.SetThumbnail(ctx, videoID, image, contentType)
	}, thumbnailAttempts, s.sleep)
	if err != nil {
		log.Printf("WARNING: %s not set: %v", label, err)
	}
}

func formatSpeed(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return ""
	}
	mbps := float64(bytes) / (1024 * 1024) / elapsed.Seconds()
	return fmt.Sprintf("%.2f MB/s", mbps)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
