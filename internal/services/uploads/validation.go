package uploads

import (
	"fmt"
	"os"
	"strings"

	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/scheduler"
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateSubmitRequest validates a submission before anything is stored
func ValidateSubmitRequest(req *SubmitRequest) error {
	if req.UserID == "" && req.SessionID == "" {
		return &ValidationError{"UserID", "userId or sessionId required"}
	}

	if strings.TrimSpace(req.ManifestPath) == "" {
		return &ValidationError{"ManifestPath", "required"}
	}
	info, err := os.Stat(req.ManifestPath)
	if err != nil {
		return &ValidationError{"ManifestPath", fmt.Sprintf("not readable: %v", err)}
	}
	if !info.Mode().IsRegular() {
		return &ValidationError{"ManifestPath", "not a regular file"}
	}

	if req.WorkDir != "" {
		info, err := os.Stat(req.WorkDir)
		if err != nil || !info.IsDir() {
			return &ValidationError{"WorkDir", "must be an existing directory"}
		}
	}

	if req.TotalVideos < 0 {
		return &ValidationError{"TotalVideos", "must not be negative"}
	}

	return validateCadence(req)
}

func validateCadence(req *SubmitRequest) error {
	if req.UploadInterval == "" {
		if req.VideosPerInterval != 0 {
			return &ValidationError{"UploadInterval", "required when videosPerInterval is set"}
		}
		return nil
	}
	if !scheduler.IsKnownInterval(req.UploadInterval) {
		return &ValidationError{"UploadInterval", fmt.Sprintf("unknown interval %q", req.UploadInterval)}
	}
	if req.VideosPerInterval < 1 {
		return &ValidationError{"VideosPerInterval", "must be at least 1"}
	}
	if req.UploadInterval == models.IntervalCustom {
		// 0 means one day
		if req.CustomIntervalMinutes < 0 {
			return &ValidationError{"CustomIntervalMinutes", "must not be negative"}
		}
	} else if req.CustomIntervalMinutes != 0 {
		return &ValidationError{"CustomIntervalMinutes", "only allowed with a custom interval"}
	}
	return nil
}
