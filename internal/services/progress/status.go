// Package progress owns the per-task outcome taxonomy. Task statuses are
// persisted as human-readable strings; the leading words identify the class,
// which is what stats and dashboards match on.
package progress

import (
	"fmt"
	"strings"
	"time"
)

// Class is the canonical outcome class of a task status string.
type Class int

const (
	ClassPending Class = iota
	ClassDeferred
	ClassInProgress
	ClassUploaded
	ClassFailed
)

func (c Class) String() string {
	switch c {
	case ClassPending:
		return "pending"
	case ClassDeferred:
		return "deferred"
	case ClassInProgress:
		return "uploading"
	case ClassUploaded:
		return "uploaded"
	case ClassFailed:
		return "failed"
	}
	return "unknown"
}

const (
	statusPending            = "Pending"
	statusDeferredPrefix     = "Pending (scheduled for "
	statusUploading          = "Uploading"
	statusUploadingThumbnail = "Uploading thumbnail"
	statusUploaded           = "Uploaded"
	statusFailedPrefix       = "Failed: "

	StatusMissingFields   = "Missing required fields"
	StatusInvalidPrivacy  = "Invalid privacy status"
	StatusInvalidSchedule = "Invalid schedule time"

	timeLayout = time.RFC3339
)

// Pending is the status of a task that has not been attempted.
func Pending() string { return statusPending }

// Deferred marks a task held back until the given instant.
func Deferred(until time.Time) string {
	return statusDeferredPrefix + until.Format(timeLayout) + ")"
}

func Uploading() string { return statusUploading }

func UploadingThumbnail() string { return statusUploadingThumbnail }

// Uploaded builds the terminal success status, e.g.
// "Uploaded as private & Scheduled for 2026-01-02T12:00:00Z".
func Uploaded(privacy string, publishAt *time.Time) string {
	s := statusUploaded
	if privacy != "" {
		s += " as " + privacy
	}
	if publishAt != nil {
		s += " & Scheduled for " + publishAt.Format(timeLayout)
	}
	return s
}

// Failed builds a terminal failure status with a reason.
func Failed(reason string) string {
	return statusFailedPrefix + reason
}

// Failedf is Failed with formatting.
func Failedf(format string, args ...any) string {
	return Failed(fmt.Sprintf(format, args...))
}

// Classify maps a persisted status string onto its class. Unknown strings are
// treated as pending so a malformed record is retried rather than lost.
func Classify(status string) Class {
	s := strings.TrimSpace(status)
	switch {
	case strings.HasPrefix(s, statusDeferredPrefix):
		return ClassDeferred
	case strings.HasPrefix(s, statusPending):
		return ClassPending
	case strings.HasPrefix(s, statusUploaded):
		return ClassUploaded
	case strings.HasPrefix(s, statusUploading):
		return ClassInProgress
	case strings.HasPrefix(s, "Failed"),
		strings.HasPrefix(s, "Missing"),
		strings.HasPrefix(s, "Invalid"):
		return ClassFailed
	}
	return ClassPending
}

// IsTerminal reports whether the task will never be processed again.
func IsTerminal(status string) bool {
	c := Classify(status)
	return c == ClassUploaded || c == ClassFailed
}

// DeferredUntil extracts the instant from a deferred status.
func DeferredUntil(status string) (time.Time, bool) {
	if !strings.HasPrefix(status, statusDeferredPrefix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(status, statusDeferredPrefix), ")")
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
