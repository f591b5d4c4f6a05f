// Package scheduler computes which tasks of a job may run now. Everything here
// is a pure function of the cadence, the task statuses and the injected now.
package scheduler

import (
	"time"

	"ytbatch-uploader/internal/models"
)

const defaultCustomMinutes = 1440

var windowMinutes = map[string]int{
	models.IntervalDay:     1440,
	models.Interval12Hours: 720,
	models.Interval6Hours:  360,
	models.IntervalHour:    60,
	models.Interval30Mins:  30,
	models.Interval10Mins:  10,
}

// Cadence is the release configuration of one job
type Cadence struct {
	Interval              string
	VideosPerInterval     int
	CustomIntervalMinutes int
	StartDate             time.Time
}

// CadenceFor extracts the cadence of a job. A job without a start date is
// anchored at its creation time.
func CadenceFor(job *models.UploadJob) Cadence {
	start := job.CreatedAt
	if job.StartDate != nil {
		start = *job.StartDate
	}
	return Cadence{
		Interval:              job.UploadInterval,
		VideosPerInterval:     job.VideosPerInterval,
		CustomIntervalMinutes: job.CustomIntervalMinutes,
		StartDate:             start,
	}
}

// IsKnownInterval reports whether interval names a supported window kind.
func IsKnownInterval(interval string) bool {
	_, ok := windowMinutes[interval]
	return ok || interval == models.IntervalCustom
}

// Enabled reports whether tasks are released over time at all.
func (c Cadence) Enabled() bool {
	return IsKnownInterval(c.Interval) && c.VideosPerInterval > 0
}

// WindowLength maps an interval kind to its length. custom uses
// customMinutes, or one day when unset.
func WindowLength(interval string, customMinutes int) time.Duration {
	if m, ok := windowMinutes[interval]; ok {
		return time.Duration(m) * time.Minute
	}
	if customMinutes <= 0 {
		customMinutes = defaultCustomMinutes
	}
	return time.Duration(customMinutes) * time.Minute
}

// Length is the window length of the cadence.
func (c Cadence) Length() time.Duration {
	return WindowLength(c.Interval, c.CustomIntervalMinutes)
}

// Anchor is the instant task 0 is scheduled for: noon on the start date for
// daily cadences, the start date truncated to the minute otherwise.
func (c Cadence) Anchor() time.Time {
	s := c.StartDate
	if c.Interval == models.IntervalDay {
		return time.Date(s.Year(), s.Month(), s.Day(), 12, 0, 0, 0, s.Location())
	}
	return time.Date(s.Year(), s.Month(), s.Day(), s.Hour(), s.Minute(), 0, 0, s.Location())
}

// ScheduledAt returns the slot of task i. Tasks sharing a window share the instant.
func (c Cadence) ScheduledAt(i int) time.Time {
	per := c.VideosPerInterval
	if per <= 0 {
		per = 1
	}
	return c.Anchor().Add(time.Duration(i/per) * c.Length())
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// CurrentWindow returns the window containing now. Fixed interval kinds align
// to the wall clock of now's location; custom windows align to the anchor.
func (c Cadence) CurrentWindow(now time.Time) Window {
	y, m, d := now.Date()
	loc := now.Location()
	block := func(hours int) Window {
		start := time.Date(y, m, d, now.Hour()/hours*hours, 0, 0, 0, loc)
		return Window{Start: start, End: start.Add(time.Duration(hours) * time.Hour)}
	}
	minutes := func(step int) Window {
		start := time.Date(y, m, d, now.Hour(), now.Minute()/step*step, 0, 0, loc)
		return Window{Start: start, End: start.Add(time.Duration(step) * time.Minute)}
	}

	switch c.Interval {
	case models.IntervalDay:
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(0, 0, 1)}
	case models.Interval12Hours:
		return block(12)
	case models.Interval6Hours:
		return block(6)
	case models.IntervalHour:
		return block(1)
	case models.Interval30Mins:
		return minutes(30)
	case models.Interval10Mins:
		return minutes(10)
	}

	length := c.Length()
	anchor := c.Anchor()
	n := now.Sub(anchor) / length
	if now.Before(anchor) && now.Sub(anchor)%length != 0 {
		n--
	}
	start := anchor.Add(n * length)
	return Window{Start: start, End: start.Add(length)}
}
