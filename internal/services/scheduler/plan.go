package scheduler

import (
	"time"

	"ytbatch-uploader/internal/services/progress"
)

// Deferral is a task withheld from the current pass.
type Deferral struct {
	Index int
	Until time.Time
}

// Plan is the outcome of one scheduling decision.
type Plan struct {
	Admitted  []int
	Deferred  []Deferral
	NextRunAt *time.Time // earliest instant a deferred task can be admitted
}

// BuildPlan decides which of the tasks (given by their current statuses, in
// manifest order) run in this pass.
//
// Without a cadence every non-terminal task is admitted. With one, a task is
// admitted when its slot is due and the current window still has quota:
// terminal tasks whose slot lies in the window plus tasks admitted so far in
// this pass must stay below VideosPerInterval. Failed attempts consume quota
// exactly like uploads; pending ones never do.
func BuildPlan(c Cadence, statuses []string, now time.Time) Plan {
	var plan Plan

	if !c.Enabled() {
		for i, s := range statuses {
			if !progress.IsTerminal(s) {
				plan.Admitted = append(plan.Admitted, i)
			}
		}
		return plan
	}

	window := c.CurrentWindow(now)
	used := 0
	for i, s := range statuses {
		if progress.IsTerminal(s) && window.Contains(c.ScheduledAt(i)) {
			used++
		}
	}

	for i, s := range statuses {
		if progress.IsTerminal(s) {
			continue
		}
		slot := c.ScheduledAt(i)
		switch {
		case slot.After(now):
			plan.deferTask(i, slot)
		case used >= c.VideosPerInterval:
			plan.deferTask(i, window.End)
		default:
			plan.Admitted = append(plan.Admitted, i)
			used++
		}
	}
	return plan
}

func (p *Plan) deferTask(i int, until time.Time) {
	p.Deferred = append(p.Deferred, Deferral{Index: i, Until: until})
	if p.NextRunAt == nil || until.Before(*p.NextRunAt) {
		t := until
		p.NextRunAt = &t
	}
}
