package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/progress"
)

func pendingStatuses(n int) []string {
	s := make([]string, n)
	for i := range s {
		s[i] = progress.Pending()
	}
	return s
}

func TestBuildPlanUnscheduled(t *testing.T) {
	t.Run("Should admit every non-terminal task", func(t *testing.T) {
		statuses := pendingStatuses(4)
		statuses[1] = progress.Uploaded("public", nil)
		statuses[2] = progress.StatusMissingFields

		plan := BuildPlan(Cadence{}, statuses, time.Now())
		assert.Equal(t, []int{0, 3}, plan.Admitted)
		assert.Empty(t, plan.Deferred)
		assert.Nil(t, plan.NextRunAt)
	})
}

func TestBuildPlanDailyScenario(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c := Cadence{Interval: models.IntervalDay, VideosPerInterval: 3, StartDate: start}
	statuses := pendingStatuses(10)

	t.Run("Should admit the first window and defer the rest", func(t *testing.T) {
		plan := BuildPlan(c, statuses, start)
		assert.Equal(t, []int{0, 1, 2}, plan.Admitted)
		require.Len(t, plan.Deferred, 7)
		assert.Equal(t, 3, plan.Deferred[0].Index)
		assert.Equal(t, start.Add(24*time.Hour), plan.Deferred[0].Until)
		require.NotNil(t, plan.NextRunAt)
		assert.Equal(t, start.Add(24*time.Hour), *plan.NextRunAt)
	})

	for i := 0; i < 3; i++ {
		statuses[i] = progress.Uploaded("public", nil)
	}

	t.Run("Should admit nothing more in the same window", func(t *testing.T) {
		plan := BuildPlan(c, statuses, start)
		assert.Empty(t, plan.Admitted)
		assert.Len(t, plan.Deferred, 7)
	})

	t.Run("Should admit the next three a day later", func(t *testing.T) {
		plan := BuildPlan(c, statuses, start.Add(24*time.Hour))
		assert.Equal(t, []int{3, 4, 5}, plan.Admitted)
	})
}

func TestBuildPlanQuota(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Should never admit more than the quota for one window", func(t *testing.T) {
		for _, interval := range []string{models.IntervalHour, models.Interval10Mins, models.IntervalCustom, models.IntervalDay} {
			for per := 1; per <= 4; per++ {
				c := Cadence{Interval: interval, VideosPerInterval: per, CustomIntervalMinutes: 15, StartDate: start}
				// far in the future so every task is due
				plan := BuildPlan(c, pendingStatuses(25), start.Add(30*24*time.Hour))
				assert.LessOrEqual(t, len(plan.Admitted), per, "%s per=%d", interval, per)
			}
		}
	})

	t.Run("Should count finalized tasks of the current window against the quota", func(t *testing.T) {
		c := Cadence{Interval: models.IntervalHour, VideosPerInterval: 2, StartDate: start}
		statuses := pendingStatuses(4)
		statuses[0] = progress.Failed("upload error")

		plan := BuildPlan(c, statuses, start.Add(5*time.Minute))
		assert.Equal(t, []int{1}, plan.Admitted)
		require.NotNil(t, plan.NextRunAt)
		assert.Equal(t, start.Add(time.Hour), *plan.NextRunAt)
	})

	t.Run("Should not let pending attempts consume quota", func(t *testing.T) {
		c := Cadence{Interval: models.IntervalHour, VideosPerInterval: 2, StartDate: start}
		statuses := pendingStatuses(2)
		statuses[0] = progress.Uploading()

		plan := BuildPlan(c, statuses, start)
		assert.Equal(t, []int{0, 1}, plan.Admitted)
	})

	t.Run("Should defer due tasks to the end of an exhausted window", func(t *testing.T) {
		c := Cadence{Interval: models.IntervalHour, VideosPerInterval: 1, StartDate: start}
		statuses := pendingStatuses(3)

		now := start.Add(3*time.Hour + 20*time.Minute)
		plan := BuildPlan(c, statuses, now)
		assert.Equal(t, []int{0}, plan.Admitted)
		require.Len(t, plan.Deferred, 2)
		assert.Equal(t, time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC), plan.Deferred[0].Until)
	})
}
