package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/jobstore"
)

func TestNormalizeCron(t *testing.T) {
	t.Run("Should convert 5-field cron to 6-field", func(t *testing.T) {
		tests := []struct {
			name     string
			input    string
			expected string
		}{
			{name: "Daily at 3 AM", input: "0 3 * * *", expected: "0 0 3 * * *"},
			{name: "Every 15 minutes", input: "*/15 * * * *", expected: "0 */15 * * * *"},
			{name: "Weekdays at 9 AM", input: "0 9 * * 1-5", expected: "0 0 9 * * 1-5"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := normalizeCron(tt.input)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			})
		}
	})

	t.Run("Should keep 6-field cron unchanged", func(t *testing.T) {
		result, err := normalizeCron("30 0 2 * * 1")
		require.NoError(t, err)
		assert.Equal(t, "30 0 2 * * 1", result)
	})

	t.Run("Should fail with invalid field count", func(t *testing.T) {
		for _, input := range []string{"0 2 * *", "0 0 2 * * * 2025", "", "*"} {
			_, err := normalizeCron(input)
			assert.Error(t, err, input)
			assert.Contains(t, err.Error(), "invalid cron expression")
		}
	})

	t.Run("Should reject an invalid 5-field expression", func(t *testing.T) {
		_, err := normalizeCron("99 3 * * *")
		assert.Error(t, err)
	})
}

func TestJanitor(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := jobstore.New(ctx, jobstore.NewMemoryBackend(), jobstore.Options{Now: clock.Now})

	create := func(status models.JobStatus, workDir string) string {
		id, err := store.Create(ctx, &models.UploadJob{ManifestPath: "m.csv", WorkDir: workDir})
		require.NoError(t, err)
		if status != models.JobPending {
			require.NoError(t, store.Update(ctx, id, jobstore.JobUpdate{Status: &status}, true))
		}
		return id
	}

	oldDir := filepath.Join(t.TempDir(), "old")
	require.NoError(t, os.MkdirAll(oldDir, 0o755))

	stuck := create(models.JobProcessing, "")
	old := create(models.JobCompleted, oldDir)
	waiting := create(models.JobPending, "")

	clock.t = clock.t.Add(40 * 24 * time.Hour)
	recent := create(models.JobFailed, "")

	t.Run("Should reject an invalid schedule", func(t *testing.T) {
		_, err := NewJanitor(store, JanitorOptions{Cron: "bad"})
		assert.Error(t, err)
	})

	t.Run("Should requeue stale jobs and purge old finished ones", func(t *testing.T) {
		j, err := NewJanitor(store, JanitorOptions{
			Cron:       "0 3 * * *",
			StaleAfter: 6 * time.Hour,
			Retention:  30 * 24 * time.Hour,
			Now:        clock.Now,
		})
		require.NoError(t, err)

		res := j.Sweep(ctx)
		assert.Equal(t, []string{stuck}, res.Requeued)
		assert.Equal(t, []string{old}, res.Purged)

		job, ok := store.Get(stuck)
		require.True(t, ok)
		assert.Equal(t, models.JobPending, job.Status)

		_, ok = store.Get(old)
		assert.False(t, ok)
		_, ok = store.Get(waiting)
		assert.True(t, ok)
		_, ok = store.Get(recent)
		assert.True(t, ok)

		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Should start and stop the schedule", func(t *testing.T) {
		j, err := NewJanitor(store, JanitorOptions{Cron: "0 3 * * *", Now: clock.Now})
		require.NoError(t, err)
		require.NoError(t, j.Start(ctx))
		j.Stop()
	})
}
