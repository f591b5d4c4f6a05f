package uploads

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytbatch-uploader/internal/models"
	"ytbatch-uploader/internal/services/jobstore"
	"ytbatch-uploader/internal/services/manifest"
	"ytbatch-uploader/internal/services/progress"
	"ytbatch-uploader/internal/services/scheduler"
)

type fakeChecker struct {
	err error
}

func (f fakeChecker) Check(ctx context.Context, sessionID, userID string) error { return f.err }

const manifestCSV = "youtube_title,youtube_description,path\nA,a,a.mp4\nB,b,b.mp4\nC,c,c.mp4\n"

func newTestService(t *testing.T, checkErr error) (*Service, *jobstore.Store) {
	t.Helper()
	store := jobstore.New(context.Background(), jobstore.NewMemoryBackend(), jobstore.Options{})
	return NewService(store, fakeChecker{err: checkErr}, manifest.CSVSource{}), store
}

// newWorkDir creates a job directory holding a three row manifest
func newWorkDir(t *testing.T) (dir, manifestPath string) {
	t.Helper()
	dir = filepath.Join(t.TempDir(), "job")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifestPath = filepath.Join(dir, "manifest.csv")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifestCSV), 0o644))
	return dir, manifestPath
}

var alice = Owner{UserID: "alice"}

func submit(t *testing.T, s *Service, owner Owner) (string, string) {
	t.Helper()
	dir, path := newWorkDir(t)
	id, err := s.Submit(context.Background(), SubmitRequest{Owner: owner, ManifestPath: path, WorkDir: dir})
	require.NoError(t, err)
	return id, dir
}

func setStatus(t *testing.T, store *jobstore.Store, id string, status models.JobStatus) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), id, jobstore.JobUpdate{Status: &status}, true))
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("Should store a pending job with the manifest row count", func(t *testing.T) {
		s, store := newTestService(t, nil)
		dir, path := newWorkDir(t)

		id, err := s.Submit(ctx, SubmitRequest{
			Owner:             alice,
			ManifestPath:      path,
			WorkDir:           dir,
			UploadInterval:    models.IntervalDay,
			VideosPerInterval: 2,
		})
		require.NoError(t, err)

		job, ok := store.Get(id)
		require.True(t, ok)
		assert.Equal(t, models.JobPending, job.Status)
		assert.Equal(t, 3, job.TotalVideos)
		assert.Equal(t, "alice", job.UserID)
		assert.True(t, job.IsScheduled())
	})

	t.Run("Should keep an explicit total", func(t *testing.T) {
		s, store := newTestService(t, nil)
		_, path := newWorkDir(t)
		id, err := s.Submit(ctx, SubmitRequest{Owner: alice, ManifestPath: path, TotalVideos: 7})
		require.NoError(t, err)
		job, _ := store.Get(id)
		assert.Equal(t, 7, job.TotalVideos)
		assert.Empty(t, job.WorkDir)
	})

	t.Run("Should reject bad requests without creating a job", func(t *testing.T) {
		dir, path := newWorkDir(t)
		tests := []struct {
			name  string
			req   SubmitRequest
			field string
		}{
			{"no owner", SubmitRequest{ManifestPath: path}, "UserID"},
			{"no manifest", SubmitRequest{Owner: alice}, "ManifestPath"},
			{"missing manifest", SubmitRequest{Owner: alice, ManifestPath: filepath.Join(dir, "nope.csv")}, "ManifestPath"},
			{"work dir is a file", SubmitRequest{Owner: alice, ManifestPath: path, WorkDir: path}, "WorkDir"},
			{"unknown interval", SubmitRequest{Owner: alice, ManifestPath: path, UploadInterval: "weekly", VideosPerInterval: 1}, "UploadInterval"},
			{"quota without interval", SubmitRequest{Owner: alice, ManifestPath: path, VideosPerInterval: 3}, "UploadInterval"},
			{"zero quota", SubmitRequest{Owner: alice, ManifestPath: path, UploadInterval: models.IntervalHour}, "VideosPerInterval"},
			{"negative custom minutes", SubmitRequest{Owner: alice, ManifestPath: path, UploadInterval: models.IntervalCustom, VideosPerInterval: 1, CustomIntervalMinutes: -5}, "CustomIntervalMinutes"},
			{"minutes without custom", SubmitRequest{Owner: alice, ManifestPath: path, UploadInterval: models.IntervalHour, VideosPerInterval: 1, CustomIntervalMinutes: 5}, "CustomIntervalMinutes"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s, store := newTestService(t, nil)
				_, err := s.Submit(ctx, tt.req)
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.field, vErr.Field)
				assert.Empty(t, store.List(nil))
			})
		}
	})

	t.Run("Should default a custom interval without minutes to one day", func(t *testing.T) {
		s, store := newTestService(t, nil)
		_, path := newWorkDir(t)

		id, err := s.Submit(ctx, SubmitRequest{
			Owner:             alice,
			ManifestPath:      path,
			UploadInterval:    models.IntervalCustom,
			VideosPerInterval: 2,
		})
		require.NoError(t, err)

		job, ok := store.Get(id)
		require.True(t, ok)
		assert.Equal(t, 0, job.CustomIntervalMinutes)
		assert.Equal(t, 24*time.Hour, scheduler.CadenceFor(job).Length())
	})

	t.Run("Should reject an owner without credentials", func(t *testing.T) {
		s, store := newTestService(t, errors.New("no usable credential"))
		_, path := newWorkDir(t)

		_, err := s.Submit(ctx, SubmitRequest{Owner: alice, ManifestPath: path})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "Credentials", vErr.Field)
		assert.Empty(t, store.List(nil))
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, nil)
	mine, _ := submit(t, s, alice)
	legacy, _ := submit(t, s, Owner{SessionID: "sess-a"})
	theirs, _ := submit(t, s, Owner{UserID: "bob"})

	require.NoError(t, store.Update(ctx, mine, jobstore.JobUpdate{Progress: []models.TaskProgress{
		{Index: 0, Status: progress.Uploaded("public", nil), FileSize: 100},
		{Index: 1, Status: progress.Failed("boom")},
		{Index: 2, Status: progress.Pending()},
	}}, true))
	setStatus(t, store, mine, models.JobCompleted)

	t.Run("Should enforce ownership on get", func(t *testing.T) {
		job, err := s.Get(ctx, alice, mine)
		require.NoError(t, err)
		assert.Equal(t, mine, job.ID)

		_, err = s.Get(ctx, alice, theirs)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, alice, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should fall back to the session id", func(t *testing.T) {
		job, err := s.Get(ctx, Owner{SessionID: "sess-a"}, legacy)
		require.NoError(t, err)
		assert.Equal(t, legacy, job.ID)
	})

	t.Run("Should list only the owner's jobs", func(t *testing.T) {
		jobs := s.List(ctx, alice)
		require.Len(t, jobs, 1)
		assert.Equal(t, mine, jobs[0].ID)
	})

	t.Run("Should aggregate stats", func(t *testing.T) {
		stats := s.Stats(ctx, alice)
		assert.Equal(t, 1, stats.Jobs[models.JobCompleted])
		assert.Equal(t, 3, stats.Tasks.Total)
		assert.Equal(t, 1, stats.Tasks.Uploaded)
		assert.Equal(t, 1, stats.Tasks.Failed)
		assert.Equal(t, 1, stats.Tasks.Pending)
		assert.Equal(t, int64(100), stats.Tasks.Bytes)
	})
}

func TestMutations(t *testing.T) {
	ctx := context.Background()

	t.Run("Should pause and resume", func(t *testing.T) {
		s, _ := newTestService(t, nil)
		id, _ := submit(t, s, alice)

		changed, err := s.Pause(ctx, alice, id)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = s.Resume(ctx, alice, id)
		require.NoError(t, err)
		assert.True(t, changed)

		_, err = s.Pause(ctx, Owner{UserID: "bob"}, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should cancel a pending job and remove its directory", func(t *testing.T) {
		s, _ := newTestService(t, nil)
		id, dir := submit(t, s, alice)

		require.NoError(t, s.Cancel(ctx, alice, id))
		_, err := s.Get(ctx, alice, id)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = os.Stat(dir)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Should refuse to cancel or delete a processing job", func(t *testing.T) {
		s, store := newTestService(t, nil)
		id, dir := submit(t, s, alice)
		setStatus(t, store, id, models.JobProcessing)

		assert.ErrorIs(t, s.Cancel(ctx, alice, id), jobstore.ErrInvalidState)
		assert.ErrorIs(t, s.Delete(ctx, alice, id), jobstore.ErrInvalidState)
		_, err := os.Stat(dir)
		assert.NoError(t, err)
	})

	t.Run("Should delete a completed job even when cleanup fails", func(t *testing.T) {
		s, store := newTestService(t, nil)
		s.removeAll = func(string) error { return errors.New("busy") }
		id, _ := submit(t, s, alice)
		setStatus(t, store, id, models.JobCompleted)

		require.NoError(t, s.Delete(ctx, alice, id))
		_, err := s.Get(ctx, alice, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should delete all finished jobs of the owner", func(t *testing.T) {
		s, store := newTestService(t, nil)
		done, _ := submit(t, s, alice)
		failed, _ := submit(t, s, alice)
		active, _ := submit(t, s, alice)
		other, _ := submit(t, s, Owner{UserID: "bob"})
		setStatus(t, store, done, models.JobCompleted)
		setStatus(t, store, failed, models.JobFailed)
		setStatus(t, store, other, models.JobCompleted)

		n, err := s.DeleteAllTerminal(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.Get(ctx, alice, active)
		assert.NoError(t, err)
		_, ok := store.Get(other)
		assert.True(t, ok)
	})

	t.Run("Should retry failed tasks", func(t *testing.T) {
		s, store := newTestService(t, nil)
		id, _ := submit(t, s, alice)
		require.NoError(t, store.Update(ctx, id, jobstore.JobUpdate{Progress: []models.TaskProgress{
			{Index: 0, Status: progress.StatusInvalidPrivacy},
		}}, true))
		setStatus(t, store, id, models.JobFailed)

		n, err := s.RetryFailed(ctx, alice, id)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		job, _ := s.Get(ctx, alice, id)
		assert.Equal(t, models.JobPending, job.Status)
	})

	t.Run("Should update notes", func(t *testing.T) {
		s, _ := newTestService(t, nil)
		id, _ := submit(t, s, alice)

		require.NoError(t, s.UpdateNotes(ctx, alice, id, "summer batch"))
		job, _ := s.Get(ctx, alice, id)
		assert.Equal(t, "summer batch", job.Notes)
		assert.Equal(t, models.JobPending, job.Status)
	})
}
