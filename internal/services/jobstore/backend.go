package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gorm.io/gorm"

	"ytbatch-uploader/internal/models"
)

// ErrCorrupt marks a persisted table that could not be decoded
var ErrCorrupt = errors.New("job table is corrupt")

// Backend persists the whole job table. Save receives the complete table and
// must replace the stored one atomically.
type Backend interface {
	Load(ctx context.Context) ([]*models.UploadJob, error)
	Save(ctx context.Context, jobs []*models.UploadJob) error
}

// Changes is the set of rows one store wrote since its last save
type Changes struct {
	Created []*models.UploadJob
	Updated []*models.UploadJob
	Removed []string
}

// RowBackend is a Backend that can write single rows. Stores sharing it with
// other processes then only touch the rows they changed.
type RowBackend interface {
	Backend
	Apply(ctx context.Context, c Changes) error
}

// FileBackend stores the table as one JSON object keyed by job id
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to path
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the table; a missing file is an empty table
func (b *FileBackend) Load(ctx context.Context) ([]*models.UploadJob, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var table map[string]*models.UploadJob
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, b.path, err)
	}

	jobs := make([]*models.UploadJob, 0, len(table))
	for id, job := range table {
		if job == nil {
			continue
		}
		if job.ID == "" {
			job.ID = id
		}
		jobs = append(jobs, job)
	}
	sortByCreation(jobs)
	return jobs, nil
}

// Save writes the table to a temp file and renames it over the old one
func (b *FileBackend) Save(ctx context.Context, jobs []*models.UploadJob) error {
	table := make(map[string]*models.UploadJob, len(jobs))
	for _, job := range jobs {
		table[job.ID] = job
	}
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job table: %w", err)
	}
	return writeFileAtomic(b.path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".jobs-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

// DBBackend stores the table in the upload_jobs table
type DBBackend struct {
	db *gorm.DB
}

// NewDBBackend creates a gorm-backed job table
func NewDBBackend(db *gorm.DB) *DBBackend {
	return &DBBackend{db: db}
}

// Load reads every job ordered by creation
func (b *DBBackend) Load(ctx context.Context) ([]*models.UploadJob, error) {
	var jobs []*models.UploadJob
	if err := b.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	return jobs, nil
}

// Apply writes one store's changes in a transaction. Updates of rows that
// were deleted meanwhile affect nothing, so a deleted job is not revived.
func (b *DBBackend) Apply(ctx context.Context, c Changes) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(c.Created) > 0 {
			if err := tx.CreateInBatches(c.Created, 100).Error; err != nil {
				return fmt.Errorf("failed to insert jobs: %w", err)
			}
		}
		for _, job := range c.Updated {
			err := tx.Model(&models.UploadJob{}).
				Where("id = ?", job.ID).
				Select("*").Omit("id", "created_at").
				UpdateColumns(job).Error
			if err != nil {
				return fmt.Errorf("failed to update job %s: %w", job.ID, err)
			}
		}
		if len(c.Removed) > 0 {
			if err := tx.Where("id IN ?", c.Removed).Delete(&models.UploadJob{}).Error; err != nil {
				return fmt.Errorf("failed to delete jobs: %w", err)
			}
		}
		return nil
	})
}

// Save replaces the table inside one transaction
func (b *DBBackend) Save(ctx context.Context, jobs []*models.UploadJob) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.UploadJob{}).Error; err != nil {
			return fmt.Errorf("failed to clear jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(jobs, 100).Error; err != nil {
			return fmt.Errorf("failed to write jobs: %w", err)
		}
		return nil
	})
}

// MemoryBackend keeps the table in memory; used by tests and dry runs
type MemoryBackend struct {
	mu      sync.Mutex
	jobs    []*models.UploadJob
	saves   int
	SaveErr error
	LoadErr error
}

// NewMemoryBackend creates an empty in-memory table
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load returns a copy of the stored table
func (b *MemoryBackend) Load(ctx context.Context) ([]*models.UploadJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	return cloneAll(b.jobs), nil
}

// Save stores a copy of the table
func (b *MemoryBackend) Save(ctx context.Context, jobs []*models.UploadJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SaveErr != nil {
		return b.SaveErr
	}
	b.jobs = cloneAll(jobs)
	b.saves++
	return nil
}

// Saves returns how many successful writes happened
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Stored returns the persisted copy of one job
func (b *MemoryBackend) Stored(id string) *models.UploadJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, j := range b.jobs {
		if j.ID == id {
			return j.Clone()
		}
	}
	return nil
}

func cloneAll(jobs []*models.UploadJob) []*models.UploadJob {
	out := make([]*models.UploadJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Clone())
	}
	return out
}

func sortByCreation(jobs []*models.UploadJob) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
