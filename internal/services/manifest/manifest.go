package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyManifest is returned for a file without a header row
var ErrEmptyManifest = errors.New("manifest is empty")

// Recognized column names (matched case-insensitively)
const (
	ColumnTitle         = "youtube_title"
	ColumnDescription   = "youtube_description"
	ColumnThumbnailPath = "thumbnail_path"
	ColumnVideoPath     = "path"
	ColumnScheduleTime  = "scheduletime"
	ColumnPrivacy       = "privacystatus"
)

// Row is one task of a job
type Row struct {
	Index         int
	Title         string
	Description   string
	ThumbnailPath string
	VideoPath     string
	ScheduleTime  string
	PrivacyStatus string
}

// Source yields the rows of a manifest
type Source interface {
	Rows(path string, workDir string) ([]Row, error)
}

// CSVSource reads comma-separated manifests with a header row
type CSVSource struct{}

// Rows parses the manifest at path. Relative media paths are resolved against workDir.
func (CSVSource) Rows(path string, workDir string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	return Parse(f, workDir)
}

// Parse reads manifest rows from r.
func Parse(r io.Reader, workDir string) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyManifest
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[name] = i
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest row %d: %w", len(rows)+1, err)
		}
		if isBlank(record) {
			continue
		}

		rows = append(rows, Row{
			Index:         len(rows),
			Title:         field(record, ColumnTitle),
			Description:   field(record, ColumnDescription),
			ThumbnailPath: resolve(workDir, field(record, ColumnThumbnailPath)),
			VideoPath:     resolve(workDir, field(record, ColumnVideoPath)),
			ScheduleTime:  field(record, ColumnScheduleTime),
			PrivacyStatus: field(record, ColumnPrivacy),
		})
	}
	return rows, nil
}

func resolve(workDir, p string) string {
	if p == "" || filepath.IsAbs(p) || workDir == "" {
		return p
	}
	return filepath.Join(workDir, p)
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
