package models

// TaskProgress is the outcome of one manifest row. Index is aligned with the
// row position in the manifest.
type TaskProgress struct {
	Index       int    `json:"index"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status"` // see progress package for the taxonomy
	VideoID     string `json:"videoId,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	UploadSpeed string `json:"uploadSpeed,omitempty"`
	Duration    string `json:"duration,omitempty"`
}
