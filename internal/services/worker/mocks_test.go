package worker

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"ytbatch-uploader/internal/api"
	"ytbatch-uploader/internal/services/credentials"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) InsertVideo(ctx context.Context, meta api.VideoMetadata, media io.Reader, size int64) (string, error) {
	// Drain the stream like the real client would
	_, _ = io.Copy(io.Discard, media)
	args := m.Called(ctx, meta, media, size)
	return args.String(0), args.Error(1)
}

func (m *mockUploader) SetThumbnail(ctx context.Context, videoID string, image []byte, contentType string) error {
	args := m.Called(ctx, videoID, image, contentType)
	return args.Error(0)
}

func (m *mockUploader) SetPrivacy(ctx context.Context, videoID, privacy string) error {
	args := m.Called(ctx, videoID, privacy)
	return args.Error(0)
}

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) Client(ctx context.Context, sessionID, userID string) (credentials.Uploader, error) {
	args := m.Called(ctx, sessionID, userID)
	if u, ok := args.Get(0).(credentials.Uploader); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
