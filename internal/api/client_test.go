package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytbatch-uploader/internal/config"
)

type fakeYouTube struct {
	mu           sync.Mutex
	srv          *httptest.Server
	refreshes    int
	resource     map[string]interface{}
	uploaded     string
	uploadLength int64
	thumbnail    string
	thumbType    string
	privacy      map[string]interface{}
	authHeaders  []string
}

func newFakeYouTube(t *testing.T) *fakeYouTube {
	f := &fakeYouTube{}
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.refreshes++
		f.mu.Unlock()
		if r.Form.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-2","expires_in":3600,"refresh_token":"refresh-2"}`))
	})

	mux.HandleFunc("/upload/videos", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.resource = body
		f.mu.Unlock()
		w.Header().Set("Location", f.srv.URL+"/session/1")
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/session/1", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded = string(data)
		f.uploadLength = r.ContentLength
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"vid-123"}`))
	})

	mux.HandleFunc("/upload/thumbnails/set", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.URL.Query().Get("videoId") == "forbidden" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"thumbnails not allowed"}}`))
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.thumbnail = string(data)
		f.thumbType = r.Header.Get("Content-Type")
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})

	mux.HandleFunc("/api/videos", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.privacy = body
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})

	mux.HandleFunc("/api/channels", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"snippet":{"title":"My Channel"}}]}`))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeYouTube) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
}

func (f *fakeYouTube) config() config.YouTubeConfig {
	return config.YouTubeConfig{
		ClientID:      "client",
		ClientSecret:  "secret",
		TokenURL:      f.srv.URL + "/token",
		APIURL:        f.srv.URL + "/api",
		UploadURL:     f.srv.URL + "/upload",
		UploadTimeout: 10 * time.Second,
	}
}

func TestTokenRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("Should refresh an expired token and report the rotation", func(t *testing.T) {
		f := newFakeYouTube(t)
		var rotated []Token
		c := NewClient(f.config(), Token{RefreshToken: "refresh-1"}, func(_ context.Context, tok Token) {
			rotated = append(rotated, tok)
		})

		title, err := c.ChannelTitle(ctx)
		require.NoError(t, err)
		assert.Equal(t, "My Channel", title)

		require.Len(t, rotated, 1)
		assert.Equal(t, "access-2", rotated[0].AccessToken)
		assert.Equal(t, "refresh-2", rotated[0].RefreshToken)
		assert.Equal(t, "refresh-2", c.Token().RefreshToken)
		assert.Equal(t, []string{"Bearer access-2"}, f.authHeaders)
	})

	t.Run("Should reuse a valid access token", func(t *testing.T) {
		f := newFakeYouTube(t)
		tok := Token{AccessToken: "access-1", Expiry: time.Now().Add(time.Hour), RefreshToken: "refresh-1"}
		c := NewClient(f.config(), tok, nil)

		_, err := c.ChannelTitle(ctx)
		require.NoError(t, err)
		_, err = c.ChannelTitle(ctx)
		require.NoError(t, err)

		assert.Zero(t, f.refreshes)
		assert.Equal(t, []string{"Bearer access-1", "Bearer access-1"}, f.authHeaders)
	})

	t.Run("Should report rejected credentials", func(t *testing.T) {
		f := newFakeYouTube(t)
		c := NewClient(f.config(), Token{RefreshToken: "revoked"}, nil)

		_, err := c.ChannelTitle(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnauthorized))
	})

	t.Run("Should fail without any token", func(t *testing.T) {
		f := newFakeYouTube(t)
		c := NewClient(f.config(), Token{}, nil)

		_, err := c.ChannelTitle(ctx)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Zero(t, f.refreshes)
	})
}

func TestInsertVideo(t *testing.T) {
	ctx := context.Background()
	f := newFakeYouTube(t)
	c := NewClient(f.config(), Token{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil)

	t.Run("Should upload through a resumable session", func(t *testing.T) {
		publishAt := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
		media := "fake video bytes"
		id, err := c.InsertVideo(ctx, VideoMetadata{
			Title:         "Title",
			Description:   "Desc",
			PrivacyStatus: "private",
			PublishAt:     &publishAt,
		}, strings.NewReader(media), int64(len(media)))
		require.NoError(t, err)
		assert.Equal(t, "vid-123", id)

		assert.Equal(t, media, f.uploaded)
		assert.Equal(t, int64(len(media)), f.uploadLength)

		snippet := f.resource["snippet"].(map[string]interface{})
		status := f.resource["status"].(map[string]interface{})
		assert.Equal(t, "Title", snippet["title"])
		assert.Equal(t, "private", status["privacyStatus"])
		assert.Equal(t, "2026-07-01T10:00:00Z", status["publishAt"])
	})

	t.Run("Should omit publishAt for immediate uploads", func(t *testing.T) {
		_, err := c.InsertVideo(ctx, VideoMetadata{Title: "T", PrivacyStatus: "public"}, strings.NewReader("x"), 1)
		require.NoError(t, err)
		status := f.resource["status"].(map[string]interface{})
		_, has := status["publishAt"]
		assert.False(t, has)
	})
}

func TestSetThumbnailAndPrivacy(t *testing.T) {
	ctx := context.Background()
	f := newFakeYouTube(t)
	c := NewClient(f.config(), Token{AccessToken: "access-1"}, nil)

	t.Run("Should send the thumbnail image", func(t *testing.T) {
		require.NoError(t, c.SetThumbnail(ctx, "vid-123", []byte("png-bytes"), "image/png"))
		assert.Equal(t, "png-bytes", f.thumbnail)
		assert.Equal(t, "image/png", f.thumbType)
	})

	t.Run("Should surface the API error message", func(t *testing.T) {
		err := c.SetThumbnail(ctx, "forbidden", []byte("x"), "image/jpeg")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Equal(t, "thumbnails not allowed", apiErr.Message)
	})

	t.Run("Should update the privacy status", func(t *testing.T) {
		require.NoError(t, c.SetPrivacy(ctx, "vid-123", "unlisted"))
		assert.Equal(t, "vid-123", f.privacy["id"])
		status := f.privacy["status"].(map[string]interface{})
		assert.Equal(t, "unlisted", status["privacyStatus"])
	})
}
