package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"ytbatch-uploader/internal/config"
)

// ErrUnauthorized means the refresh token was rejected and the user must sign in again
var ErrUnauthorized = errors.New("youtube credentials rejected")

// refreshMargin is how long before expiry an access token is renewed
const refreshMargin = time.Minute

// Token is the OAuth state of one signed-in user
type Token struct {
	AccessToken  string
	Expiry       time.Time
	RefreshToken string
}

func (t Token) valid(now time.Time) bool {
	return t.AccessToken != "" && (t.Expiry.IsZero() || now.Add(refreshMargin).Before(t.Expiry))
}

// RotateFunc receives every token the client obtains so it can be persisted
type RotateFunc func(ctx context.Context, tok Token)

// VideoMetadata describes the resource created by InsertVideo
type VideoMetadata struct {
	Title         string
	Description   string
	PrivacyStatus string
	PublishAt     *time.Time
}

// APIError is a non-2xx answer from Google
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("youtube api error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client talks to the YouTube Data API on behalf of one user
type Client struct {
	cfg      config.YouTubeConfig
	http     *resty.Client // metadata calls, retried
	upload   *resty.Client // streamed media, never retried
	onRotate RotateFunc
	now      func() time.Time

	mu    sync.Mutex
	token Token
}

type contentLengthKey struct{}

// NewClient creates a YouTube client. onRotate may be nil.
func NewClient(cfg config.YouTubeConfig, tok Token, onRotate RotateFunc) *Client {
	client := &Client{
		cfg:      cfg,
		onRotate: onRotate,
		now:      time.Now,
		token:    tok,
	}

	client.http = resty.New().
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		}).
		OnBeforeRequest(client.authorize)

	// Media bodies are streamed from disk, so the request carries the file
	// size from the context instead of letting resty buffer the whole file
	client.upload = resty.New().
		SetTimeout(cfg.UploadTimeout).
		OnBeforeRequest(client.authorize).
		SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
			if n, ok := req.Context().Value(contentLengthKey{}).(int64); ok {
				req.ContentLength = n
			}
			return nil
		})

	return client
}

// Token returns the current OAuth state
func (c *Client) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// InsertVideo uploads a video with a resumable session and returns its id
func (c *Client) InsertVideo(ctx context.Context, meta VideoMetadata, media io.Reader, size int64) (string, error) {
	status := map[string]interface{}{
		"privacyStatus":           meta.PrivacyStatus,
		"selfDeclaredMadeForKids": false,
	}
	if meta.PublishAt != nil {
		status["publishAt"] = meta.PublishAt.UTC().Format(time.RFC3339)
	}
	resource := map[string]interface{}{
		"snippet": map[string]interface{}{
			"title":       meta.Title,
			"description": meta.Description,
		},
		"status": status,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"uploadType": "resumable", "part": "snippet,status"}).
		SetHeader("X-Upload-Content-Length", strconv.FormatInt(size, 10)).
		SetHeader("X-Upload-Content-Type", "video/*").
		SetBody(resource).
		Post(c.endpoint(c.cfg.UploadURL, "videos"))
	if err != nil {
		return "", fmt.Errorf("failed to start upload session: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return "", err
	}
	location := resp.Header().Get("Location")
	if location == "" {
		return "", fmt.Errorf("upload session response has no Location header")
	}

	var video struct {
		ID string `json:"id"`
	}
	resp, err = c.upload.R().
		SetContext(context.WithValue(ctx, contentLengthKey{}, size)).
		SetHeader("Content-Type", "video/*").
		SetBody(media).
		SetResult(&video).
		Put(location)
	if err != nil {
		return "", fmt.Errorf("failed to upload video: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return "", err
	}
	if video.ID == "" {
		return "", fmt.Errorf("upload response has no video id")
	}
	return video.ID, nil
}

// SetThumbnail attaches a custom thumbnail to a video
func (c *Client) SetThumbnail(ctx context.Context, videoID string, image []byte, contentType string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("videoId", videoID).
		SetHeader("Content-Type", contentType).
		SetBody(image).
		Post(c.endpoint(c.cfg.UploadURL, "thumbnails/set"))
	if err != nil {
		return fmt.Errorf("failed to set thumbnail: %w", err)
	}
	return checkResponse(resp)
}

// SetPrivacy changes the privacy status of a video
func (c *Client) SetPrivacy(ctx context.Context, videoID, privacy string) error {
	body := map[string]interface{}{
		"id":     videoID,
		"status": map[string]string{"privacyStatus": privacy},
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("part", "status").
		SetBody(body).
		Put(c.endpoint(c.cfg.APIURL, "videos"))
	if err != nil {
		return fmt.Errorf("failed to update privacy: %w", err)
	}
	return checkResponse(resp)
}

// ChannelTitle returns the title of the authenticated user's channel
func (c *Client) ChannelTitle(ctx context.Context) (string, error) {
	var result struct {
		Items []struct {
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"part": "snippet", "mine": "true"}).
		SetResult(&result).
		Get(c.endpoint(c.cfg.APIURL, "channels"))
	if err != nil {
		return "", fmt.Errorf("failed to fetch channel: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return "", err
	}
	if len(result.Items) == 0 {
		return "", fmt.Errorf("account has no youtube channel")
	}
	return result.Items[0].Snippet.Title, nil
}

// authorize attaches a fresh access token to every request
func (c *Client) authorize(_ *resty.Client, req *resty.Request) error {
	token, err := c.accessToken(req.Context())
	if err != nil {
		return err
	}
	req.SetAuthToken(token)
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.valid(c.now()) {
		return c.token.AccessToken, nil
	}
	if c.token.RefreshToken == "" {
		return "", fmt.Errorf("%w: access token expired and no refresh token stored", ErrUnauthorized)
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	resp, err := resty.New().SetTimeout(30*time.Second).R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": c.token.RefreshToken,
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
		}).
		SetResult(&result).
		Post(c.cfg.TokenURL)
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	if resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, strings.TrimSpace(resp.String()))
	}
	if !resp.IsSuccess() || result.AccessToken == "" {
		return "", fmt.Errorf("token refresh failed with status %d", resp.StatusCode())
	}

	c.token.AccessToken = result.AccessToken
	c.token.Expiry = time.Time{}
	if result.ExpiresIn > 0 {
		c.token.Expiry = c.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	if result.RefreshToken != "" {
		c.token.RefreshToken = result.RefreshToken
	}
	if c.onRotate != nil {
		c.onRotate(ctx, c.token)
	}
	return c.token.AccessToken, nil
}

func (c *Client) endpoint(base, path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), strings.TrimPrefix(path, "/"))
}

// checkResponse turns a non-2xx response into an APIError carrying Google's message
func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(resp.String())
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}
