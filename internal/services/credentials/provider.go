package credentials

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"ytbatch-uploader/internal/api"
	"ytbatch-uploader/internal/config"
	"ytbatch-uploader/internal/services/session"
)

// Uploader is the slice of the YouTube API the worker needs
type Uploader interface {
	InsertVideo(ctx context.Context, meta api.VideoMetadata, media io.Reader, size int64) (string, error)
	SetThumbnail(ctx context.Context, videoID string, image []byte, contentType string) error
	SetPrivacy(ctx context.Context, videoID, privacy string) error
}

// SessionStore resolves and updates stored sessions
type SessionStore interface {
	Resolve(ctx context.Context, sessionID, userID string) (*session.Credential, error)
	UpdateTokens(ctx context.Context, sessionID, accessToken string, expiry *time.Time, refreshToken string) error
}

// Provider hands out authenticated API clients for job owners
type Provider struct {
	sessions SessionStore
	cfg      config.YouTubeConfig
	cache    *api.ClientCache
}

// NewProvider creates a provider. Clients are cached per session.
func NewProvider(sessions SessionStore, cfg config.YouTubeConfig) *Provider {
	return &Provider{
		sessions: sessions,
		cfg:      cfg,
		cache:    api.NewClientCache(32),
	}
}

// Check reports whether the owner has a usable credential
func (p *Provider) Check(ctx context.Context, sessionID, userID string) error {
	_, err := p.sessions.Resolve(ctx, sessionID, userID)
	return err
}

// Client resolves the owner's session fresh from storage and returns a client
// for it. A cached client is reused while its refresh token still matches
// the stored one.
func (p *Provider) Client(ctx context.Context, sessionID, userID string) (Uploader, error) {
	c, err := p.client(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// APIClient is Client without the interface narrowing
func (p *Provider) APIClient(ctx context.Context, sessionID, userID string) (*api.Client, error) {
	return p.client(ctx, sessionID, userID)
}

// Forget drops the cached client of a session whose credential was rejected
func (p *Provider) Forget(sessionID string) {
	p.cache.Remove(sessionID)
}

func (p *Provider) client(ctx context.Context, sessionID, userID string) (*api.Client, error) {
	cred, err := p.sessions.Resolve(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	if c, ok := p.cache.Get(cred.SessionID); ok && c.Token().RefreshToken == cred.RefreshToken {
		return c, nil
	}

	tok := api.Token{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken}
	if cred.TokenExpiry != nil {
		tok.Expiry = *cred.TokenExpiry
	}
	c := api.NewClient(p.cfg, tok, p.persist(cred.SessionID))
	p.cache.Put(cred.SessionID, c)
	return c, nil
}

// persist writes rotated tokens back so other processes pick them up
func (p *Provider) persist(sessionID string) api.RotateFunc {
	return func(ctx context.Context, tok api.Token) {
		var expiry *time.Time
		if !tok.Expiry.IsZero() {
			e := tok.Expiry
			expiry = &e
		}
		if err := p.sessions.UpdateTokens(context.WithoutCancel(ctx), sessionID, tok.AccessToken, expiry, tok.RefreshToken); err != nil {
			log.Printf("WARNING: Failed to persist refreshed token for session %s: %v", sessionID, err)
		}
	}
}
