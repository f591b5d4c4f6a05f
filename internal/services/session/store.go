package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ytbatch-uploader/internal/crypto"
	"ytbatch-uploader/internal/models"
)

// ErrNoCredential is returned when no authenticated session can be found
var ErrNoCredential = errors.New("no usable credential")

// Credential is a decrypted, ready-to-use session
type Credential struct {
	SessionID    string
	UserID       string
	ChannelTitle string
	AccessToken  string
	TokenExpiry  *time.Time
	RefreshToken string
}

// Store persists OAuth sessions and keeps the userId -> sessionId index.
// Every read goes to the database so that refreshes made by another
// process are observed.
type Store struct {
	db *gorm.DB
}

// NewStore creates a session store on db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Save creates or updates a session from a credential. The refresh token is
// encrypted at rest. When the credential has a user id the index is pointed
// at this session.
func (s *Store) Save(ctx context.Context, cred Credential) (*models.Session, error) {
	enc, err := crypto.EncryptToken(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	sess := &models.Session{
		ID:              cred.SessionID,
		UserID:          cred.UserID,
		ChannelTitle:    cred.ChannelTitle,
		Authenticated:   cred.RefreshToken != "" || cred.AccessToken != "",
		AccessToken:     cred.AccessToken,
		TokenExpiry:     cred.TokenExpiry,
		RefreshTokenEnc: enc,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sess.ID == "" {
			if err := tx.Create(sess).Error; err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}
		} else {
			var existing models.Session
			if err := tx.First(&existing, "id = ?", sess.ID).Error; err == nil {
				sess.CreatedAt = existing.CreatedAt
			}
			if err := tx.Save(sess).Error; err != nil {
				return fmt.Errorf("failed to save session: %w", err)
			}
		}
		if sess.UserID == "" {
			return nil
		}
		return upsertIndex(tx, sess.UserID, sess.ID)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateTokens records a token refresh. An empty refreshToken keeps the
// stored one; providers only return a new refresh token when they rotate it.
func (s *Store) UpdateTokens(ctx context.Context, sessionID, accessToken string, expiry *time.Time, refreshToken string) error {
	updates := map[string]interface{}{
		"access_token":  accessToken,
		"token_expiry":  expiry,
		"authenticated": true,
	}
	if refreshToken != "" {
		enc, err := crypto.EncryptToken(refreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		updates["refresh_token_enc"] = enc
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.Session
		if err := tx.First(&sess, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: session %s", ErrNoCredential, sessionID)
			}
			return fmt.Errorf("failed to load session: %w", err)
		}
		if err := tx.Model(&sess).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update session tokens: %w", err)
		}
		if sess.UserID == "" {
			return nil
		}
		return upsertIndex(tx, sess.UserID, sess.ID)
	})
}

// Get returns a stored session
func (s *Store) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNoCredential, sessionID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &sess, nil
}

// Resolve finds the credential for a job owner: the session itself when it
// is usable, otherwise the session the user most recently refreshed.
func (s *Store) Resolve(ctx context.Context, sessionID, userID string) (*Credential, error) {
	if sessionID != "" {
		sess, err := s.Get(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrNoCredential) {
			return nil, err
		}
		if err == nil && usable(sess) {
			return decrypt(sess)
		}
	}

	if userID != "" {
		var idx models.UserSession
		err := s.db.WithContext(ctx).First(&idx, "user_id = ?", userID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load user session index: %w", err)
		}
		if err == nil && idx.SessionID != sessionID {
			sess, err := s.Get(ctx, idx.SessionID)
			if err != nil && !errors.Is(err, ErrNoCredential) {
				return nil, err
			}
			if err == nil && usable(sess) {
				return decrypt(sess)
			}
		}
	}

	return nil, fmt.Errorf("%w: session=%q user=%q", ErrNoCredential, sessionID, userID)
}

// Delete removes a session and any index entry pointing at it
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.UserSession{}).Error; err != nil {
			return fmt.Errorf("failed to delete session index: %w", err)
		}
		if err := tx.Delete(&models.Session{}, "id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

func upsertIndex(tx *gorm.DB, userID, sessionID string) error {
	idx := models.UserSession{UserID: userID, SessionID: sessionID, UpdatedAt: time.Now()}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "updated_at"}),
	}).Create(&idx).Error
	if err != nil {
		return fmt.Errorf("failed to update user session index: %w", err)
	}
	return nil
}

func usable(sess *models.Session) bool {
	return sess.Authenticated && (sess.RefreshTokenEnc != "" || sess.AccessToken != "")
}

func decrypt(sess *models.Session) (*Credential, error) {
	refresh, err := crypto.DecryptToken(sess.RefreshTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt refresh token for session %s: %v", ErrNoCredential, sess.ID, err)
	}
	return &Credential{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		ChannelTitle: sess.ChannelTitle,
		AccessToken:  sess.AccessToken,
		TokenExpiry:  sess.TokenExpiry,
		RefreshToken: refresh,
	}, nil
}
