package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/party-playlist-system/pkg/apperr"
	"github.com/party-playlist-system/pkg/database"
	"github.com/party-playlist-system/pkg/models"
)

const (
	sessionKeyPrefix = "session:"
	cacheTTL         = 24 * time.Hour
)

type CreateSessionInput struct {
	Name        string
	HostID      string
	DeviceID    string
	AccessToken string
}

// UpdateSessionInput carries a partial update; nil fields are left as-is.
type UpdateSessionInput struct {
	Name        *string
	HostID      *string
	DeviceID    *string
	AccessToken *string
	Active      *bool
}

type Service struct {
	db    *database.DB
	cache *redis.Client
}

func NewService(db *database.DB, cache *redis.Client) *Service {
	return &Service{
		db:    db,
		cache: cache,
	}
}

func (s *Service) Create(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("session name is required: %w", apperr.ErrValidation)
	}

	session := &models.Session{
		ID:          uuid.New(),
		Name:        input.Name,
		HostID:      input.HostID,
		DeviceID:    input.DeviceID,
		AccessToken: input.AccessToken,
		Active:      true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.db.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.cacheSession(ctx, session)

	return session, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", id, apperr.ErrNotFound)
	}

	// Try cache first
	if s.cache != nil {
		key := sessionKeyPrefix + id
		sessionJSON, err := s.cache.Get(ctx, key).Bytes()
		if err == nil {
			var session models.Session
			if err := json.Unmarshal(sessionJSON, &session); err == nil {
				return &session, nil
			}
		}
	}

	session, err := s.db.GetSessionByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %q: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.cacheSession(ctx, session)

	return session, nil
}

func (s *Service) Update(ctx context.Context, id string, input UpdateSessionInput) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("session name is required: %w", apperr.ErrValidation)
		}
		session.Name = *input.Name
	}
	if input.HostID != nil {
		session.HostID = *input.HostID
	}
	if input.DeviceID != nil {
		session.DeviceID = *input.DeviceID
	}
	if input.AccessToken != nil {
		session.AccessToken = *input.AccessToken
	}
	if input.Active != nil {
		session.Active = *input.Active
	}
	session.UpdatedAt = time.Now()

	if err := s.db.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	s.cacheSession(ctx, session)

	return session, nil
}

// SetCurrentSong records which song the session is playing; a nil songID
// clears the reference.
func (s *Service) SetCurrentSong(ctx context.Context, id string, songID *string) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	session.CurrentSongID = songID
	session.UpdatedAt = time.Now()

	if err := s.db.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	s.cacheSession(ctx, session)

	return session, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*models.Session, error) {
	sessions, err := s.db.GetActiveSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Deactivate flips the active flag off. Re-deactivating an inactive
// session succeeds without further state change.
func (s *Service) Deactivate(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !session.Active {
		return session, nil
	}

	session.Active = false
	session.UpdatedAt = time.Now()

	if err := s.db.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to deactivate session: %w", err)
	}

	s.cacheSession(ctx, session)

	return session, nil
}

func (s *Service) cacheSession(ctx context.Context, session *models.Session) {
	if s.cache == nil {
		return
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return
	}

	key := sessionKeyPrefix + session.ID.String()
	if err := s.cache.Set(ctx, key, sessionJSON, cacheTTL).Err(); err != nil {
		log.Printf("Warning: failed to cache session: %v", err)
	}
}
