package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/party-playlist-system/pkg/apperr"
	"github.com/party-playlist-system/pkg/database"
	"github.com/party-playlist-system/pkg/models"
)

const defaultVolume = 100

// UpdateStateInput is a partial playback-state update; nil fields keep
// their current (or default) values.
type UpdateStateInput struct {
	IsPlaying *bool
	Progress  *int
	Volume    *int
}

type Service struct {
	db *database.DB
}

func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Get(ctx context.Context, sessionID string) (*models.PlaybackState, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, apperr.ErrNotFound)
	}

	state, err := s.db.GetPlaybackState(sid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("playback state for session %q: %w", sessionID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get playback state: %w", err)
	}
	return state, nil
}

// Update upserts the session's playback state. The row is created lazily
// on first reference: not playing, zero progress, full volume.
func (s *Service) Update(ctx context.Context, sessionID string, input UpdateStateInput) (*models.PlaybackState, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, apperr.ErrValidation)
	}

	state, err := s.db.GetPlaybackState(sid)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get playback state: %w", err)
		}
		state = &models.PlaybackState{
			ID:        uuid.New(),
			SessionID: sid,
			Volume:    defaultVolume,
		}
	}

	if input.IsPlaying != nil {
		state.IsPlaying = *input.IsPlaying
	}
	if input.Progress != nil {
		state.Progress = *input.Progress
	}
	if input.Volume != nil {
		state.Volume = *input.Volume
	}
	state.UpdatedAt = time.Now()

	if err := s.db.SavePlaybackState(state); err != nil {
		return nil, fmt.Errorf("failed to save playback state: %w", err)
	}

	return state, nil
}
