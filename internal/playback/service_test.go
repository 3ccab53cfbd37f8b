package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/party-playlist-system/pkg/apperr"
	"github.com/party-playlist-system/pkg/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	db, err := database.New(gdb)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewService(db)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	t.Run("NotFoundBeforeFirstWrite", func(t *testing.T) {
		if _, err := s.Get(ctx, uuid.New().String()); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("LazyCreateWithDefaults", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		playing := true
		state, err := s.Update(ctx, sessionID, UpdateStateInput{IsPlaying: &playing})
		if err != nil {
			t.Fatalf("failed to upsert playback state: %v", err)
		}

		if !state.IsPlaying {
			t.Error("isPlaying not applied")
		}
		if state.Progress != 0 {
			t.Errorf("default progress must be 0, got %d", state.Progress)
		}
		if state.Volume != 100 {
			t.Errorf("default volume must be 100, got %d", state.Volume)
		}
	})

	t.Run("PartialUpdateKeepsOtherFields", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		playing := true
		volume := 40
		if _, err := s.Update(ctx, sessionID, UpdateStateInput{IsPlaying: &playing, Volume: &volume}); err != nil {
			t.Fatalf("failed to upsert playback state: %v", err)
		}

		progress := 12000
		state, err := s.Update(ctx, sessionID, UpdateStateInput{Progress: &progress})
		if err != nil {
			t.Fatalf("failed to update playback state: %v", err)
		}

		if !state.IsPlaying || state.Volume != 40 || state.Progress != 12000 {
			t.Errorf("partial update clobbered fields: %+v", state)
		}
	})

	t.Run("SingleRowPerSession", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		playing := true
		first, _ := s.Update(ctx, sessionID, UpdateStateInput{IsPlaying: &playing})
		paused := false
		second, err := s.Update(ctx, sessionID, UpdateStateInput{IsPlaying: &paused})
		if err != nil {
			t.Fatalf("failed to update playback state: %v", err)
		}
		if first.ID != second.ID {
			t.Error("updates must reuse the session's single state row")
		}
	})
}
