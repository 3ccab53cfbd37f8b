package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/party-playlist-system/pkg/apperr"
	"github.com/party-playlist-system/pkg/database"
	"github.com/party-playlist-system/pkg/events"
	"github.com/party-playlist-system/pkg/models"
)

// SongInput is the caller-supplied song descriptor from a provider search
// result. ID and URI are required; everything else is display metadata.
type SongInput struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	AlbumArt   string `json:"albumArt"`
	URI        string `json:"uri"`
	DurationMs int    `json:"durationMs"`
}

// EventPublisher is the slice of the Kafka client the queue service needs.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType events.EventType, sessionID string, payload interface{}) error
	PublishVoteUpdate(ctx context.Context, sessionID, itemID string, totalVotes int) error
}

type Service struct {
	db     *database.DB
	events EventPublisher

	// Serializes queue read-modify-writes per session: Add's
	// check-then-create and the vote mutations. Without it two
	// concurrent votes both read the same count and the last writer
	// drops the other voter.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewService(db *database.DB, events EventPublisher) *Service {
	return &Service{
		db:     db,
		events: events,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *Service) sessionLock(sessionID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// resolveSong returns the cached song for the descriptor's track ID,
// creating it on first reference. Differing display fields on later calls
// are ignored; songs are immutable once stored.
func (s *Service) resolveSong(input SongInput) (*models.Song, error) {
	if strings.TrimSpace(input.ID) == "" || strings.TrimSpace(input.URI) == "" {
		return nil, fmt.Errorf("song id and uri are required: %w", apperr.ErrInvalidSongData)
	}

	song, err := s.db.UpsertSong(&models.Song{
		ID:         input.ID,
		Title:      input.Title,
		Artist:     input.Artist,
		AlbumArt:   input.AlbumArt,
		URI:        input.URI,
		DurationMs: input.DurationMs,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store song: %w", err)
	}

	return song, nil
}

// LookupSongs batch-fetches cached songs; unknown IDs are omitted.
func (s *Service) LookupSongs(ctx context.Context, ids []string) ([]*models.Song, error) {
	songs, err := s.db.GetSongsByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up songs: %w", err)
	}
	return songs, nil
}

// Add puts a song on a session's queue. Resubmitting a song that is
// already queued and unplayed counts as a vote from the submitter instead
// of creating a duplicate entry.
func (s *Service) Add(ctx context.Context, sessionID string, input SongInput, voterID string) (*models.QueueItem, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, apperr.ErrValidation)
	}

	song, err := s.resolveSong(input)
	if err != nil {
		return nil, err
	}

	lock := s.sessionLock(sid)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.db.GetUnplayedItem(sid, song.ID)
	if err == nil {
		if voterID != "" && !existing.HasVoter(voterID) {
			return s.upvoteLocked(ctx, existing.ID, voterID)
		}
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check queue: %w", err)
	}

	item := &models.QueueItem{
		ID:        uuid.New(),
		SessionID: sid,
		SongID:    song.ID,
		Song:      *song,
		VoterIDs:  []string{},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if voterID != "" {
		item.Votes = 1
		item.VoterIDs = []string{voterID}
	}

	if err := s.db.CreateQueueItem(item); err != nil {
		return nil, fmt.Errorf("failed to add to queue: %w", err)
	}

	s.publish(ctx, events.EventTypeSongAdded, sid.String(), events.SongAddedPayload{
		QueueItemID: item.ID.String(),
		TrackID:     song.ID,
		Title:       song.Title,
		Artist:      song.Artist,
		Votes:       item.Votes,
	})

	return item, nil
}

// List returns the session's queue ordered by descending vote count, ties
// kept in insertion order. Played entries only appear when includePlayed
// is set.
func (s *Service) List(ctx context.Context, sessionID string, includePlayed bool) ([]*models.QueueItem, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, apperr.ErrValidation)
	}

	items, err := s.db.GetQueue(sid, includePlayed)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	return items, nil
}

// Upvote adds voterID's vote. A voter already in the set is a no-op; the
// unchanged item is returned.
func (s *Service) Upvote(ctx context.Context, itemID, voterID string) (*models.QueueItem, error) {
	item, err := s.getItem(itemID)
	if err != nil {
		return nil, err
	}

	lock := s.sessionLock(item.SessionID)
	lock.Lock()
	defer lock.Unlock()

	return s.upvoteLocked(ctx, item.ID, voterID)
}

// upvoteLocked re-reads the entry under the session lock so concurrent
// votes see each other's writes. Caller holds the session lock.
func (s *Service) upvoteLocked(ctx context.Context, itemID uuid.UUID, voterID string) (*models.QueueItem, error) {
	item, err := s.getItemByID(itemID)
	if err != nil {
		return nil, err
	}

	if item.HasVoter(voterID) {
		return item, nil
	}

	item.Votes++
	item.VoterIDs = append(item.VoterIDs, voterID)
	item.UpdatedAt = time.Now()

	if err := s.db.UpdateQueueItem(item); err != nil {
		return nil, fmt.Errorf("failed to store vote: %w", err)
	}

	s.publishVote(ctx, item)

	return item, nil
}

// RemoveVote withdraws voterID's vote. A voter not in the set is a no-op.
// Membership gates the decrement, so the count never goes negative.
func (s *Service) RemoveVote(ctx context.Context, itemID, voterID string) (*models.QueueItem, error) {
	item, err := s.getItem(itemID)
	if err != nil {
		return nil, err
	}

	lock := s.sessionLock(item.SessionID)
	lock.Lock()
	defer lock.Unlock()

	item, err = s.getItemByID(item.ID)
	if err != nil {
		return nil, err
	}

	if !item.HasVoter(voterID) {
		return item, nil
	}

	voters := make([]string, 0, len(item.VoterIDs)-1)
	for _, id := range item.VoterIDs {
		if id != voterID {
			voters = append(voters, id)
		}
	}

	item.Votes--
	item.VoterIDs = voters
	item.UpdatedAt = time.Now()

	if err := s.db.UpdateQueueItem(item); err != nil {
		return nil, fmt.Errorf("failed to remove vote: %w", err)
	}

	s.publishVote(ctx, item)

	return item, nil
}

// MarkPlayed retires the entry. Played is terminal; the entry stays
// queryable through List with includePlayed but is skipped by NextSong.
func (s *Service) MarkPlayed(ctx context.Context, itemID string) (*models.QueueItem, error) {
	item, err := s.getItem(itemID)
	if err != nil {
		return nil, err
	}

	lock := s.sessionLock(item.SessionID)
	lock.Lock()
	defer lock.Unlock()

	item, err = s.getItemByID(item.ID)
	if err != nil {
		return nil, err
	}

	item.Played = true
	item.UpdatedAt = time.Now()

	if err := s.db.UpdateQueueItem(item); err != nil {
		return nil, fmt.Errorf("failed to mark as played: %w", err)
	}

	return item, nil
}

// NextSong returns the highest-voted unplayed entry, or nil when the
// queue is empty or fully played.
func (s *Service) NextSong(ctx context.Context, sessionID string) (*models.QueueItem, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, apperr.ErrValidation)
	}

	item, err := s.db.GetNextSong(sid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next song: %w", err)
	}
	return item, nil
}

// Remove physically deletes the entry and returns its last state.
func (s *Service) Remove(ctx context.Context, itemID string) (*models.QueueItem, error) {
	item, err := s.getItem(itemID)
	if err != nil {
		return nil, err
	}

	if err := s.db.DeleteQueueItem(item); err != nil {
		return nil, fmt.Errorf("failed to remove from queue: %w", err)
	}

	s.publish(ctx, events.EventTypeQueueRemoved, item.SessionID.String(), events.QueueRemovedPayload{
		QueueItemID: item.ID.String(),
	})

	return item, nil
}

func (s *Service) getItem(itemID string) (*models.QueueItem, error) {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return nil, fmt.Errorf("queue item %q: %w", itemID, apperr.ErrNotFound)
	}
	return s.getItemByID(id)
}

func (s *Service) getItemByID(id uuid.UUID) (*models.QueueItem, error) {
	item, err := s.db.GetQueueItem(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("queue item %q: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// Event publishing is telemetry for the live WebSocket feed; a broker
// outage must not fail the queue mutation that already committed.
func (s *Service) publish(ctx context.Context, eventType events.EventType, sessionID string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, sessionID, payload); err != nil {
		log.Printf("Warning: failed to publish %s event: %v", eventType, err)
	}
}

func (s *Service) publishVote(ctx context.Context, item *models.QueueItem) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishVoteUpdate(ctx, item.SessionID.String(), item.ID.String(), item.Votes); err != nil {
		log.Printf("Warning: failed to publish vote update: %v", err)
	}
}
