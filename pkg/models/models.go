package models

import (
	"time"

	"github.com/google/uuid"
)

// Song is cached display metadata for a provider track. Rows are immutable
// after first insert and never deleted; the provider-assigned track ID is
// the primary key.
type Song struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	AlbumArt   string    `json:"album_art"`
	URI        string    `json:"uri"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is one party's shared listening context. Deactivation is logical
// (Active -> false); rows are never physically removed.
type Session struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey"`
	Name          string    `json:"name"`
	HostID        string    `json:"host_id"`
	DeviceID      string    `json:"device_id"`
	AccessToken   string    `json:"access_token"`
	Active        bool      `json:"active"`
	CurrentSongID *string   `json:"current_song_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// QueueItem is one song's standing within a session's queue. Invariant:
// Votes == len(VoterIDs), each voter counted at most once. At most one
// unplayed item exists per (session, song) pair.
type QueueItem struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	SessionID uuid.UUID `json:"session_id" gorm:"index:idx_queue_session_song"`
	SongID    string    `json:"song_id" gorm:"index:idx_queue_session_song"`
	Song      Song      `json:"song" gorm:"foreignKey:SongID"`
	Votes     int       `json:"votes"`
	VoterIDs  []string  `json:"voter_ids" gorm:"serializer:json"`
	Played    bool      `json:"played"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasVoter reports whether voterID already contributed a vote.
func (q *QueueItem) HasVoter(voterID string) bool {
	for _, id := range q.VoterIDs {
		if id == voterID {
			return true
		}
	}
	return false
}

// PlaybackState mirrors a session's player UI state. One row per session,
// created lazily with defaults: not playing, zero progress, full volume.
type PlaybackState struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	SessionID uuid.UUID `json:"session_id" gorm:"uniqueIndex"`
	IsPlaying bool      `json:"is_playing"`
	Progress  int       `json:"progress"`
	Volume    int       `json:"volume"`
	UpdatedAt time.Time `json:"updated_at"`
}
