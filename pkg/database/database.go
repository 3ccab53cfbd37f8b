package database

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/party-playlist-system/pkg/models"
)

type DB struct {
	*gorm.DB
}

// NewMySQLDB opens the production MySQL store and runs migrations.
func NewMySQLDB(host, port, user, password, dbname string) (*DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db)
}

// New wraps an already-open gorm.DB and runs migrations. Tests use this
// with an in-memory SQLite database.
func New(db *gorm.DB) (*DB, error) {
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &DB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	return db.AutoMigrate(
		&models.Song{},
		&models.Session{},
		&models.QueueItem{},
		&models.PlaybackState{},
	)
}

// Song operations

// UpsertSong inserts the song if its track ID is unknown and returns the
// stored row. Songs are immutable, so a conflicting insert is simply
// ignored and the existing row returned.
func (db *DB) UpsertSong(song *models.Song) (*models.Song, error) {
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(song).Error; err != nil {
		return nil, err
	}

	var stored models.Song
	if err := db.First(&stored, "id = ?", song.ID).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (db *DB) GetSongByID(id string) (*models.Song, error) {
	var song models.Song
	if err := db.First(&song, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &song, nil
}

// GetSongsByIDs batch-fetches songs; unknown IDs are omitted, not errors.
func (db *DB) GetSongsByIDs(ids []string) ([]*models.Song, error) {
	var songs []*models.Song
	if err := db.Where("id IN ?", ids).Find(&songs).Error; err != nil {
		return nil, err
	}
	return songs, nil
}

// Session operations

func (db *DB) CreateSession(session *models.Session) error {
	return db.Create(session).Error
}

func (db *DB) GetSessionByID(id uuid.UUID) (*models.Session, error) {
	var session models.Session
	if err := db.First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (db *DB) UpdateSession(session *models.Session) error {
	return db.Save(session).Error
}

func (db *DB) GetActiveSessions() ([]*models.Session, error) {
	var sessions []*models.Session
	if err := db.Where("active = ?", true).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// Queue operations

// Songs are immutable and upserted separately, so queue writes never
// touch the association.
func (db *DB) CreateQueueItem(item *models.QueueItem) error {
	return db.Omit("Song").Create(item).Error
}

func (db *DB) GetQueueItem(id uuid.UUID) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := db.Preload("Song").First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// GetQueue returns the session's entries ordered by descending vote count.
// Equal counts keep insertion order. Played entries are excluded unless
// includePlayed is set.
func (db *DB) GetQueue(sessionID uuid.UUID, includePlayed bool) ([]*models.QueueItem, error) {
	query := db.Preload("Song").Where("session_id = ?", sessionID)
	if !includePlayed {
		query = query.Where("played = ?", false)
	}

	var items []*models.QueueItem
	if err := query.Order("votes DESC, created_at ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// GetUnplayedItem finds the session's unplayed entry for a song, if any.
func (db *DB) GetUnplayedItem(sessionID uuid.UUID, songID string) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := db.Preload("Song").
		Where("session_id = ? AND song_id = ? AND played = ?", sessionID, songID, false).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (db *DB) UpdateQueueItem(item *models.QueueItem) error {
	return db.Omit("Song").Save(item).Error
}

func (db *DB) DeleteQueueItem(item *models.QueueItem) error {
	return db.Delete(item).Error
}

// GetNextSong returns the highest-voted unplayed entry for the session.
func (db *DB) GetNextSong(sessionID uuid.UUID) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := db.Preload("Song").
		Where("session_id = ? AND played = ?", sessionID, false).
		Order("votes DESC, created_at ASC").
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Playback state operations

func (db *DB) GetPlaybackState(sessionID uuid.UUID) (*models.PlaybackState, error) {
	var state models.PlaybackState
	if err := db.First(&state, "session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func (db *DB) SavePlaybackState(state *models.PlaybackState) error {
	return db.Save(state).Error
}
