package reconciler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/party-playlist-system/internal/playback"
	"github.com/party-playlist-system/internal/spotify"
	"github.com/party-playlist-system/pkg/apperr"
	"github.com/party-playlist-system/pkg/events"
	"github.com/party-playlist-system/pkg/models"
	"github.com/party-playlist-system/pkg/redis"
)

// Player is the slice of the provider client the loop drives.
type Player interface {
	GetPlayback(ctx context.Context, accessToken string) (*spotify.PlaybackSnapshot, error)
	PlayTrack(ctx context.Context, accessToken, deviceID, trackURI string) error
}

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error)
}

// QueueStore is the slice of the queue service the loop reads and advances.
type QueueStore interface {
	List(ctx context.Context, sessionID string, includePlayed bool) ([]*models.QueueItem, error)
	MarkPlayed(ctx context.Context, itemID string) (*models.QueueItem, error)
}

// SessionStore resolves the session's device binding and credential and
// records the currently playing song.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	SetCurrentSong(ctx context.Context, id string, songID *string) (*models.Session, error)
}

// StateWriter mirrors the reconciled player state into the playback-state
// store so polling clients see fresh progress.
type StateWriter interface {
	Update(ctx context.Context, sessionID string, input playback.UpdateStateInput) (*models.PlaybackState, error)
}

// CredentialStore holds the session's provider tokens for the
// refresh-and-retry path.
type CredentialStore interface {
	GetTokens(ctx context.Context, sessionID string) (*redis.TokenInfo, error)
	RefreshToken(ctx context.Context, sessionID string, newAccessToken string, newExpiresAt time.Time) error
}

// EventPublisher announces song transitions on the event stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType events.EventType, sessionID string, payload interface{}) error
}

// Manager runs one reconciliation loop per playing session. Each loop
// polls the provider's live snapshot on a fixed cadence, extrapolates
// progress between fetches, and advances to the highest-voted unplayed
// entry when the current song ends.
type Manager struct {
	player   Player
	refresh  TokenRefresher
	queue    QueueStore
	sessions SessionStore
	state    StateWriter
	tokens   CredentialStore
	events   EventPublisher

	interval      time.Duration
	verifyEvery   int
	retryAttempts int
	retryDelay    time.Duration

	mu    sync.Mutex
	loops map[string]context.CancelFunc
}

func NewManager(player Player, refresh TokenRefresher, queue QueueStore, sessions SessionStore, state StateWriter, tokens CredentialStore, eventBus EventPublisher) *Manager {
	return &Manager{
		player:        player,
		refresh:       refresh,
		queue:         queue,
		sessions:      sessions,
		state:         state,
		tokens:        tokens,
		events:        eventBus,
		interval:      time.Second,
		verifyEvery:   3,
		retryAttempts: 3,
		retryDelay:    time.Second,
		loops:         make(map[string]context.CancelFunc),
	}
}

// Start launches the session's loop. Starting an already-running session
// is a no-op.
func (m *Manager) Start(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.loops[sessionID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.loops[sessionID] = cancel

	l := newLoop(m, sessionID)
	go func() {
		defer m.remove(sessionID)
		l.run(ctx)
	}()

	log.Printf("Reconciliation loop started for session %s", sessionID)
}

// Stop cancels the session's loop. An in-flight provider call is allowed
// to finish but its result is discarded once the context is done.
func (m *Manager) Stop(sessionID string) {
	m.mu.Lock()
	cancel, running := m.loops[sessionID]
	delete(m.loops, sessionID)
	m.mu.Unlock()

	if running {
		cancel()
		log.Printf("Reconciliation loop stopped for session %s", sessionID)
	}
}

// StopAll tears down every running loop; used on server shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cancel := range m.loops {
		cancel()
		delete(m.loops, id)
	}
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	delete(m.loops, sessionID)
	m.mu.Unlock()
}

// loop holds one session's transient reconciliation state. Nothing here
// is authoritative: the top queue entry is re-derived from the store each
// transition and the remote snapshot overwrites local extrapolation
// whenever it is fetched.
type loop struct {
	m         *Manager
	sessionID string

	currentTrackID string
	durationMs     int
	progressMs     float64
	playing        bool
	lastTick       time.Time
	ticks          int

	// Track we commanded but the remote has not reported yet. While set,
	// the same transition is not re-issued on later cycles.
	pendingTrackID string
}

func newLoop(m *Manager, sessionID string) *loop {
	return &loop{
		m:         m,
		sessionID: sessionID,
		lastTick:  time.Now(),
	}
}

// run executes cycles synchronously on the ticker goroutine. A slow cycle
// delays the next tick rather than overlapping it, which is the
// single-flight guard around the whole cycle, not just the transition
// sub-step.
func (l *loop) run(ctx context.Context) {
	ticker := time.NewTicker(l.m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

func (l *loop) cycle(ctx context.Context) {
	l.ticks++

	session, err := l.m.sessions.Get(ctx, l.sessionID)
	if err != nil {
		log.Printf("Reconciler: failed to load session %s: %v", l.sessionID, err)
		return
	}

	// Extrapolate progress locally between remote fetches so the UI
	// indicator stays smooth.
	now := time.Now()
	if l.playing && l.currentTrackID != "" {
		l.progressMs += float64(now.Sub(l.lastTick).Milliseconds())
		if l.durationMs > 0 && l.progressMs > float64(l.durationMs) {
			l.progressMs = float64(l.durationMs)
		}
	}
	l.lastTick = now

	songEnded := l.currentTrackID != "" && l.durationMs > 0 && l.progressMs >= float64(l.durationMs)

	// Remote snapshot is ground truth; fetch it on the verification
	// cadence or when extrapolation says the song is over.
	if !songEnded && l.ticks%l.m.verifyEvery != 0 {
		l.writeState(ctx)
		return
	}

	snapshot, err := l.fetchSnapshot(ctx, session)
	if err != nil {
		log.Printf("Reconciler: failed to fetch playback for session %s: %v", l.sessionID, err)
		return
	}

	if songEnded {
		snapshot = l.advance(ctx, session, snapshot)
	}

	l.adopt(snapshot)
	l.writeState(ctx)
}

// adopt overwrites local state with the remote snapshot, including the
// case where another client changed the track out from under us.
func (l *loop) adopt(snapshot *spotify.PlaybackSnapshot) {
	if snapshot == nil || snapshot.Item == nil {
		return
	}

	if snapshot.Item.ID != l.currentTrackID {
		log.Printf("Reconciler: session %s now playing %q", l.sessionID, snapshot.Item.Name)
	}

	if snapshot.Item.ID == l.pendingTrackID {
		l.pendingTrackID = ""
	}

	l.currentTrackID = snapshot.Item.ID
	l.durationMs = snapshot.Item.Duration
	l.progressMs = float64(snapshot.ProgressMs)
	l.playing = snapshot.IsPlaying
	l.lastTick = time.Now()
}

// advance plays the highest-voted unplayed entry other than the current
// song, verifies the provider picked it up within the retry budget, and
// marks the finished entry played. A transition already commanded but not
// yet confirmed is not re-issued, so a remote stuck past the retry budget
// cannot produce duplicate play commands or duplicate start events.
func (l *loop) advance(ctx context.Context, session *models.Session, snapshot *spotify.PlaybackSnapshot) *spotify.PlaybackSnapshot {
	items, err := l.m.queue.List(ctx, l.sessionID, false)
	if err != nil {
		log.Printf("Reconciler: failed to read queue for session %s: %v", l.sessionID, err)
		return snapshot
	}

	finishedTrackID := l.currentTrackID

	var next *models.QueueItem
	for _, item := range items {
		if item.SongID != finishedTrackID {
			next = item
			break
		}
	}

	if next == nil {
		// Nothing eligible: leave playback stopped at the end of the
		// current track.
		l.markFinished(ctx, items, finishedTrackID)
		return snapshot
	}

	if next.SongID == l.pendingTrackID {
		// Already commanded; wait for the remote to report it.
		return snapshot
	}

	err = l.withAuthRetry(ctx, session, func(token string) error {
		return l.m.player.PlayTrack(ctx, token, session.DeviceID, next.Song.URI)
	})
	if err != nil {
		log.Printf("Reconciler: failed to start %q for session %s: %v", next.Song.Title, l.sessionID, err)
		return snapshot
	}

	// Poll until the provider reports the new track, then proceed with
	// whatever the latest snapshot shows.
	latest := snapshot
	confirmed := pollUntil(ctx, l.m.retryAttempts, l.m.retryDelay, func() bool {
		fresh, ferr := l.fetchSnapshot(ctx, session)
		if ferr != nil {
			return false
		}
		latest = fresh
		return fresh != nil && fresh.Item != nil && fresh.Item.ID == next.SongID
	})
	if confirmed {
		l.pendingTrackID = ""
	} else {
		l.pendingTrackID = next.SongID
		log.Printf("Reconciler: retry budget exhausted for session %s, using latest state", l.sessionID)
	}

	l.markFinished(ctx, items, finishedTrackID)

	songID := next.SongID
	if _, err := l.m.sessions.SetCurrentSong(ctx, l.sessionID, &songID); err != nil {
		log.Printf("Reconciler: failed to record current song for session %s: %v", l.sessionID, err)
	}

	l.publish(ctx, events.EventTypeSongStarted, events.SongStartedPayload{
		TrackID: next.SongID,
		Title:   next.Song.Title,
		Artist:  next.Song.Artist,
		URI:     next.Song.URI,
	})

	return latest
}

// markFinished retires the queue entry for the track that just ended.
func (l *loop) markFinished(ctx context.Context, items []*models.QueueItem, trackID string) {
	if trackID == "" {
		return
	}

	for _, item := range items {
		if item.SongID != trackID {
			continue
		}
		if _, err := l.m.queue.MarkPlayed(ctx, item.ID.String()); err != nil {
			log.Printf("Reconciler: failed to mark %q played for session %s: %v", trackID, l.sessionID, err)
			return
		}
		l.publish(ctx, events.EventTypeSongCompleted, events.SongCompletedPayload{
			QueueItemID: item.ID.String(),
			TrackID:     trackID,
		})
		return
	}
}

func (l *loop) fetchSnapshot(ctx context.Context, session *models.Session) (*spotify.PlaybackSnapshot, error) {
	var snapshot *spotify.PlaybackSnapshot
	err := l.withAuthRetry(ctx, session, func(token string) error {
		var ferr error
		snapshot, ferr = l.m.player.GetPlayback(ctx, token)
		return ferr
	})
	return snapshot, err
}

// withAuthRetry runs call with the session's credential, refreshing it and
// retrying once when the provider rejects it.
func (l *loop) withAuthRetry(ctx context.Context, session *models.Session, call func(token string) error) error {
	token := l.accessToken(ctx, session)

	err := call(token)
	if err == nil || !errors.Is(err, apperr.ErrUpstreamAuth) {
		return err
	}

	refreshed, rerr := l.refreshCredential(ctx)
	if rerr != nil {
		log.Printf("Reconciler: credential refresh failed for session %s: %v", l.sessionID, rerr)
		return err
	}

	return call(refreshed)
}

func (l *loop) accessToken(ctx context.Context, session *models.Session) string {
	if l.m.tokens != nil {
		if info, err := l.m.tokens.GetTokens(ctx, l.sessionID); err == nil && info.AccessToken != "" {
			return info.AccessToken
		}
	}
	return session.AccessToken
}

func (l *loop) refreshCredential(ctx context.Context) (string, error) {
	if l.m.tokens == nil || l.m.refresh == nil {
		return "", errors.New("no refresh credential available")
	}

	info, err := l.m.tokens.GetTokens(ctx, l.sessionID)
	if err != nil {
		return "", err
	}

	token, err := l.m.refresh.RefreshToken(ctx, info.RefreshToken)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	if err := l.m.tokens.RefreshToken(ctx, l.sessionID, token.AccessToken, expiresAt); err != nil {
		log.Printf("Reconciler: failed to store refreshed token for session %s: %v", l.sessionID, err)
	}

	return token.AccessToken, nil
}

func (l *loop) writeState(ctx context.Context) {
	if l.m.state == nil || l.currentTrackID == "" {
		return
	}

	progress := int(l.progressMs)
	playing := l.playing
	if _, err := l.m.state.Update(ctx, l.sessionID, playback.UpdateStateInput{
		IsPlaying: &playing,
		Progress:  &progress,
	}); err != nil {
		log.Printf("Reconciler: failed to write playback state for session %s: %v", l.sessionID, err)
	}
}

func (l *loop) publish(ctx context.Context, eventType events.EventType, payload interface{}) {
	if l.m.events == nil {
		return
	}
	if err := l.m.events.PublishEvent(ctx, eventType, l.sessionID, payload); err != nil {
		log.Printf("Warning: failed to publish %s event: %v", eventType, err)
	}
}
