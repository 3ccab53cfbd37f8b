package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/party-playlist-system/pkg/apperr"
	"github.com/party-playlist-system/pkg/database"
)

func setupTestDB(t *testing.T) *database.DB {
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
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(setupTestDB(t), nil)
}

func testSong(id string) SongInput {
	return SongInput{
		ID:         id,
		Title:      "Track " + id,
		Artist:     "Artist",
		URI:        "spotify:track:" + id,
		DurationMs: 200000,
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("NewEntryWithVoter", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		item, err := s.Add(ctx, sessionID, testSong("t1"), "u1")
		if err != nil {
			t.Fatalf("failed to add song: %v", err)
		}

		if item.Votes != 1 {
			t.Errorf("expected 1 vote, got %d", item.Votes)
		}
		if len(item.VoterIDs) != 1 || item.VoterIDs[0] != "u1" {
			t.Errorf("expected voter set [u1], got %v", item.VoterIDs)
		}
		if item.Played {
			t.Error("new entry must not be played")
		}
	})

	t.Run("NewEntryWithoutVoter", func(t *testing.T) {
		s := newTestService(t)

		item, err := s.Add(ctx, uuid.New().String(), testSong("t1"), "")
		if err != nil {
			t.Fatalf("failed to add song: %v", err)
		}

		if item.Votes != 0 || len(item.VoterIDs) != 0 {
			t.Errorf("expected zero votes, got %d votes %v", item.Votes, item.VoterIDs)
		}
	})

	t.Run("ResubmitCountsAsVote", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		first, err := s.Add(ctx, sessionID, testSong("t1"), "u1")
		if err != nil {
			t.Fatalf("failed to add song: %v", err)
		}

		second, err := s.Add(ctx, sessionID, testSong("t1"), "u2")
		if err != nil {
			t.Fatalf("failed to re-add song: %v", err)
		}

		if second.ID != first.ID {
			t.Fatal("resubmission must not create a duplicate entry")
		}
		if second.Votes != 2 {
			t.Errorf("expected 2 votes, got %d", second.Votes)
		}
		if !second.HasVoter("u1") || !second.HasVoter("u2") {
			t.Errorf("expected voter set {u1, u2}, got %v", second.VoterIDs)
		}

		items, err := s.List(ctx, sessionID, false)
		if err != nil {
			t.Fatalf("failed to list queue: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("expected exactly one entry, got %d", len(items))
		}
	})

	t.Run("ResubmitBySameVoterUnchanged", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		if _, err := s.Add(ctx, sessionID, testSong("t1"), "u1"); err != nil {
			t.Fatalf("failed to add song: %v", err)
		}

		item, err := s.Add(ctx, sessionID, testSong("t1"), "u1")
		if err != nil {
			t.Fatalf("failed to re-add song: %v", err)
		}
		if item.Votes != 1 {
			t.Errorf("expected vote count unchanged at 1, got %d", item.Votes)
		}
	})

	t.Run("ResubmitAfterPlayedCreatesNewEntry", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		first, err := s.Add(ctx, sessionID, testSong("t1"), "u1")
		if err != nil {
			t.Fatalf("failed to add song: %v", err)
		}
		if _, err := s.MarkPlayed(ctx, first.ID.String()); err != nil {
			t.Fatalf("failed to mark played: %v", err)
		}

		second, err := s.Add(ctx, sessionID, testSong("t1"), "u2")
		if err != nil {
			t.Fatalf("failed to re-add song: %v", err)
		}
		if second.ID == first.ID {
			t.Error("played entry must not absorb a resubmission")
		}
	})

	t.Run("InvalidSongData", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		cases := map[string]SongInput{
			"MissingID":  {URI: "spotify:track:t1"},
			"MissingURI": {ID: "t1"},
		}
		for name, song := range cases {
			t.Run(name, func(t *testing.T) {
				if _, err := s.Add(ctx, sessionID, song, "u1"); !errors.Is(err, apperr.ErrInvalidSongData) {
					t.Fatalf("expected ErrInvalidSongData, got %v", err)
				}

				items, err := s.List(ctx, sessionID, true)
				if err != nil {
					t.Fatalf("failed to list queue: %v", err)
				}
				if len(items) != 0 {
					t.Error("rejected song must not mutate state")
				}
			})
		}
	})

	t.Run("MetadataImmutableAfterFirstInsert", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		if _, err := s.Add(ctx, sessionID, testSong("t1"), "u1"); err != nil {
			t.Fatalf("failed to add song: %v", err)
		}

		changed := testSong("t1")
		changed.Title = "Renamed"
		item, err := s.Add(ctx, sessionID, changed, "u2")
		if err != nil {
			t.Fatalf("failed to re-add song: %v", err)
		}
		if item.Song.Title != "Track t1" {
			t.Errorf("cached song metadata must not change, got title %q", item.Song.Title)
		}
	})
}

func TestVotes(t *testing.T) {
	ctx := context.Background()

	t.Run("CountMatchesVoterSet", func(t *testing.T) {
		s := newTestService(t)
		item, err := s.Add(ctx, uuid.New().String(), testSong("t1"), "u1")
		if err != nil {
			t.Fatalf("failed to add song: %v", err)
		}
		id := item.ID.String()

		ops := []func() error{
			func() error { _, err := s.Upvote(ctx, id, "u2"); return err },
			func() error { _, err := s.Upvote(ctx, id, "u3"); return err },
			func() error { _, err := s.Upvote(ctx, id, "u2"); return err },
			func() error { _, err := s.RemoveVote(ctx, id, "u1"); return err },
			func() error { _, err := s.RemoveVote(ctx, id, "u9"); return err },
			func() error { _, err := s.Upvote(ctx, id, "u4"); return err },
		}
		for i, op := range ops {
			if err := op(); err != nil {
				t.Fatalf("op %d failed: %v", i, err)
			}

			items, err := s.List(ctx, item.SessionID.String(), true)
			if err != nil {
				t.Fatalf("failed to list queue: %v", err)
			}
			got := items[0]
			if got.Votes != len(got.VoterIDs) {
				t.Fatalf("after op %d: votes %d != voter set size %d", i, got.Votes, len(got.VoterIDs))
			}
			if got.Votes < 0 {
				t.Fatalf("after op %d: vote count went negative", i)
			}
		}
	})

	t.Run("UpvoteIdempotentPerVoter", func(t *testing.T) {
		s := newTestService(t)
		item, _ := s.Add(ctx, uuid.New().String(), testSong("t1"), "u1")

		got, err := s.Upvote(ctx, item.ID.String(), "u1")
		if err != nil {
			t.Fatalf("repeat upvote must not error: %v", err)
		}
		if got.Votes != 1 || len(got.VoterIDs) != 1 {
			t.Errorf("repeat upvote changed state: %d votes %v", got.Votes, got.VoterIDs)
		}
	})

	t.Run("RemoveVoteIdempotentForNonVoter", func(t *testing.T) {
		s := newTestService(t)
		item, _ := s.Add(ctx, uuid.New().String(), testSong("t1"), "u1")

		got, err := s.RemoveVote(ctx, item.ID.String(), "stranger")
		if err != nil {
			t.Fatalf("removing an absent vote must not error: %v", err)
		}
		if got.Votes != 1 || len(got.VoterIDs) != 1 {
			t.Errorf("absent-vote removal changed state: %d votes %v", got.Votes, got.VoterIDs)
		}
	})

	t.Run("UnknownItem", func(t *testing.T) {
		s := newTestService(t)

		if _, err := s.Upvote(ctx, uuid.New().String(), "u1"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected ErrNotFound from upvote, got %v", err)
		}
		if _, err := s.RemoveVote(ctx, uuid.New().String(), "u1"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected ErrNotFound from remove vote, got %v", err)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("OrderedByVotesDescending", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		a, _ := s.Add(ctx, sessionID, testSong("a"), "u1")
		b, _ := s.Add(ctx, sessionID, testSong("b"), "u1")
		if _, err := s.Upvote(ctx, b.ID.String(), "u2"); err != nil {
			t.Fatalf("failed to upvote: %v", err)
		}
		if _, err := s.Upvote(ctx, b.ID.String(), "u3"); err != nil {
			t.Fatalf("failed to upvote: %v", err)
		}

		items, err := s.List(ctx, sessionID, false)
		if err != nil {
			t.Fatalf("failed to list queue: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(items))
		}
		if items[0].ID != b.ID || items[1].ID != a.ID {
			t.Errorf("expected [b, a] by vote count, got [%s, %s]", items[0].SongID, items[1].SongID)
		}
	})

	t.Run("TieBreakIsInsertionOrder", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		first, _ := s.Add(ctx, sessionID, testSong("a"), "u1")
		second, _ := s.Add(ctx, sessionID, testSong("b"), "u2")

		items, err := s.List(ctx, sessionID, false)
		if err != nil {
			t.Fatalf("failed to list queue: %v", err)
		}
		if items[0].ID != first.ID || items[1].ID != second.ID {
			t.Error("equal vote counts must keep insertion order")
		}
	})

	t.Run("PlayedExcludedByDefault", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		a, _ := s.Add(ctx, sessionID, testSong("a"), "u1")
		s.Add(ctx, sessionID, testSong("b"), "u1")

		if _, err := s.MarkPlayed(ctx, a.ID.String()); err != nil {
			t.Fatalf("failed to mark played: %v", err)
		}

		items, _ := s.List(ctx, sessionID, false)
		if len(items) != 1 || items[0].SongID != "b" {
			t.Errorf("default list must exclude played entries, got %d entries", len(items))
		}

		all, _ := s.List(ctx, sessionID, true)
		if len(all) != 2 {
			t.Errorf("includePlayed list must include played entries, got %d", len(all))
		}
	})
}

func TestNextSong(t *testing.T) {
	ctx := context.Background()

	t.Run("ReturnsTopVotedUnplayed", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		s.Add(ctx, sessionID, testSong("a"), "u1")
		b, _ := s.Add(ctx, sessionID, testSong("b"), "u1")
		s.Upvote(ctx, b.ID.String(), "u2")

		next, err := s.NextSong(ctx, sessionID)
		if err != nil {
			t.Fatalf("failed to get next song: %v", err)
		}
		if next == nil || next.SongID != "b" {
			t.Errorf("expected b as next song, got %v", next)
		}
	})

	t.Run("NilWhenEmpty", func(t *testing.T) {
		s := newTestService(t)

		next, err := s.NextSong(ctx, uuid.New().String())
		if err != nil {
			t.Fatalf("empty queue must not error: %v", err)
		}
		if next != nil {
			t.Errorf("expected nil next song, got %v", next)
		}
	})

	t.Run("NilWhenAllPlayed", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		a, _ := s.Add(ctx, sessionID, testSong("a"), "u1")
		s.MarkPlayed(ctx, a.ID.String())

		next, err := s.NextSong(ctx, sessionID)
		if err != nil {
			t.Fatalf("fully played queue must not error: %v", err)
		}
		if next != nil {
			t.Errorf("expected nil next song, got %v", next)
		}
	})
}

func TestMarkPlayedAndRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("MarkPlayedIsTerminal", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		a, _ := s.Add(ctx, sessionID, testSong("a"), "u1")
		played, err := s.MarkPlayed(ctx, a.ID.String())
		if err != nil {
			t.Fatalf("failed to mark played: %v", err)
		}
		if !played.Played {
			t.Error("entry must report played")
		}

		next, _ := s.NextSong(ctx, sessionID)
		if next != nil {
			t.Error("next song must skip played entries")
		}
	})

	t.Run("RemoveReturnsLastState", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		a, _ := s.Add(ctx, sessionID, testSong("a"), "u1")
		removed, err := s.Remove(ctx, a.ID.String())
		if err != nil {
			t.Fatalf("failed to remove: %v", err)
		}
		if removed.Votes != 1 || removed.SongID != "a" {
			t.Errorf("remove must return the entry's last state, got %+v", removed)
		}

		if _, err := s.Remove(ctx, a.ID.String()); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected ErrNotFound for removed entry, got %v", err)
		}

		items, _ := s.List(ctx, sessionID, true)
		if len(items) != 0 {
			t.Error("removed entry must be physically gone")
		}
	})
}

func TestLookupSongs(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	sessionID := uuid.New().String()

	s.Add(ctx, sessionID, testSong("a"), "u1")
	s.Add(ctx, sessionID, testSong("b"), "u1")

	songs, err := s.LookupSongs(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("failed to look up songs: %v", err)
	}
	if len(songs) != 2 {
		t.Errorf("unknown IDs must be silently omitted, got %d songs", len(songs))
	}
}

func TestConcurrentVotes(t *testing.T) {
	ctx := context.Background()

	t.Run("ParallelUpvotesAllCounted", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		item, err := s.Add(ctx, sessionID, testSong("t1"), "")
		if err != nil {
			t.Fatalf("failed to add song: %v", err)
		}

		const voters = 20
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < voters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				if _, err := s.Upvote(ctx, item.ID.String(), fmt.Sprintf("u%d", i)); err != nil {
					t.Errorf("failed to upvote: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		got, err := s.getItem(item.ID.String())
		if err != nil {
			t.Fatalf("failed to reload entry: %v", err)
		}
		if got.Votes != voters {
			t.Errorf("expected %d votes, got %d", voters, got.Votes)
		}
		if len(got.VoterIDs) != voters {
			t.Errorf("expected %d voters in the set, got %d", voters, len(got.VoterIDs))
		}
	})

	t.Run("ParallelWithdrawalsAllApplied", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		const voters = 10
		item, err := s.Add(ctx, sessionID, testSong("t1"), "u0")
		if err != nil {
			t.Fatalf("failed to add song: %v", err)
		}
		for i := 1; i < voters; i++ {
			if _, err := s.Upvote(ctx, item.ID.String(), fmt.Sprintf("u%d", i)); err != nil {
				t.Fatalf("failed to upvote: %v", err)
			}
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < voters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				if _, err := s.RemoveVote(ctx, item.ID.String(), fmt.Sprintf("u%d", i)); err != nil {
					t.Errorf("failed to remove vote: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		got, err := s.getItem(item.ID.String())
		if err != nil {
			t.Fatalf("failed to reload entry: %v", err)
		}
		if got.Votes != 0 || len(got.VoterIDs) != 0 {
			t.Errorf("expected an empty voter set, got votes=%d voters=%v", got.Votes, got.VoterIDs)
		}
	})

	t.Run("ParallelResubmissionsOneEntry", func(t *testing.T) {
		s := newTestService(t)
		sessionID := uuid.New().String()

		const voters = 10
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < voters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				if _, err := s.Add(ctx, sessionID, testSong("t1"), fmt.Sprintf("u%d", i)); err != nil {
					t.Errorf("failed to add song: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		items, err := s.List(ctx, sessionID, true)
		if err != nil {
			t.Fatalf("failed to list queue: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("expected a single entry, got %d", len(items))
		}
		if items[0].Votes != voters || len(items[0].VoterIDs) != voters {
			t.Errorf("expected %d votes from %d voters, got votes=%d voters=%v",
				voters, voters, items[0].Votes, items[0].VoterIDs)
		}
	})
}
