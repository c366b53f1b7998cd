package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
)

func quizResult(roomID string, finishedAt time.Time, players ...game.PlayerResult) game.Result {
	return game.Result{
		RoomID:     roomID,
		Mode:       "quiz",
		Players:    players,
		FinishedAt: finishedAt,
	}
}

func player(userID string, score, placement int, surrendered bool) game.PlayerResult {
	return game.PlayerResult{
		UserID:      userID,
		Username:    userID,
		FinalScore:  score,
		Placement:   placement,
		Completed:   !surrendered,
		Surrendered: surrendered,
	}
}

func TestRecordAggregatesEntries(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Record(ctx, quizResult("r1", now,
		player("alice", 80, 1, false),
		player("bob", 60, 2, false),
	)))
	require.NoError(t, m.Record(ctx, quizResult("r2", now,
		player("alice", 20, 2, false),
		player("bob", 90, 1, false),
	)))

	entries, err := m.Snapshot(ctx, Query{GameType: "quiz", Timeframe: "all"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// bob 150 total, alice 100; sorted by total score descending.
	require.Equal(t, "bob", entries[0].UserID)
	require.Equal(t, 150, entries[0].TotalScore)
	require.Equal(t, 1, entries[0].Wins)
	require.Equal(t, 1, entries[0].Losses)
	require.Equal(t, 2, entries[0].GamesPlayed)
	require.Equal(t, "alice", entries[1].UserID)
	require.Equal(t, 100, entries[1].TotalScore)
}

func TestSurrenderedWinnerDoesNotCountAsWin(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	// A lone surrendered player can hold placement 1 without winning.
	require.NoError(t, m.Record(ctx, quizResult("r1", time.Now(),
		player("alice", 10, 1, true),
	)))

	pos, err := m.Position(ctx, "alice", "quiz")
	require.NoError(t, err)
	require.Equal(t, 0, pos.Entry.Wins)
	require.Equal(t, 1, pos.Entry.Losses)
}

func TestSnapshotSortByWins(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	// alice: two wins at low scores; bob: one win at a high score.
	require.NoError(t, m.Record(ctx, quizResult("r1", now, player("alice", 10, 1, false), player("bob", 5, 2, false))))
	require.NoError(t, m.Record(ctx, quizResult("r2", now, player("alice", 10, 1, false), player("bob", 5, 2, false))))
	require.NoError(t, m.Record(ctx, quizResult("r3", now, player("bob", 200, 1, false), player("alice", 1, 2, false))))

	byScore, err := m.Snapshot(ctx, Query{GameType: "quiz", Timeframe: "all", SortBy: "totalScore"})
	require.NoError(t, err)
	require.Equal(t, "bob", byScore[0].UserID)

	byWins, err := m.Snapshot(ctx, Query{GameType: "quiz", Timeframe: "all", SortBy: "wins"})
	require.NoError(t, err)
	require.Equal(t, "alice", byWins[0].UserID)
}

func TestSnapshotTimeframeCutoff(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Record(ctx, quizResult("old", now.Add(-48*time.Hour), player("alice", 500, 1, false))))
	require.NoError(t, m.Record(ctx, quizResult("recent", now, player("bob", 10, 1, false))))

	daily, err := m.Snapshot(ctx, Query{GameType: "quiz", Timeframe: "daily"})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	require.Equal(t, "bob", daily[0].UserID)

	weekly, err := m.Snapshot(ctx, Query{GameType: "quiz", Timeframe: "weekly"})
	require.NoError(t, err)
	require.Len(t, weekly, 2)

	all, err := m.Snapshot(ctx, Query{GameType: "quiz", Timeframe: "all"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "alice", all[0].UserID)
}

func TestSnapshotLimitAndUnknownGameType(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Record(ctx, quizResult("r1", now,
		player("a", 30, 1, false), player("b", 20, 2, false), player("c", 10, 3, false))))

	top2, err := m.Snapshot(ctx, Query{GameType: "quiz", Timeframe: "all", Limit: 2})
	require.NoError(t, err)
	require.Len(t, top2, 2)
	require.Equal(t, "a", top2[0].UserID)
	require.Equal(t, "b", top2[1].UserID)

	none, err := m.Snapshot(ctx, Query{GameType: "chess", Timeframe: "all"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPositionRanksByTotalScore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Record(ctx, quizResult("r1", now,
		player("a", 300, 1, false), player("b", 200, 2, false), player("c", 100, 3, false))))

	pos, err := m.Position(ctx, "b", "quiz")
	require.NoError(t, err)
	require.True(t, pos.Ranked)
	require.Equal(t, 2, pos.Rank)
	require.Equal(t, 200, pos.Entry.TotalScore)

	unranked, err := m.Position(ctx, "ghost", "quiz")
	require.NoError(t, err)
	require.False(t, unranked.Ranked)
}

func TestGameTypesAreIsolated(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Record(ctx, quizResult("r1", now, player("alice", 100, 1, false))))
	require.NoError(t, m.Record(ctx, game.Result{
		RoomID: "r2", Mode: "debug", FinishedAt: now,
		Players: []game.PlayerResult{player("alice", 7, 1, false)},
	}))

	pos, err := m.Position(ctx, "alice", "debug")
	require.NoError(t, err)
	require.Equal(t, 7, pos.Entry.TotalScore)
	require.Equal(t, 1, pos.Entry.GamesPlayed)
}
