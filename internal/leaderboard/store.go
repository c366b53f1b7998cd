package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
)

// Entry is one user's aggregate standing for a game type.
type Entry struct {
	UserID      string `gorm:"primaryKey;size:64"`
	GameType    string `gorm:"primaryKey;size:32"`
	Username    string `gorm:"size:64"`
	TotalScore  int
	GamesPlayed int
	Wins        int
	Losses      int
	UpdatedAt   time.Time
}

// ResultRow archives one participant's slice of a finished room.
type ResultRow struct {
	ID          uint   `gorm:"primaryKey"`
	RoomID      string `gorm:"index;size:64"`
	GameType    string `gorm:"index;size:32"`
	UserID      string `gorm:"index;size:64"`
	Username    string `gorm:"size:64"`
	FinalScore  int
	Placement   int
	Completed   bool
	Surrendered bool
	FinishedAt  time.Time `gorm:"index"`
}

type Query struct {
	GameType  string
	Timeframe string // "all" | "daily" | "weekly"
	SortBy    string // "totalScore" | "wins"
	Limit     int
}

type Position struct {
	Ranked bool
	Rank   int
	Entry  Entry
}

type Store interface {
	Record(ctx context.Context, res game.Result) error
	Snapshot(ctx context.Context, q Query) ([]Entry, error)
	Position(ctx context.Context, userID, gameType string) (Position, error)
}

// timeframeCutoff maps a timeframe to the earliest finish time it covers;
// a zero time means no cutoff.
func timeframeCutoff(timeframe string, now time.Time) time.Time {
	switch timeframe {
	case "daily":
		return now.Add(-24 * time.Hour)
	case "weekly":
		return now.Add(-7 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// won reports whether a ranked result line counts as a win.
func won(p game.PlayerResult) bool {
	return p.Placement == 1 && !p.Surrendered
}

// MemoryStore is the in-process Store used by tests and DSN-less dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]*Entry // gameType -> userID
	results []ResultRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]*Entry)}
}

func (m *MemoryStore) Record(_ context.Context, res game.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byUser := m.entries[res.Mode]
	if byUser == nil {
		byUser = make(map[string]*Entry)
		m.entries[res.Mode] = byUser
	}
	for _, p := range res.Players {
		m.results = append(m.results, ResultRow{
			RoomID:      res.RoomID,
			GameType:    res.Mode,
			UserID:      p.UserID,
			Username:    p.Username,
			FinalScore:  p.FinalScore,
			Placement:   p.Placement,
			Completed:   p.Completed,
			Surrendered: p.Surrendered,
			FinishedAt:  res.FinishedAt,
		})

		e := byUser[p.UserID]
		if e == nil {
			e = &Entry{UserID: p.UserID, GameType: res.Mode}
			byUser[p.UserID] = e
		}
		e.Username = p.Username
		e.TotalScore += p.FinalScore
		e.GamesPlayed++
		if won(p) {
			e.Wins++
		} else {
			e.Losses++
		}
		e.UpdatedAt = res.FinishedAt
	}
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, q Query) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := timeframeCutoff(q.Timeframe, time.Now())
	var out []Entry
	if cutoff.IsZero() {
		for _, e := range m.entries[q.GameType] {
			out = append(out, *e)
		}
	} else {
		agg := make(map[string]*Entry)
		for _, r := range m.results {
			if r.GameType != q.GameType || r.FinishedAt.Before(cutoff) {
				continue
			}
			e := agg[r.UserID]
			if e == nil {
				e = &Entry{UserID: r.UserID, GameType: q.GameType, Username: r.Username}
				agg[r.UserID] = e
			}
			e.TotalScore += r.FinalScore
			e.GamesPlayed++
			if r.Placement == 1 && !r.Surrendered {
				e.Wins++
			} else {
				e.Losses++
			}
		}
		for _, e := range agg {
			out = append(out, *e)
		}
	}

	sortEntries(out, q.SortBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Position(_ context.Context, userID, gameType string) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byUser := m.entries[gameType]
	e, ok := byUser[userID]
	if !ok {
		return Position{}, nil
	}
	rank := 1
	for _, other := range byUser {
		if other.TotalScore > e.TotalScore {
			rank++
		}
	}
	return Position{Ranked: true, Rank: rank, Entry: *e}, nil
}

func sortEntries(entries []Entry, sortBy string) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if sortBy == "wins" {
			if a.Wins != b.Wins {
				return a.Wins > b.Wins
			}
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return a.UserID < b.UserID
	})
}
