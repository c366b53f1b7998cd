package game

import (
	"sort"
	"time"
)

type PlayerResult struct {
	UserID      string
	Username    string
	FinalScore  int
	Placement   int
	Completed   bool
	Surrendered bool
}

// Result is the finalized outcome of a room, ranked best-first.
type Result struct {
	RoomID     string
	Mode       string
	Players    []PlayerResult
	FinishedAt time.Time
}

// Rank orders participants by score descending; completion beats
// non-completion, surrender loses ties, join order breaks the rest.
func Rank(s State, at time.Time) Result {
	players := make([]PlayerResult, len(s.Participants))
	order := make(map[string]int, len(s.Participants))
	for i, p := range s.Participants {
		order[p.UserID] = i
		players[i] = PlayerResult{
			UserID:      p.UserID,
			Username:    p.Username,
			FinalScore:  p.Score,
			Completed:   p.Completed,
			Surrendered: p.Surrendered,
		}
	}
	sort.SliceStable(players, func(a, b int) bool {
		pa, pb := players[a], players[b]
		if pa.FinalScore != pb.FinalScore {
			return pa.FinalScore > pb.FinalScore
		}
		if pa.Completed != pb.Completed {
			return pa.Completed
		}
		if pa.Surrendered != pb.Surrendered {
			return pb.Surrendered
		}
		return order[pa.UserID] < order[pb.UserID]
	})
	for i := range players {
		players[i].Placement = i + 1
	}
	return Result{Mode: s.Settings.Mode, Players: players, FinishedAt: at}
}
