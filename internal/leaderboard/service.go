package leaderboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
	"github.com/bhosaleparag/dev-battle-sub000/pkg/types"
)

// Service is the coordinator-facing face of the leaderboard: it records
// results (it is the room ResultSink), answers snapshot and position
// queries within a bounded wait, and pushes incremental score updates to
// per-gameType subscriber feeds.
type Service struct {
	store   Store
	timeout time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	subs map[string]map[chan types.ServerMessage]struct{}
}

func NewService(store Store, queryTimeout time.Duration, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		timeout: queryTimeout,
		log:     log,
		subs:    make(map[string]map[chan types.ServerMessage]struct{}),
	}
}

// Record persists a finished room's outcome and republishes the new totals
// to every open feed for that game type.
func (s *Service) Record(ctx context.Context, res game.Result) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Record(ctx, res); err != nil {
		s.log.Error("recording game result failed",
			zap.String("roomID", res.RoomID), zap.Error(err))
		return
	}
	s.log.Info("game result recorded",
		zap.String("roomID", res.RoomID),
		zap.String("gameType", res.Mode),
		zap.Int("players", len(res.Players)))

	for _, p := range res.Players {
		pos, err := s.store.Position(ctx, p.UserID, res.Mode)
		if err != nil || !pos.Ranked {
			continue
		}
		s.publish(res.Mode, types.LeaderboardScoreUpdated{
			Type:       "leaderboard-score-updated",
			GameType:   res.Mode,
			UserID:     p.UserID,
			TotalScore: pos.Entry.TotalScore,
		})
	}
}

// Snapshot returns the ranked board; on a store failure the caller gets an
// empty board rather than an error frame, matching the timeout-to-default
// contract for read queries.
func (s *Service) Snapshot(ctx context.Context, q Query) []Entry {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	entries, err := s.store.Snapshot(ctx, q)
	if err != nil {
		s.log.Warn("leaderboard snapshot failed", zap.String("gameType", q.GameType), zap.Error(err))
		return nil
	}
	return entries
}

// Position resolves a user's rank, falling back to not-ranked on timeout or
// store failure instead of hanging or erroring.
func (s *Service) Position(ctx context.Context, userID, gameType string) Position {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pos, err := s.store.Position(ctx, userID, gameType)
	if err != nil {
		s.log.Warn("position query failed", zap.String("userID", userID), zap.Error(err))
		return Position{}
	}
	return pos
}

// Subscribe attaches an outbox to a game type's score feed.
func (s *Service) Subscribe(gameType string, ch chan types.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[gameType] == nil {
		s.subs[gameType] = make(map[chan types.ServerMessage]struct{})
	}
	s.subs[gameType][ch] = struct{}{}
}

// Unsubscribe detaches the outbox from every feed it was on.
func (s *Service) Unsubscribe(ch chan types.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for gameType, set := range s.subs {
		delete(set, ch)
		if len(set) == 0 {
			delete(s.subs, gameType)
		}
	}
}

func (s *Service) publish(gameType string, msg types.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[gameType] {
		select {
		case ch <- msg:
		default:
			// Feed subscribers are best-effort; a full outbox skips the tick.
		}
	}
}
