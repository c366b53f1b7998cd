package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
)

// PostgresStore persists entries and archived results through gorm.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&Entry{}, &ResultRow{}); err != nil {
		return nil, fmt.Errorf("leaderboard migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Record(ctx context.Context, res game.Result) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range res.Players {
			row := ResultRow{
				RoomID:      res.RoomID,
				GameType:    res.Mode,
				UserID:      p.UserID,
				Username:    p.Username,
				FinalScore:  p.FinalScore,
				Placement:   p.Placement,
				Completed:   p.Completed,
				Surrendered: p.Surrendered,
				FinishedAt:  res.FinishedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}

			var e Entry
			err := tx.Where("user_id = ? AND game_type = ?", p.UserID, res.Mode).First(&e).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				e = Entry{UserID: p.UserID, GameType: res.Mode}
			} else if err != nil {
				return err
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
			if err := tx.Save(&e).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Snapshot(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	order := "total_score DESC"
	if q.SortBy == "wins" {
		order = "wins DESC, total_score DESC"
	}

	var entries []Entry
	cutoff := timeframeCutoff(q.Timeframe, time.Now())
	if cutoff.IsZero() {
		err := s.db.WithContext(ctx).
			Where("game_type = ?", q.GameType).
			Order(order).
			Limit(limit).
			Find(&entries).Error
		return entries, err
	}

	// Timeframe boards aggregate the archived results inside the window.
	err := s.db.WithContext(ctx).
		Model(&ResultRow{}).
		Select(`user_id, ? AS game_type, MAX(username) AS username,
			SUM(final_score) AS total_score, COUNT(*) AS games_played,
			SUM(CASE WHEN placement = 1 AND NOT surrendered THEN 1 ELSE 0 END) AS wins,
			SUM(CASE WHEN placement = 1 AND NOT surrendered THEN 0 ELSE 1 END) AS losses`, q.GameType).
		Where("game_type = ? AND finished_at >= ?", q.GameType, cutoff).
		Group("user_id").
		Order(order).
		Limit(limit).
		Scan(&entries).Error
	return entries, err
}

func (s *PostgresStore) Position(ctx context.Context, userID, gameType string) (Position, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND game_type = ?", userID, gameType).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, err
	}

	var higher int64
	err = s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("game_type = ? AND total_score > ?", gameType, e.TotalScore).
		Count(&higher).Error
	if err != nil {
		return Position{}, err
	}
	return Position{Ranked: true, Rank: int(higher) + 1, Entry: e}, nil
}
