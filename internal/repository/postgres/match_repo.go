package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type matchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *matchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var match domain.Match
	err := r.db.WithContext(ctx).First(&match, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (r *matchRepository) GetWithDetails(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var match domain.Match
	err := r.db.WithContext(ctx).
		Preload("HomeTeam").
		Preload("AwayTeam").
		Preload("Tournament").
		First(&match, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (r *matchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MatchStatus) error {
	updates := map[string]interface{}{"status": status}
	switch status {
	case domain.MatchStatusInProgress:
		updates["started_at"] = time.Now()
	case domain.MatchStatusCompleted:
		updates["completed_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).Model(&domain.Match{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}

func (r *matchRepository) UpdateScore(ctx context.Context, id uuid.UUID, homeScore, awayScore int) error {
	result := r.db.WithContext(ctx).Model(&domain.Match{}).Where("id = ?", id).Updates(map[string]interface{}{
		"home_score": homeScore,
		"away_score": awayScore,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}
