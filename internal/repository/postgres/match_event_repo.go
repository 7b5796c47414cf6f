package postgres

import (
	"context"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type matchEventRepository struct {
	db *gorm.DB
}

func NewMatchEventRepository(db *gorm.DB) *matchEventRepository {
	return &matchEventRepository{db: db}
}

func (r *matchEventRepository) Create(ctx context.Context, event *domain.MatchEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *matchEventRepository) GetByMatchID(ctx context.Context, matchID uuid.UUID) ([]*domain.MatchEvent, error) {
	var events []*domain.MatchEvent
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("minute ASC, created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
