package postgres

import (
	"context"
	"errors"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type tournamentRepository struct {
	db *gorm.DB
}

func NewTournamentRepository(db *gorm.DB) *tournamentRepository {
	return &tournamentRepository{db: db}
}

func (r *tournamentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tournament, error) {
	var tournament domain.Tournament
	err := r.db.WithContext(ctx).First(&tournament, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTournamentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tournament, nil
}
