package repository

import (
	"context"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
)

// MatchRepository is the durable-store boundary for matches. It is the
// source of truth; replicated live state must be rebuildable from it.
type MatchRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	GetWithDetails(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MatchStatus) error
	UpdateScore(ctx context.Context, id uuid.UUID, homeScore, awayScore int) error
}

type MatchEventRepository interface {
	Create(ctx context.Context, event *domain.MatchEvent) error
	GetByMatchID(ctx context.Context, matchID uuid.UUID) ([]*domain.MatchEvent, error)
}

type TeamRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Team, error)
}

type TournamentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tournament, error)
}

type Repositories struct {
	Match      MatchRepository
	MatchEvent MatchEventRepository
	Team       TeamRepository
	Tournament TournamentRepository
}
