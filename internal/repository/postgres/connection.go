package postgres

import (
	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewConnection(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate tables
	err = db.AutoMigrate(
		&domain.Team{},
		&domain.Tournament{},
		&domain.Match{},
		&domain.MatchEvent{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func NewRepositories(db *gorm.DB) *repository.Repositories {
	return &repository.Repositories{
		Match:      NewMatchRepository(db),
		MatchEvent: NewMatchEventRepository(db),
		Team:       NewTeamRepository(db),
		Tournament: NewTournamentRepository(db),
	}
}
