package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"safe-by-design/server/internal/config"
	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/models"
)

// SQLStore is the gorm-backed GameRepository, on MySQL or SQLite.
type SQLStore struct {
	db *gorm.DB
}

var _ interfaces.GameRepository = (*SQLStore)(nil)

func NewMySQLStore(cfg config.MySQLConfig, logLevel string) (*SQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return newSQLStore(db)
}

// NewSQLiteStore opens a SQLite file. ":memory:" gives a private in-memory
// database on a single connection.
func NewSQLiteStore(path string, logLevel string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return newSQLStore(db)
}

func newSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(
		&models.Game{},
		&models.Team{},
		&models.DecisionSubmission{},
		&models.CycleResult{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func gormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) GetDB() *gorm.DB {
	return s.db
}

// Transaction helper
func (s *SQLStore) WithTx(ctx context.Context, fn func(*gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func notFound(err error, what, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, key, interfaces.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, key, err)
}

func (s *SQLStore) CreateGame(ctx context.Context, game *models.Game) error {
	if err := s.db.WithContext(ctx).Create(game).Error; err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateGame(ctx context.Context, game *models.Game) error {
	if err := s.db.WithContext(ctx).Save(game).Error; err != nil {
		return fmt.Errorf("failed to update game %s: %w", game.ID, err)
	}
	return nil
}

func (s *SQLStore) GetGame(ctx context.Context, id string) (*models.Game, error) {
	var g models.Game
	if err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "game", id)
	}
	return &g, nil
}

func (s *SQLStore) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	var g models.Game
	if err := s.db.WithContext(ctx).First(&g, "code = ?", code).Error; err != nil {
		return nil, notFound(err, "game code", code)
	}
	return &g, nil
}

func (s *SQLStore) AddTeam(ctx context.Context, game *models.Game, team *models.Team) error {
	return s.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Save(game).Error; err != nil {
			return fmt.Errorf("failed to update game %s: %w", game.ID, err)
		}
		if err := tx.Create(team).Error; err != nil {
			return fmt.Errorf("failed to create team: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) ListTeams(ctx context.Context, gameID string) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("join_order ASC").
		Find(&teams).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

func (s *SQLStore) SaveSubmission(ctx context.Context, sub *models.DecisionSubmission) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "game_id"}, {Name: "team_id"}, {Name: "cycle"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"decisions", "budget_capacity", "budget_staff_energy", "budget_cash", "submitted_at",
		}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

func (s *SQLStore) ListSubmissions(ctx context.Context, gameID string, cycle int) ([]models.DecisionSubmission, error) {
	q := s.db.WithContext(ctx).Where("game_id = ?", gameID)
	if cycle > 0 {
		q = q.Where("cycle = ?", cycle)
	}
	var subs []models.DecisionSubmission
	if err := q.Order("cycle ASC").Order("submitted_at ASC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

func (s *SQLStore) SubmittedTeamIDs(ctx context.Context, gameID string, cycle int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.DecisionSubmission{}).
		Where("game_id = ? AND cycle = ?", gameID, cycle).
		Distinct().
		Pluck("team_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list submitted teams: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) SaveResolution(ctx context.Context, game *models.Game, teams []models.Team, results []models.CycleResult) error {
	return s.WithTx(ctx, func(tx *gorm.DB) error {
		if len(results) > 0 {
			if err := tx.Create(&results).Error; err != nil {
				return fmt.Errorf("failed to write results: %w", err)
			}
		}
		for _, t := range teams {
			err := tx.Model(&models.Team{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
				"cum_safety":     t.Cumulative.Safety,
				"cum_equity":     t.Cumulative.Equity,
				"cum_staff":      t.Cumulative.Staff,
				"cum_resilience": t.Cumulative.Resilience,
				"cum_total":      t.Cumulative.Total,
			}).Error
			if err != nil {
				return fmt.Errorf("failed to update team %s: %w", t.ID, err)
			}
		}
		if err := tx.Save(game).Error; err != nil {
			return fmt.Errorf("failed to update game %s: %w", game.ID, err)
		}
		return nil
	})
}

func (s *SQLStore) ListResults(ctx context.Context, gameID string, cycle int) ([]models.CycleResult, error) {
	q := s.db.WithContext(ctx).Where("game_id = ?", gameID)
	if cycle > 0 {
		q = q.Where("cycle = ?", cycle)
	}
	var results []models.CycleResult
	if err := q.Order("cycle ASC").Order("calculated_at ASC").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}
