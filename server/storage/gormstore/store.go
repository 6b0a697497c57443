// Package gormstore persists recurring events in PostgreSQL through GORM.
//
// Each series is one row in recurring_events; exclusions and modifications
// live in child tables keyed by (series_id, date). A unique index on
// parent_event_id enforces one series per parent event. Every mutation runs
// in a single transaction that first bumps the series version, which also
// takes the row lock and serializes concurrent writers on the same series.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

// Store implements storage.Storage on top of a *gorm.DB.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the config as a libpq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Open connects to PostgreSQL and returns a store using that connection.
func Open(cfg DatabaseConfig, opts ...Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return New(db, opts...), nil
}

// New wraps an existing connection. The connection should be opened with
// TranslateError enabled so duplicate keys surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates or updates the tables and indexes.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&eventModel{}, &recurringEventModel{}, &exclusionModel{}, &modificationModel{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateRecurringEvent(ctx context.Context, rec *storage.RecurringEvent) (*storage.RecurringEvent, error) {
	if rec == nil || rec.ParentEventID == "" {
		return nil, &storage.Error{Type: storage.ErrInvalidInput, Message: "parent event id is required"}
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now()
	stored.Created, stored.Modified, stored.Version = now, now, 1

	m := toModel(stored)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			s.logger.Warn("recurring event already exists for parent",
				"parent_event_id", rec.ParentEventID)
			return nil, &storage.Error{
				Type:    storage.ErrAlreadyExists,
				Message: "parent event already has a recurring event",
				Err:     err,
			}
		}
		return nil, fmt.Errorf("failed to create recurring event: %w", err)
	}

	s.logger.Debug("recurring event created",
		"series_id", stored.ID,
		"parent_event_id", stored.ParentEventID)
	return stored, nil
}

func (s *Store) GetRecurringEvent(ctx context.Context, id string) (*storage.RecurringEvent, error) {
	return s.load(s.db.WithContext(ctx), "id = ?", id)
}

func (s *Store) GetRecurringEventByParent(ctx context.Context, parentEventID string) (*storage.RecurringEvent, error) {
	return s.load(s.db.WithContext(ctx), "parent_event_id = ?", parentEventID)
}

func (s *Store) load(tx *gorm.DB, query string, arg string) (*storage.RecurringEvent, error) {
	var m recurringEventModel
	err := tx.
		Preload("Exclusions", func(db *gorm.DB) *gorm.DB { return db.Order("date") }).
		Preload("Modifications", func(db *gorm.DB) *gorm.DB { return db.Order("date") }).
		Where(query, arg).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &storage.Error{Type: storage.ErrNotFound, Message: "recurring event not found: " + arg}
		}
		return nil, fmt.Errorf("failed to load recurring event: %w", err)
	}
	return fromModel(&m), nil
}

func (s *Store) DeleteRecurringEvent(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("series_id = ?", id).Delete(&exclusionModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("series_id = ?", id).Delete(&modificationModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&recurringEventModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &storage.Error{Type: storage.ErrNotFound, Message: "recurring event not found: " + id}
		}
		return nil
	})
}

func (s *Store) UpdateRecurringEvent(ctx context.Context, id string, upd storage.Update) (*storage.RecurringEvent, error) {
	return s.mutate(ctx, id, upd.ExpectedVersion, upd.Pattern, func(tx *gorm.DB) error {
		if upd.ExcludedDates == nil {
			return nil
		}
		if err := tx.Where("series_id = ?", id).Delete(&exclusionModel{}).Error; err != nil {
			return err
		}
		overlay := recurrence.NewOverlay(*upd.ExcludedDates, nil)
		for _, d := range overlay.ExcludedDates() {
			if err := addExclusion(tx, id, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AddExclusion(ctx context.Context, id string, date time.Time) (*storage.RecurringEvent, error) {
	return s.mutate(ctx, id, 0, nil, func(tx *gorm.DB) error {
		return addExclusion(tx, id, recurrence.DateOf(date))
	})
}

func (s *Store) RemoveExclusion(ctx context.Context, id string, date time.Time) (*storage.RecurringEvent, error) {
	return s.mutate(ctx, id, 0, nil, func(tx *gorm.DB) error {
		return tx.Where("series_id = ? AND date = ?", id, recurrence.DateOf(date)).Delete(&exclusionModel{}).Error
	})
}

func (s *Store) SetModification(ctx context.Context, id string, date time.Time, substituteEventID string) (*storage.RecurringEvent, error) {
	date = recurrence.DateOf(date)
	return s.mutate(ctx, id, 0, nil, func(tx *gorm.DB) error {
		if err := tx.Where("series_id = ? AND date = ?", id, date).Delete(&exclusionModel{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "series_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"substitute_event_id"}),
		}).Create(&modificationModel{SeriesID: id, Date: date, SubstituteEventID: substituteEventID}).Error
	})
}

func (s *Store) ClearModification(ctx context.Context, id string, date time.Time) (*storage.RecurringEvent, error) {
	return s.mutate(ctx, id, 0, nil, func(tx *gorm.DB) error {
		return tx.Where("series_id = ? AND date = ?", id, recurrence.DateOf(date)).Delete(&modificationModel{}).Error
	})
}

// addExclusion inserts the exclusion and drops any modification on the same date.
func addExclusion(tx *gorm.DB, id string, date time.Time) error {
	if err := tx.Where("series_id = ? AND date = ?", id, date).Delete(&modificationModel{}).Error; err != nil {
		return err
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&exclusionModel{SeriesID: id, Date: date}).Error
}

// mutate bumps the series version (optionally replacing the pattern and
// checking expectedVersion), runs fn and reloads the series, all in one
// transaction.
func (s *Store) mutate(ctx context.Context, id string, expectedVersion int64, pattern *recurrence.Pattern, fn func(tx *gorm.DB) error) (*storage.RecurringEvent, error) {
	var out *storage.RecurringEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := map[string]any{
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.now(),
		}
		if pattern != nil {
			for k, v := range patternColumns(*pattern) {
				cols[k] = v
			}
		}

		q := tx.Model(&recurringEventModel{}).Where("id = ?", id)
		if expectedVersion != 0 {
			q = q.Where("version = ?", expectedVersion)
		}
		res := q.Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&recurringEventModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return &storage.Error{Type: storage.ErrNotFound, Message: "recurring event not found: " + id}
			}
			return &storage.Error{Type: storage.ErrVersionMismatch, Message: "recurring event was modified concurrently"}
		}

		if err := fn(tx); err != nil {
			return err
		}

		rec, err := s.load(tx, "id = ?", id)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		var serr *storage.Error
		if !errors.As(err, &serr) {
			s.logger.Error("recurring event update failed", "series_id", id, "error", err)
			return nil, fmt.Errorf("failed to update recurring event: %w", err)
		}
		return nil, err
	}
	return out, nil
}
