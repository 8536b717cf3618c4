package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/gustycube/baxter/internal/types"
)

type classificationRow struct {
	ID        uint      `gorm:"primaryKey"`
	Target    string    `gorm:"size:64;not null;uniqueIndex:idx_classification_target_class"`
	Class     string    `gorm:"size:16;not null;uniqueIndex:idx_classification_target_class"`
	CreatedAt time.Time
}

func (classificationRow) TableName() string { return "classifications" }

type watchRow struct {
	ID        uint      `gorm:"primaryKey"`
	Notation  string    `gorm:"size:64;not null;index"`
	CreatedAt time.Time
}

func (watchRow) TableName() string { return "watchlist_entries" }

// SQL stores the state in a relational database through gorm. Postgres DSNs
// (postgres:// or key=value with host=) use the postgres driver, anything
// else is handed to sqlite.
type SQL struct {
	db *gorm.DB
}

func OpenSQL(dsn string) (*SQL, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	return NewSQL(db)
}

// NewSQL wraps an existing connection and migrates the schema.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&classificationRow{}, &watchRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Snapshot(ctx context.Context) (map[string]types.Class, error) {
	var rows []classificationRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]types.Class, len(rows))
	for _, row := range rows {
		class, err := types.ParseClass(row.Class)
		if err != nil {
			return nil, err
		}
		merge(out, class, row.Target)
	}
	return out, nil
}

func (s *SQL) Append(ctx context.Context, class types.Class, target string) error {
	if err := validClass(class); err != nil {
		return err
	}
	row := classificationRow{Target: target, Class: class.String()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *SQL) List(ctx context.Context, class types.Class) ([]string, error) {
	if err := validClass(class); err != nil {
		return nil, err
	}
	var targets []string
	err := s.db.WithContext(ctx).Model(&classificationRow{}).
		Where("class = ?", class.String()).
		Order("id ASC").
		Pluck("target", &targets).Error
	return targets, err
}

func (s *SQL) AppendWatch(ctx context.Context, notation string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&watchRow{Notation: notation}).Error; err != nil {
			return err
		}
		return tx.Model(&watchRow{}).Where("notation = ?", notation).Count(&count).Error
	})
	return int(count), err
}

func (s *SQL) Watchlist(ctx context.Context) ([]string, error) {
	var notations []string
	err := s.db.WithContext(ctx).Model(&watchRow{}).Order("id ASC").Pluck("notation", &notations).Error
	return notations, err
}

func (s *SQL) ResetDaily(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&classificationRow{}).Error
}

func (s *SQL) ResetWeekly(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&watchRow{}).Error
}

func (s *SQL) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
