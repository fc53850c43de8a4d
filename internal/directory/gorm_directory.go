package directory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/taskhive/messaging/internal/config"
)

// profileModel maps the platform's users table.
type profileModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	DisplayName string `gorm:"column:display_name"`
	AvatarURL   string `gorm:"column:avatar_url"`
}

func (profileModel) TableName() string { return "users" }

// GormDirectory implements ProfileDirectory over the platform's postgres
// user database.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory connects to the user database.
func NewGormDirectory(cfg config.DirectoryConfig) (*GormDirectory, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to user database: %w", err)
	}
	return &GormDirectory{db: db}, nil
}

func (d *GormDirectory) Get(ctx context.Context, id string) (*Profile, error) {
	var model profileModel
	result := d.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, result.Error
	}
	return &Profile{ID: model.ID, DisplayName: model.DisplayName, AvatarURL: model.AvatarURL}, nil
}

func (d *GormDirectory) GetBatch(ctx context.Context, ids []string) (map[string]Profile, error) {
	if len(ids) == 0 {
		return map[string]Profile{}, nil
	}

	var models []profileModel
	result := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	profiles := make(map[string]Profile, len(models))
	for _, m := range models {
		profiles[m.ID] = Profile{ID: m.ID, DisplayName: m.DisplayName, AvatarURL: m.AvatarURL}
	}
	return profiles, nil
}

func (d *GormDirectory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
