package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/herihandoko/apimanager-new-sub000/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	return nil
}

// Migrate runs AutoMigrate for all models. Split out of Init so tests can
// run it against an in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Provider{}, &Endpoint{},
		&DatabaseConnection{}, &DynamicQuery{},
		&APIKey{},
		&CallLog{}, &ProviderLog{}, &ConnectionLog{}, &QueryLog{},
		&Setting{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// GetProviderByName loads a provider and its endpoints by its unique name.
func GetProviderByName(name string) (*Provider, error) {
	var p Provider
	if err := DB.Preload("Endpoints", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order, id")
	}).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProvider loads a provider and its endpoints by id.
func GetProvider(id uint) (*Provider, error) {
	var p Provider
	if err := DB.Preload("Endpoints", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order, id")
	}).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func GetConnection(id uint) (*DatabaseConnection, error) {
	var c DatabaseConnection
	if err := DB.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func GetDynamicQuery(id uint) (*DynamicQuery, error) {
	var q DynamicQuery
	if err := DB.First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}
