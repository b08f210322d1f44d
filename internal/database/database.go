package database

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// Models

// Provider is one configured upstream venue. Exactly one row should be
// enabled at a time; the enabled one is what StartExchange connects to.
type Provider struct {
	Name      string `gorm:"primaryKey"`
	Title     string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BanState is the persisted "do not call upstream until" timestamp. A single
// row shared by every process pointed at the same database.
type BanState struct {
	ID        uint  `gorm:"primaryKey"`
	BanUntil  int64 // epoch millis, 0 = not banned
	UpdatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	// Check if this is a PostgreSQL connection string
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		// SQLite fallback
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Provider{}, &BanState{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Provider operations

// SeedProviders inserts any missing provider rows. The first name is enabled
// when no provider is enabled yet, so a fresh database is immediately usable.
func (d *Database) SeedProviders(names ...string) error {
	for _, name := range names {
		p := Provider{Name: name, Title: titleCase(name)}
		if err := d.db.FirstOrCreate(&p, Provider{Name: name}).Error; err != nil {
			return err
		}
	}

	var enabled int64
	d.db.Model(&Provider{}).Where("enabled = ?", true).Count(&enabled)
	if enabled == 0 && len(names) > 0 {
		return d.EnableProvider(names[0])
	}
	return nil
}

// ActiveProviderName returns the enabled provider, or "" when none is.
func (d *Database) ActiveProviderName() (string, error) {
	var p Provider
	err := d.db.Where("enabled = ?", true).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

// EnableProvider marks one provider enabled and disables the rest.
func (d *Database) EnableProvider(name string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Provider{}).Where("enabled = ?", true).Update("enabled", false).Error; err != nil {
			return err
		}
		return tx.Model(&Provider{}).Where("name = ?", name).Update("enabled", true).Error
	})
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Ban state operations

// LoadBanUntil returns the persisted ban timestamp, 0 when unset.
func (d *Database) LoadBanUntil() int64 {
	var state BanState
	err := d.db.First(&state, 1).Error
	if err != nil {
		return 0
	}
	return state.BanUntil
}

// SaveBanUntil upserts the ban timestamp. Last writer wins; the value only
// ever moves into the future or resets to 0.
func (d *Database) SaveBanUntil(until int64) {
	state := BanState{ID: 1, BanUntil: until}
	if err := d.db.Save(&state).Error; err != nil {
		log.Error().Err(err).Int64("until", until).Msg("Failed to persist ban state")
	}
}
