package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

// entryRecord is the gorm row behind an Entry.
type entryRecord struct {
	AccountID  string `gorm:"primaryKey;size:36"`
	Code       string `gorm:"size:32"`
	FullName   string
	Email      string
	Initial    string    `gorm:"size:8"`
	Color      string    `gorm:"size:16"`
	LastUsedAt time.Time `gorm:"index"`
}

func (entryRecord) TableName() string { return "saved_admins" }

func toRecord(e Entry) entryRecord {
	return entryRecord{
		AccountID:  e.AccountID.String(),
		Code:       e.Code.String(),
		FullName:   e.FullName,
		Email:      e.Email,
		Initial:    e.Initial,
		Color:      e.Color,
		LastUsedAt: e.LastUsedAt,
	}
}

func (r entryRecord) entry() (Entry, error) {
	accountID, err := id.ParseAccountID(r.AccountID)
	if err != nil {
		return Entry{}, fmt.Errorf("stored account id: %w", err)
	}
	return Entry{
		AccountID:  accountID,
		Code:       id.AccountCode(r.Code),
		FullName:   r.FullName,
		Email:      r.Email,
		Initial:    r.Initial,
		Color:      r.Color,
		LastUsedAt: r.LastUsedAt,
	}, nil
}

// SQLiteStore keeps the directory in a device-local SQLite file so it
// survives restarts until explicitly cleared.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the directory file at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory folder: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewSQLite(db)
}

func NewSQLite(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("sqlite directory requires a database handle")
	}
	if err := db.AutoMigrate(&entryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate directory: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, entry Entry) error {
	rec := toRecord(entry)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("upsert directory entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, accountID id.AccountID) (*Entry, error) {
	var rec entryRecord
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID.String()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("directory entry not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get directory entry: %w", err)
	}
	e, err := rec.entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	var recs []entryRecord
	if err := s.db.WithContext(ctx).Order("last_used_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		e, err := rec.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, accountID id.AccountID) error {
	res := s.db.WithContext(ctx).Where("account_id = ?", accountID.String()).Delete(&entryRecord{})
	if res.Error != nil {
		return fmt.Errorf("remove directory entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("directory entry not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&entryRecord{}).Error; err != nil {
		return fmt.Errorf("clear directory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
