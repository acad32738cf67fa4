package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("token_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("token_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("token_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("token_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("token_store.unsupported_no_scheme")
)

// SQLStore persists credentials in a relational database through GORM.
type SQLStore struct {
	db          *gorm.DB
	driverLabel string
	locks       *keyedMutex
}

type credentialRecord struct {
	UserID       string `gorm:"column:user_id;primaryKey"`
	AccessToken  string `gorm:"column:access_token;not null"`
	RefreshToken string `gorm:"column:refresh_token;not null;default:''"`
	ExpiresUnix  int64  `gorm:"column:expires_unix;not null"`
	Scopes       string `gorm:"column:scopes;not null;default:''"`
	UpdatedUnix  int64  `gorm:"column:updated_unix;not null"`
}

func (credentialRecord) TableName() string {
	return "user_credentials"
}

// NewSQLStore opens databaseURL (sqlite:// or postgres://) and migrates the
// credentials table.
func NewSQLStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("token_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("token_store.open.%s: %w", driverLabel, openErr)
	}
	if driverLabel == "sqlite" {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		if sqlDB, dbErr := gormDB.DB(); dbErr == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("token_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &SQLStore{
		db:          gormDB,
		driverLabel: driverLabel,
		locks:       newKeyedMutex(),
	}, nil
}

// Driver exposes the selected database driver label.
func (s *SQLStore) Driver() string {
	return s.driverLabel
}

func (s *SQLStore) Get(ctx context.Context, userID string) (*Credential, error) {
	var record credentialRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("token_store.get.%s: %w", s.driverLabel, ErrNotFound)
		}
		return nil, fmt.Errorf("token_store.get.%s: %w", s.driverLabel, err)
	}
	return record.credential(), nil
}

func (s *SQLStore) Put(ctx context.Context, userID string, cred *Credential) error {
	cred, err := validatePut("put", s.driverLabel, userID, cred)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	record := newCredentialRecord(cred, time.Now().UTC())
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("token_store.put.%s: %w", s.driverLabel, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	if err := validateUserID("delete", s.driverLabel, userID); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&credentialRecord{}).Error; err != nil {
		return fmt.Errorf("token_store.delete.%s: %w", s.driverLabel, err)
	}
	return nil
}

// Update runs fn inside a transaction. On postgres the row is read with
// SELECT ... FOR UPDATE so replicas sharing the database serialize as well.
func (s *SQLStore) Update(ctx context.Context, userID string, fn UpdateFunc) (*Credential, error) {
	if err := validateUserID("update", s.driverLabel, userID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	var stored *Credential
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if s.driverLabel == "postgres" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var (
			cur    *Credential
			record credentialRecord
		)
		switch err := query.Where("user_id = ?", userID).Take(&record).Error; {
		case err == nil:
			cur = record.credential()
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("token_store.update.%s: %w", s.driverLabel, err)
		}

		next, err := applyUpdate(s.driverLabel, userID, cur, fn)
		if err != nil {
			return err
		}
		if next == nil {
			if cur == nil {
				return nil
			}
			if err := tx.Where("user_id = ?", userID).Delete(&credentialRecord{}).Error; err != nil {
				return fmt.Errorf("token_store.update.%s: %w", s.driverLabel, err)
			}
			return nil
		}
		rec := newCredentialRecord(next, time.Now().UTC())
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("token_store.update.%s: %w", s.driverLabel, err)
		}
		stored = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("token_store.close.%s: %w", s.driverLabel, err)
	}
	return sqlDB.Close()
}

func newCredentialRecord(cred *Credential, now time.Time) credentialRecord {
	var expires int64
	if !cred.ExpiresAt.IsZero() {
		expires = cred.ExpiresAt.Unix()
	}
	return credentialRecord{
		UserID:       cred.UserID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresUnix:  expires,
		Scopes:       strings.Join(cred.Scopes, " "),
		UpdatedUnix:  now.Unix(),
	}
}

func (r credentialRecord) credential() *Credential {
	cred := &Credential{
		UserID:       r.UserID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Scopes:       strings.Fields(r.Scopes),
	}
	if r.ExpiresUnix != 0 {
		cred.ExpiresAt = time.Unix(r.ExpiresUnix, 0).UTC()
	}
	return cred
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("token_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("token_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("token_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("token_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}

// SQLiteURL builds a sqlite:// URL for a filesystem path.
func SQLiteURL(path string) string {
	return "sqlite://" + path
}
