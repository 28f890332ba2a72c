// Package store persists voice messages and appliance settings through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database backend.
type Config struct {
	Driver string
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN   string
	Debug bool
}

// Store is the message repository.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	s, err := open(dialector, logger, cfg.Debug)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite database path is empty")
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres dsn is empty")
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func open(dialector gorm.Dialector, logger *slog.Logger, debug bool) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	gormLog := newSlogAdapter(logger)
	if debug {
		gormLog = gormLog.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLog,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialector.Name(), err)
	}
	return &Store{db: db, now: time.Now, logger: logger}, nil
}

// Migrate creates or updates the messages and settings tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Message{}, &Setting{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// AddMessage inserts a message for member (stored upper-cased) and returns its id.
func (s *Store) AddMessage(ctx context.Context, member string, filename string, path string, duration *float64) (int64, error) {
	msg := Message{
		FamilyMember:    normalizeMember(member),
		Filename:        filename,
		FilePath:        path,
		DurationSeconds: duration,
		RecordedAt:      s.timestamp(),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return msg.ID, nil
}

// UpdateTranscription stores text for message id.
func (s *Store) UpdateTranscription(ctx context.Context, id int64, text string) error {
	result := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).Update("transcription", text)
	if result.Error != nil {
		return fmt.Errorf("update transcription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update transcription %d: %w", id, ErrNotFound)
	}
	return nil
}

// Message returns one message by id, archived or not.
func (s *Store) Message(ctx context.Context, id int64) (Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("load message %d: %w", id, err)
	}
	return msg, nil
}

// active scopes a query to unarchived messages in most-recent-first order.
func (s *Store) active(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&Message{}).
		Where("is_archived = ?", false).
		Order("recorded_at DESC").
		Order("id DESC")
}

// MessagesForMember returns up to limit unarchived messages, most recent first. A non-positive
// limit returns all of them.
func (s *Store) MessagesForMember(ctx context.Context, member string, limit int) ([]Message, error) {
	q := s.db.WithContext(ctx).
		Where("family_member = ? AND is_archived = ?", normalizeMember(member), false).
		Order("recorded_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Message
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", member, err)
	}
	return out, nil
}

// RecentMessages returns unarchived messages recorded within the last days, most recent first.
func (s *Store) RecentMessages(ctx context.Context, days int) ([]Message, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := s.timestamp().AddDate(0, 0, -days)

	var out []Message
	if err := s.active(ctx).Where("recorded_at >= ?", cutoff).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	return out, nil
}

// AllMessages returns up to limit unarchived messages, most recent first.
func (s *Store) AllMessages(ctx context.Context, limit int) ([]Message, error) {
	q := s.active(ctx)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Message
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// Search matches text against transcriptions and tags.
func (s *Store) Search(ctx context.Context, text string) ([]Message, error) {
	pattern := "%" + strings.TrimSpace(text) + "%"
	var out []Message
	err := s.active(ctx).
		Where("(transcription LIKE ? OR tags LIKE ?)", pattern, pattern).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return out, nil
}

// ArchiveMessage hides a message from listings without deleting it.
func (s *Store) ArchiveMessage(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).Update("is_archived", true)
	if result.Error != nil {
		return fmt.Errorf("archive message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("archive message %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteMessage removes a message row. The audio file is left to the caller.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Message{})
	if result.Error != nil {
		return fmt.Errorf("delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("delete message %d: %w", id, ErrNotFound)
	}
	return nil
}

// MemberCounts returns unarchived message counts per member, largest first.
func (s *Store) MemberCounts(ctx context.Context) ([]MemberCount, error) {
	var out []MemberCount
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Select("family_member, COUNT(*) AS count").
		Where("is_archived = ?", false).
		Group("family_member").
		Order("count DESC").
		Order("family_member ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return out, nil
}

// SetSetting upserts a key/value preference.
func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: s.timestamp()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var setting Setting
	err := s.db.WithContext(ctx).Where(&Setting{Key: key}).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return setting.Value, true, nil
}

func normalizeMember(member string) string {
	return strings.ToUpper(strings.TrimSpace(member))
}
