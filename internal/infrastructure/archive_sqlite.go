package infrastructure

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// SessionRecord is the persisted form of a finished session. The live
// registry stays in memory; the archive only ever sees terminal snapshots.
type SessionRecord struct {
	ID               string `gorm:"primaryKey"`
	SourceURL        string
	Platform         string `gorm:"index"`
	Filename         string
	State            string `gorm:"index"`
	BytesTransferred int64
	TotalBytes       int64
	FailureReason    string
	CreatedAt        time.Time
	ArchivedAt       time.Time
}

// ArchiveStats summarizes the archive for the stats endpoint and the CLI.
type ArchiveStats struct {
	Total          int64            `json:"total"`
	Completed      int64            `json:"completed"`
	Failed         int64            `json:"failed"`
	BytesDelivered int64            `json:"bytes_delivered"`
	ByPlatform     map[string]int64 `json:"by_platform"`
}

// SQLiteSessionArchive persists terminal session snapshots to SQLite.
type SQLiteSessionArchive struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewSQLiteSessionArchive opens (and migrates) the archive database,
// creating parent directories as needed.
func NewSQLiteSessionArchive(dbPath string, log *zap.Logger) (*SQLiteSessionArchive, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive database: %w", err)
	}

	return &SQLiteSessionArchive{db: db, log: log.Named("archive")}, nil
}

// Record archives a terminal snapshot. Non-terminal snapshots are dropped;
// failures are logged, never surfaced, because archiving is best effort and
// must not affect the stream outcome.
func (a *SQLiteSessionArchive) Record(snap domain.SessionSnapshot) {
	if !snap.State.IsTerminal() {
		return
	}

	rec := SessionRecord{
		ID:               snap.ID,
		SourceURL:        snap.SourceURL,
		Platform:         string(snap.Platform),
		Filename:         snap.Filename,
		State:            string(snap.State),
		BytesTransferred: snap.BytesTransferred,
		TotalBytes:       snap.TotalBytes,
		FailureReason:    snap.FailureReason,
		CreatedAt:        snap.CreatedAt,
		ArchivedAt:       time.Now(),
	}

	if err := a.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
		a.log.Warn("failed to archive session",
			zap.String("session_id", snap.ID),
			zap.Error(err))
	}
}

// Recent returns the most recently archived sessions, newest first.
func (a *SQLiteSessionArchive) Recent(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []SessionRecord
	err := a.db.Order("archived_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// Stats aggregates the archive.
func (a *SQLiteSessionArchive) Stats() (*ArchiveStats, error) {
	stats := &ArchiveStats{ByPlatform: make(map[string]int64)}

	if err := a.db.Model(&SessionRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := a.db.Model(&SessionRecord{}).
		Where("state = ?", string(domain.StateCompleted)).
		Count(&stats.Completed).Error; err != nil {
		return nil, err
	}
	if err := a.db.Model(&SessionRecord{}).
		Where("state = ?", string(domain.StateFailed)).
		Count(&stats.Failed).Error; err != nil {
		return nil, err
	}

	var delivered struct{ Total int64 }
	if err := a.db.Model(&SessionRecord{}).
		Select("COALESCE(SUM(bytes_transferred), 0) as total").
		Where("state = ?", string(domain.StateCompleted)).
		Scan(&delivered).Error; err != nil {
		return nil, err
	}
	stats.BytesDelivered = delivered.Total

	rows := []struct {
		Platform string
		Count    int64
	}{}
	if err := a.db.Model(&SessionRecord{}).
		Select("platform, COUNT(*) as count").
		Group("platform").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByPlatform[row.Platform] = row.Count
	}
	return stats, nil
}

// Close releases the underlying database handle.
func (a *SQLiteSessionArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Clear removes every archived record. Used by the CLI.
func (a *SQLiteSessionArchive) Clear() (int64, error) {
	res := a.db.Where("1 = 1").Delete(&SessionRecord{})
	return res.RowsAffected, res.Error
}
