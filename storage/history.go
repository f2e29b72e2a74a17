package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"hf-fetch/downloader"
)

// Download statuses recorded in history
const (
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// DownloadRecord is one download attempt
type DownloadRecord struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	RepoID          string     `gorm:"index" json:"repo_id"`
	Files           []string   `gorm:"serializer:json" json:"files"`
	TotalSize       int64      `json:"total_size"`
	StartTime       time.Time  `gorm:"index" json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Status          string     `gorm:"index" json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	DownloadSpeed   float64    `json:"download_speed"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
}

// Duration is how long the attempt ran, or has been running
func (r DownloadRecord) Duration(now time.Time) time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return now.Sub(r.StartTime)
}

// Stats summarises the history
type Stats struct {
	TotalDownloads int64
	Completed      int64
	Failed         int64
	Cancelled      int64
	TotalBytes     int64
	SuccessRate    float64
	AverageSpeed   float64
}

// RecordFilter narrows Records; zero values match everything
type RecordFilter struct {
	RepoID string
	Status string
	Limit  int
}

// History stores download records in SQLite
type History struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenHistory opens or creates the history database at path
func OpenHistory(path string, logger *zap.Logger) (*History, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.AutoMigrate(&DownloadRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &History{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database
func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordStart implements downloader.HistoryRecorder
func (h *History) RecordStart(repoID string, files []string, totalSize int64) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	record := DownloadRecord{
		ID:        id.String(),
		RepoID:    repoID,
		Files:     files,
		TotalSize: totalSize,
		StartTime: h.now(),
		Status:    StatusDownloading,
	}
	if err := h.db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to record download start: %w", err)
	}
	h.logger.Debug("download recorded", zap.String("id", record.ID), zap.String("repo", repoID))
	return record.ID, nil
}

// RecordFinish implements downloader.HistoryRecorder
func (h *History) RecordFinish(id string, result downloader.DownloadSummary) error {
	var record DownloadRecord
	if err := h.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.logger.Warn("no history record to update", zap.String("id", id))
			return nil
		}
		return err
	}

	end := h.now()
	record.Status = result.Status
	record.EndTime = &end
	record.BytesDownloaded = result.BytesDownloaded
	record.DownloadSpeed = result.AverageSpeed
	if result.Err != nil {
		record.ErrorMessage = result.Err.Error()
	}
	return h.db.Save(&record).Error
}

// Records returns matching records, most recent first
func (h *History) Records(filter RecordFilter) ([]DownloadRecord, error) {
	query := h.db.Model(&DownloadRecord{}).Order("start_time DESC")
	if filter.RepoID != "" {
		query = query.Where("repo_id = ?", filter.RepoID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []DownloadRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Statistics aggregates all records. Average speed covers completed downloads only.
func (h *History) Statistics() (Stats, error) {
	var stats Stats

	type row struct {
		Status string
		Count  int64
		Bytes  int64
		Speed  float64
	}
	var rows []row
	err := h.db.Model(&DownloadRecord{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(bytes_downloaded), 0) AS bytes, COALESCE(AVG(download_speed), 0) AS speed").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}

	for _, r := range rows {
		stats.TotalDownloads += r.Count
		stats.TotalBytes += r.Bytes
		switch r.Status {
		case StatusCompleted:
			stats.Completed = r.Count
			stats.AverageSpeed = r.Speed
		case StatusFailed:
			stats.Failed = r.Count
		case StatusCancelled:
			stats.Cancelled = r.Count
		}
	}
	if stats.TotalDownloads > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.TotalDownloads) * 100
	}
	return stats, nil
}

// Clear deletes every record
func (h *History) Clear() error {
	return h.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&DownloadRecord{}).Error
}

// CleanupOlderThan deletes records started more than days ago and returns how many were removed
func (h *History) CleanupOlderThan(days int) (int64, error) {
	cutoff := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	result := h.db.Where("start_time < ?", cutoff).Delete(&DownloadRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		h.logger.Info("removed old download records", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
