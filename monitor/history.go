package monitor

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/acgov/go-mesh/mesh"
)

// HistoryConfig selects the database backing the metric history.
type HistoryConfig struct {
	Driver string `mapstructure:"driver"` // mysql, postgres, sqlite
	DSN    string `mapstructure:"dsn"`
}

// MetricRecord is one persisted sample row.
type MetricRecord struct {
	ID                  uint      `gorm:"primaryKey"`
	ServiceType         string    `gorm:"size:32;index:idx_service_instance"`
	InstanceID          string    `gorm:"size:128;index:idx_service_instance"`
	Timestamp           time.Time `gorm:"index"`
	ResponseTimeMs      float64
	AvailabilityPercent float64
	ErrorRatePercent    float64
	SuccessCount        int64
	FailureCount        int64
	CurrentConnections  int64
	TotalRequests       int64
}

// TableName pins the table name across dialects.
func (MetricRecord) TableName() string { return "mesh_metric_history" }

// HistoryStore persists samples as time-series rows. It is optional: its
// absence or failure never affects routing decisions.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore opens the configured database and migrates the schema.
func NewHistoryStore(cfg HistoryConfig) (*HistoryStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if err := db.AutoMigrate(&MetricRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history store: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Append stores one sample row.
func (h *HistoryStore) Append(ctx context.Context, m Metrics) error {
	rec := MetricRecord{
		ServiceType:         m.ServiceType.String(),
		InstanceID:          m.InstanceID,
		Timestamp:           m.Timestamp,
		ResponseTimeMs:      m.ResponseTimeMs,
		AvailabilityPercent: m.AvailabilityPercent,
		ErrorRatePercent:    m.ErrorRatePercent,
		SuccessCount:        m.SuccessCount,
		FailureCount:        m.FailureCount,
		CurrentConnections:  m.CurrentConnections,
		TotalRequests:       m.TotalRequests,
	}
	return h.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns the newest rows for one instance, newest first.
func (h *HistoryStore) Recent(ctx context.Context, serviceType mesh.ServiceType, instanceID string, limit int) ([]MetricRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []MetricRecord
	err := h.db.WithContext(ctx).
		Where("service_type = ? AND instance_id = ?", serviceType.String(), instanceID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// PruneBefore deletes rows older than cutoff and returns how many.
func (h *HistoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := h.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&MetricRecord{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying connection pool.
func (h *HistoryStore) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Recorder = (*HistoryStore)(nil)
