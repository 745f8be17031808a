// Package storage implements the SQLite capture catalog: a session log of
// every saved capture plus the heap watermark persistence used across boots.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lcalzada-xor/snuffle/internal/core/ports"
)

// Catalog implements ports.CaptureCatalog using GORM and SQLite.
type Catalog struct {
	db *gorm.DB
}

// CaptureModel is the GORM model for saved captures.
type CaptureModel struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Kind      string `gorm:"index"` // handshake, pmkid
	SSID      string `gorm:"column:ssid"`
	BSSID     string `gorm:"column:bssid;index"`
	Station   string
	Channel   uint8
	Messages  uint8
	SavedAt   time.Time `gorm:"index"`
}

// WatermarkModel is the single-row heap watermark record.
type WatermarkModel struct {
	ID         uint `gorm:"primaryKey"`
	MinFree    uint32
	MinLargest uint32
	UpdatedAt  time.Time
}

// NewCatalog initializes the database and migrates schema.
func NewCatalog(path string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if err := db.AutoMigrate(&CaptureModel{}, &WatermarkModel{}); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	// Instrument with OpenTelemetry
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	// WAL mode allows simultaneous readers and one writer
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	return &Catalog{db: db}, nil
}

// RecordCapture inserts one catalog row.
func (c *Catalog) RecordCapture(ctx context.Context, rec ports.CaptureRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	model := CaptureModel{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Kind:      rec.Kind,
		SSID:      rec.SSID,
		BSSID:     rec.BSSID,
		Station:   rec.Station,
		Channel:   rec.Channel,
		Messages:  rec.Messages,
		SavedAt:   rec.SavedAt,
	}
	return c.db.WithContext(ctx).Create(&model).Error
}

// ListCaptures returns the most recent rows, newest first.
func (c *Catalog) ListCaptures(ctx context.Context, limit int) ([]ports.CaptureRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []CaptureModel
	err := c.db.WithContext(ctx).
		Order("saved_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]ports.CaptureRecord, 0, len(models))
	for _, m := range models {
		out = append(out, ports.CaptureRecord{
			ID:        m.ID,
			SessionID: m.SessionID,
			Kind:      m.Kind,
			SSID:      m.SSID,
			BSSID:     m.BSSID,
			Station:   m.Station,
			Channel:   m.Channel,
			Messages:  m.Messages,
			SavedAt:   m.SavedAt,
		})
	}
	return out, nil
}

// SaveWatermarks upserts the single watermark row.
func (c *Catalog) SaveWatermarks(ctx context.Context, minFree, minLargest uint32) error {
	model := WatermarkModel{ID: 1, MinFree: minFree, MinLargest: minLargest, UpdatedAt: time.Now()}
	return c.db.WithContext(ctx).Save(&model).Error
}

// LoadWatermarks reads the previous session's watermarks; zeros when none.
func (c *Catalog) LoadWatermarks(ctx context.Context) (minFree, minLargest uint32, err error) {
	var model WatermarkModel
	res := c.db.WithContext(ctx).First(&model, 1)
	if res.Error != nil {
		if res.Error == gorm.ErrRecordNotFound {
			return 0, 0, nil
		}
		return 0, 0, res.Error
	}
	return model.MinFree, model.MinLargest, nil
}

// Close releases the underlying connection pool.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
