// Package sqlstore is the gorm-backed cache driver (sqlite or postgres).
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
)

const driver = "sql"

// Row is one record of satellite_data_cache.
type Row struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)"`
	DataType  string         `gorm:"type:varchar(32);not null;index:idx_cache_lookup,priority:1"`
	Latitude  float64        `gorm:"not null;index:idx_cache_lookup,priority:2"`
	Longitude float64        `gorm:"not null;index:idx_cache_lookup,priority:3"`
	Data      datatypes.JSON `gorm:"not null"`
	FetchedAt time.Time      `gorm:"not null;index"`
	ExpiresAt time.Time      `gorm:"not null;index"`
}

func (Row) TableName() string { return "satellite_data_cache" }

type Store struct {
	db *gorm.DB
}

// New migrates the cache table and returns the driver.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("migrate satellite_data_cache: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) FindFresh(ctx context.Context, q cache.Query) (cache.Entry, bool, error) {
	start := time.Now()
	bb := q.BBox()

	var rows []Row
	err := s.db.WithContext(ctx).
		Where("data_type = ?", string(q.DataType)).
		Where("latitude BETWEEN ? AND ?", bb.Y1, bb.Y2).
		Where("longitude BETWEEN ? AND ?", bb.X1, bb.X2).
		Where("expires_at > ?", q.Now.UTC()).
		Order("fetched_at DESC").
		Limit(1).
		Find(&rows).Error
	observability.ObserveStoreOp(driver, "find_fresh", err, time.Since(start).Seconds())
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("query satellite_data_cache: %w", err)
	}
	if len(rows) == 0 {
		return cache.Entry{}, false, nil
	}
	e, err := rows[0].entry()
	if err != nil {
		return cache.Entry{}, false, err
	}
	return e, true, nil
}

func (s *Store) Insert(ctx context.Context, e cache.Entry) (err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp(driver, "insert", err, time.Since(start).Seconds()) }()

	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	row := Row{
		ID:        e.ID,
		DataType:  string(e.DataType),
		Latitude:  e.Point.Lat,
		Longitude: e.Point.Lon,
		Data:      datatypes.JSON(data),
		FetchedAt: e.FetchedAt.UTC(),
		ExpiresAt: e.ExpiresAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert satellite_data_cache: %w", err)
	}
	return nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&Row{})
	observability.ObserveStoreOp(driver, "purge", res.Error, time.Since(start).Seconds())
	if res.Error != nil {
		return 0, fmt.Errorf("purge satellite_data_cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteRegion(ctx context.Context, d model.DataType, bb model.BBox) (int64, error) {
	start := time.Now()
	res := s.db.WithContext(ctx).
		Where("data_type = ?", string(d)).
		Where("latitude BETWEEN ? AND ?", bb.Y1, bb.Y2).
		Where("longitude BETWEEN ? AND ?", bb.X1, bb.X2).
		Delete(&Row{})
	observability.ObserveStoreOp(driver, "delete_region", res.Error, time.Since(start).Seconds())
	if res.Error != nil {
		return 0, fmt.Errorf("delete region from satellite_data_cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	start := time.Now()
	err = sqlDB.PingContext(ctx)
	observability.ObserveStoreOp(driver, "ping", err, time.Since(start).Seconds())
	return err
}

func (r Row) entry() (cache.Entry, error) {
	d := model.DataType(r.DataType)
	p, err := model.DecodePayload(d, r.Data)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("row %s: %w", r.ID, err)
	}
	return cache.Entry{
		ID:        r.ID,
		DataType:  d,
		Point:     model.Point{Lat: r.Latitude, Lon: r.Longitude},
		Payload:   p,
		FetchedAt: r.FetchedAt,
		ExpiresAt: r.ExpiresAt,
	}, nil
}
