// Package observations stores community-reported climate observations.
package observations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohammed-shakir/geoquery-cache/pkg/validator"
)

// ErrInvalid wraps validation failures of a submitted observation.
var ErrInvalid = errors.New("invalid observation")

const DefaultLimit = 100

var (
	Types      = []string{"heat_stress", "flooding", "pollution"}
	Severities = []string{"low", "medium", "high", "critical"}
)

type Observation struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID          string    `gorm:"type:varchar(128);not null;index" json:"user_id"`
	ObservationType string    `gorm:"type:varchar(32);not null;index" json:"observation_type"`
	Severity        string    `gorm:"type:varchar(16);not null" json:"severity"`
	Description     string    `gorm:"type:text" json:"description"`
	Latitude        float64   `gorm:"not null" json:"latitude"`
	Longitude       float64   `gorm:"not null" json:"longitude"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

func (Observation) TableName() string { return "community_observations" }

// BeforeCreate ensures UUID identifiers are generated automatically.
func (o *Observation) BeforeCreate(*gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// Input is what a client submits; UserID comes from the auth proxy header.
type Input struct {
	UserID          string   `json:"user_id" validate:"required,max=128"`
	ObservationType string   `json:"observation_type" validate:"required,oneof=heat_stress flooding pollution"`
	Severity        string   `json:"severity" validate:"required,oneof=low medium high critical"`
	Description     string   `json:"description" validate:"max=1000"`
	Latitude        *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude       *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type Filter struct {
	Type  string
	Limit int
}

type Repository struct {
	db       *gorm.DB
	maxLimit int
	now      func() time.Time
}

// New migrates community_observations and returns the repository. List never
// returns more than maxLimit rows.
func New(db *gorm.DB, maxLimit int) (*Repository, error) {
	if err := db.AutoMigrate(&Observation{}); err != nil {
		return nil, fmt.Errorf("migrate community_observations: %w", err)
	}
	if maxLimit <= 0 {
		maxLimit = DefaultLimit
	}
	return &Repository{db: db, maxLimit: maxLimit, now: time.Now}, nil
}

func (r *Repository) Submit(ctx context.Context, in Input) (Observation, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Description = strings.TrimSpace(in.Description)
	if err := validator.ValidateStruct(in); err != nil {
		return Observation{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	o := Observation{
		UserID:          in.UserID,
		ObservationType: in.ObservationType,
		Severity:        in.Severity,
		Description:     in.Description,
		Latitude:        *in.Latitude,
		Longitude:       *in.Longitude,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&o).Error; err != nil {
		return Observation{}, fmt.Errorf("insert observation: %w", err)
	}
	return o, nil
}

// List returns observations newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Observation, error) {
	limit := f.Limit
	if limit <= 0 || limit > r.maxLimit {
		limit = r.maxLimit
	}
	q := r.db.WithContext(ctx).Model(&Observation{})
	if f.Type != "" {
		q = q.Where("observation_type = ?", f.Type)
	}
	var out []Observation
	if err := q.Order("created_at DESC").Order("id").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return out, nil
}
