// Package cache defines the spatial cache store contract shared by every driver.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
)

var ErrInvalidEntry = errors.New("invalid cache entry")

// Entry is one past fetch result. Entries are never mutated after insertion.
type Entry struct {
	ID        string
	DataType  model.DataType
	Point     model.Point
	Payload   model.Payload
	FetchedAt time.Time
	ExpiresAt time.Time
}

func (e Entry) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	case !e.DataType.Valid():
		return fmt.Errorf("%w: unknown data type %q", ErrInvalidEntry, e.DataType)
	case e.Payload == nil:
		return fmt.Errorf("%w: missing payload", ErrInvalidEntry)
	case e.Payload.Kind() != e.DataType:
		return fmt.Errorf("%w: %s payload stored as %s", ErrInvalidEntry, e.Payload.Kind(), e.DataType)
	case !finite(e.Point.Lat) || !finite(e.Point.Lon):
		return fmt.Errorf("%w: non-finite coordinates", ErrInvalidEntry)
	case !e.ExpiresAt.After(e.FetchedAt):
		return fmt.Errorf("%w: expires_at must be after fetched_at", ErrInvalidEntry)
	}
	return nil
}

// Query selects the newest entry of DataType within Tolerance degrees of Point on
// both axes that is still fresh at Now.
type Query struct {
	DataType  model.DataType
	Point     model.Point
	Tolerance float64
	Now       time.Time
}

func (q Query) BBox() model.BBox { return model.Around(q.Point, q.Tolerance) }

// Matches reports whether e satisfies q.
func (q Query) Matches(e Entry) bool {
	return e.DataType == q.DataType && e.ExpiresAt.After(q.Now) && q.BBox().Contains(e.Point)
}

// Newer reports whether a should win over b for the same query.
func Newer(a, b Entry) bool { return a.FetchedAt.After(b.FetchedAt) }

// Store is the append-only spatial cache.
type Store interface {
	FindFresh(ctx context.Context, q Query) (Entry, bool, error)
	Insert(ctx context.Context, e Entry) error
}

// Purger deletes entries that expired at or before now.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// RegionDeleter deletes every entry of a data type whose point lies in bb.
type RegionDeleter interface {
	DeleteRegion(ctx context.Context, d model.DataType, bb model.BBox) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
