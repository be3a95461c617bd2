package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/cache/keys"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/config"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
	h3mapper "github.com/mohammed-shakir/geoquery-cache/internal/mapper/h3"
)

// wire shape of an entry body, mirrors the persisted row
type wireEntry struct {
	ID        string          `json:"id"`
	DataType  model.DataType  `json:"data_type"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// most index cells DeleteRegion reads before scanning the whole type instead
const maxRegionCells = 4096

type StoreOption func(*Store)

// WithTolerance sets the tolerance each data type is indexed for. Lookups with a
// wider tolerance are rejected.
func WithTolerance(fn func(model.DataType) float64) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.tolerance = fn
		}
	}
}

func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

type Store struct {
	cli       *Client
	mapper    *h3mapper.Mapper
	tolerance func(model.DataType) float64
	now       func() time.Time
}

// NewStore fails when a data type's tolerance cannot be indexed.
func NewStore(cli *Client, opts ...StoreOption) (*Store, error) {
	s := &Store{
		cli:       cli,
		mapper:    h3mapper.New(),
		tolerance: func(model.DataType) float64 { return config.DefaultTolerance },
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	for _, d := range model.DataTypes {
		if err := h3mapper.CheckTolerance(s.tolerance(d)); err != nil {
			return nil, fmt.Errorf("redis index for %s: %w", d, err)
		}
	}
	return s, nil
}

func (s *Store) indexRes(d model.DataType) int {
	return s.mapper.ResolutionFor(s.tolerance(d))
}

func (s *Store) Insert(ctx context.Context, e cache.Entry) (err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp(driver, "insert", err, time.Since(start).Seconds()) }()

	if err := e.Validate(); err != nil {
		return err
	}
	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// already stale, no lookup could ever return it
		return nil
	}

	res := s.indexRes(e.DataType)
	cell, err := s.mapper.Cell(e.Point, res)
	if err != nil {
		return fmt.Errorf("index cell: %w", err)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	body, err := json.Marshal(wireEntry{
		ID:        e.ID,
		DataType:  e.DataType,
		Latitude:  e.Point.Lat,
		Longitude: e.Point.Lon,
		Data:      data,
		FetchedAt: e.FetchedAt.UTC(),
		ExpiresAt: e.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	idx := keys.IndexKey(string(e.DataType), res, cell)
	_, err = s.cli.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keys.EntryKey(e.ID), body, ttl)
		p.ZAdd(ctx, idx, redis.Z{Score: float64(e.ExpiresAt.UnixMilli()), Member: e.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis insert %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) FindFresh(ctx context.Context, q cache.Query) (best cache.Entry, found bool, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp(driver, "find_fresh", err, time.Since(start).Seconds()) }()

	res := s.indexRes(q.DataType)
	if s.mapper.ResolutionFor(q.Tolerance) < res {
		return cache.Entry{}, false, fmt.Errorf("tolerance %v is wider than the %s index allows", q.Tolerance, q.DataType)
	}
	cells, err := s.mapper.Neighborhood(q.Point, res)
	if err != nil {
		return cache.Entry{}, false, err
	}

	lo := "(" + strconv.FormatInt(q.Now.UnixMilli(), 10)
	cmds := make([]*redis.StringSliceCmd, 0, len(cells))
	_, err = s.cli.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, c := range cells {
			cmds = append(cmds, p.ZRangeByScore(ctx, keys.IndexKey(string(q.DataType), res, c), &redis.ZRangeBy{Min: lo, Max: "+inf"}))
		}
		return nil
	})
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("redis index lookup: %w", err)
	}

	seen := map[string]struct{}{}
	var entryKeys []string
	for _, cmd := range cmds {
		for _, id := range cmd.Val() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			entryKeys = append(entryKeys, keys.EntryKey(id))
		}
	}
	if len(entryKeys) == 0 {
		return cache.Entry{}, false, nil
	}

	raw, err := s.cli.MGet(ctx, entryKeys)
	if err != nil {
		return cache.Entry{}, false, err
	}
	for _, k := range entryKeys {
		b, ok := raw[k]
		if !ok {
			continue
		}
		e, err := decodeEntry(b)
		if err != nil {
			return cache.Entry{}, false, fmt.Errorf("redis entry %s: %w", k, err)
		}
		if !q.Matches(e) {
			continue
		}
		if !found || cache.Newer(e, best) {
			best, found = e, true
		}
	}
	return best, found, nil
}

// PurgeExpired trims index members that expired at or before now together with
// their bodies, and drops index keys left empty.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (n int64, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp(driver, "purge", err, time.Since(start).Seconds()) }()

	hi := strconv.FormatInt(now.UnixMilli(), 10)
	err = s.cli.ScanKeys(ctx, keys.IndexPattern(""), func(idx string) error {
		ids, err := s.cli.rdb.ZRangeByScore(ctx, idx, &redis.ZRangeBy{Min: "-inf", Max: hi}).Result()
		if err != nil {
			return fmt.Errorf("redis ZRANGEBYSCORE %q: %w", idx, err)
		}
		removed, err := s.remove(ctx, idx, ids)
		n += removed
		return err
	})
	return n, err
}

// DeleteRegion removes every entry of d whose point lies in bb, fresh or not. It
// reads the index cells covering bb at the type's resolution, and falls back to
// scanning every index key of d when the cover is larger than maxRegionCells.
func (s *Store) DeleteRegion(ctx context.Context, d model.DataType, bb model.BBox) (n int64, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp(driver, "delete_region", err, time.Since(start).Seconds()) }()

	res := s.indexRes(d)
	cells, ok, err := s.mapper.CoverBBox(bb, res, maxRegionCells)
	if err != nil {
		return 0, err
	}
	if !ok {
		err = s.cli.ScanKeys(ctx, keys.IndexPattern(string(d)), func(idx string) error {
			ids, err := s.cli.rdb.ZRange(ctx, idx, 0, -1).Result()
			if err != nil {
				return fmt.Errorf("redis ZRANGE %q: %w", idx, err)
			}
			removed, err := s.removeInside(ctx, idx, ids, bb)
			n += removed
			return err
		})
		return n, err
	}

	idxKeys := make([]string, len(cells))
	cmds := make([]*redis.StringSliceCmd, len(cells))
	_, err = s.cli.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, c := range cells {
			idxKeys[i] = keys.IndexKey(string(d), res, c)
			cmds[i] = p.ZRange(ctx, idxKeys[i], 0, -1)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis region lookup: %w", err)
	}
	for i, cmd := range cmds {
		removed, err := s.removeInside(ctx, idxKeys[i], cmd.Val(), bb)
		n += removed
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// removeInside drops the members of idx whose entry lies in bb, has no body left or
// cannot be decoded.
func (s *Store) removeInside(ctx context.Context, idx string, ids []string, bb model.BBox) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	entryKeys := make([]string, len(ids))
	for i, id := range ids {
		entryKeys[i] = keys.EntryKey(id)
	}
	raw, err := s.cli.MGet(ctx, entryKeys)
	if err != nil {
		return 0, err
	}
	var doomed []string
	for i, id := range ids {
		b, ok := raw[entryKeys[i]]
		if !ok {
			// body already expired; the index member is garbage
			doomed = append(doomed, id)
			continue
		}
		e, err := decodeEntry(b)
		if err != nil || bb.Contains(e.Point) {
			doomed = append(doomed, id)
		}
	}
	return s.remove(ctx, idx, doomed)
}

func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx) }

// remove drops ids from one index key and deletes their bodies. It returns how many
// index members were removed.
func (s *Store) remove(ctx context.Context, idx string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	members := make([]any, len(ids))
	entryKeys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		entryKeys[i] = keys.EntryKey(id)
	}
	var zrem *redis.IntCmd
	var card *redis.IntCmd
	_, err := s.cli.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		zrem = p.ZRem(ctx, idx, members...)
		p.Del(ctx, entryKeys...)
		card = p.ZCard(ctx, idx)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis remove from %q: %w", idx, err)
	}
	if card.Val() == 0 {
		if err := s.cli.rdb.Del(ctx, idx).Err(); err != nil {
			return zrem.Val(), fmt.Errorf("redis DEL %q: %w", idx, err)
		}
	}
	return zrem.Val(), nil
}

func decodeEntry(b []byte) (cache.Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(b, &w); err != nil {
		return cache.Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	p, err := model.DecodePayload(w.DataType, w.Data)
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.Entry{
		ID:        w.ID,
		DataType:  w.DataType,
		Point:     model.Point{Lat: w.Latitude, Lon: w.Longitude},
		Payload:   p,
		FetchedAt: w.FetchedAt,
		ExpiresAt: w.ExpiresAt,
	}, nil
}
