// Package kafkaconsumer applies region invalidation events from a Kafka topic
// to the spatial cache store.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	obs "github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
	"github.com/mohammed-shakir/geoquery-cache/internal/invalidation"
	mylog "github.com/mohammed-shakir/geoquery-cache/internal/logger"
)

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	store  cache.RegionDeleter
	seen   *seenIDs

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New returns a consumer deleting invalidated regions from store. zl receives the
// structured error events; nil discards them.
func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, store cache.RegionDeleter) *Consumer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   mylog.FromContext(base, zl),
		store:  store,
		seen:   newSeenIDs(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

// Start joins the consumer group and consumes in the background until ctx is
// canceled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: store does not support region deletes")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" {
		return errors.New("kafkaconsumer: brokers and topic are required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	h := c.handler()

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-time.After(c.cfg.RetryBackoff):
				case <-ctx.Done():
				}
			}
			if ctx.Err() != nil {
				c.logger.Info("kafka invalidation consumer shutting down")
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			obs.IncKafkaConsumerError("group")
			c.logger.Error("kafka group error", "err", err)
		}
	}()
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Readiness reports whether partitions are assigned, and which.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	slices.Sort(partitions)
	return true, partitions
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					c.assign[p] = struct{}{}
				}
			}
			c.assignMu.Unlock()
			c.assigned.Store(true)
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assigned.Store(false)
			c.assignMu.Lock()
			c.assign = map[int32]struct{}{}
			c.assignMu.Unlock()
		},
		process: c.ProcessOne,
	}
}

// ProcessOne applies one message. Malformed events are logged and skipped; an error
// is returned only when the store delete failed, so the offset stays unmarked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.skip(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.skip(ctx, msg, "validate", err)
		return nil
	}
	if c.seen.seen(ev.ID) {
		c.logger.Debug("duplicate invalidation event skipped", "id", ev.ID)
		return nil
	}

	region := ev.Region()
	var removed int64
	for _, d := range ev.DataTypes() {
		n, err := c.store.DeleteRegion(ctx, d, region)
		if err != nil {
			obs.IncKafkaConsumerError("store_delete")
			obs.ObserveInvalidation(removed, err)
			mylog.FromContext(mylog.WithDataType(ctx, string(d)), c.zlog).Error().
				Err(err).
				Str("kind", "store_delete").
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("kafka error")
			return fmt.Errorf("delete region %s for %s: %w", region, d, err)
		}
		removed += n
	}
	c.seen.add(ev.ID)

	obs.ObserveInvalidation(removed, nil)
	c.logger.Debug("invalidated region",
		"data_type", ev.DataType, "bbox", region.String(), "removed", removed)
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("data_type", ev.DataType).
		Str("bbox", region.String()).
		Int64("removed", removed).
		Msg("invalidated region")
	return nil
}

func (c *Consumer) skip(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	mylog.FromContext(ctx, c.zlog).Error().
		Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}
