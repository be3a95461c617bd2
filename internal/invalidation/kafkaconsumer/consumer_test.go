package kafkaconsumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/geoquery-cache/internal/core/config"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/invalidation"
)

type deleteCall struct {
	d  model.DataType
	bb model.BBox
}

type fakeStore struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	calls     []deleteCall
}

func (f *fakeStore) DeleteRegion(_ context.Context, d model.DataType, bb model.BBox) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, deleteCall{d: d, bb: bb})
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	return 1, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sess struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "geoquery-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(id, dataType string) []byte {
	ev := invalidation.Event{
		Version: 1, Op: "invalidate", ID: id, DataType: dataType, TS: time.Now().UTC(),
		BBox: &invalidation.BBox{X1: -95.5, Y1: 29.6, X2: -95.2, Y2: 29.9, SRID: "EPSG:4326"},
	}
	b, _ := json.Marshal(ev)
	return b
}

func msgAt(part int32, off int64, v []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "geoquery-invalidation", Partition: part, Offset: off, Value: v}
}

func newConsumerForTest(fs *fakeStore, zl *zerolog.Logger) *Consumer {
	cfg := FromConfig(config.InvalidationCfg{Brokers: "x", Topic: "geoquery-invalidation", GroupID: "g"})
	return New(cfg, nil, zl, fs)
}

func TestProcessOne_DeletesPerDataType(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs, nil)

	if err := c.ProcessOne(context.Background(), msgAt(0, 1, eventBytes("", "flood"))); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(fs.calls) != 1 || fs.calls[0].d != model.Flood || fs.calls[0].bb.X1 != -95.5 {
		t.Fatalf("calls=%+v", fs.calls)
	}

	if err := c.ProcessOne(context.Background(), msgAt(0, 2, eventBytes("", ""))); err != nil {
		t.Fatalf("ProcessOne all types: %v", err)
	}
	if fs.count() != 1+len(model.DataTypes) {
		t.Fatalf("calls=%d", fs.count())
	}
}

func TestProcessOne_SkipsMalformedAndLogs(t *testing.T) {
	fs := &fakeStore{}
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	c := newConsumerForTest(fs, &zl)

	for _, v := range [][]byte{[]byte("{not json"), []byte(`{"version":1,"op":"invalidate"}`)} {
		if err := c.ProcessOne(context.Background(), msgAt(0, 7, v)); err != nil {
			t.Fatalf("malformed events should be skipped, got %v", err)
		}
	}
	if fs.count() != 0 {
		t.Fatalf("store touched %d times", fs.count())
	}
	out := buf.String()
	if !strings.Contains(out, `"kind":"decode"`) || !strings.Contains(out, `"kind":"validate"`) {
		t.Fatalf("log output=%s", out)
	}
	if !strings.Contains(out, `"component":"kafka_consumer"`) {
		t.Fatalf("component missing: %s", out)
	}
}

func TestProcessOne_DuplicateIDAppliedOnce(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs, nil)
	ctx := context.Background()
	for off := int64(0); off < 3; off++ {
		if err := c.ProcessOne(ctx, msgAt(0, off, eventBytes("evt-1", "heat"))); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	if fs.count() != 1 {
		t.Fatalf("calls=%d want 1", fs.count())
	}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs, nil)

	g := c.handler()
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msgAt(0, 10, eventBytes("", "heat"))
	ch <- msgAt(0, 11, eventBytes("", "flood"))
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fs := &fakeStore{}
	fs.failFirst.Store(true)
	c := newConsumerForTest(fs, nil)
	ctx := context.Background()

	msg := msgAt(0, 5, eventBytes("evt-5", "heat"))
	s := &sess{ctx: ctx}
	g := c.handler()

	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err == nil {
		t.Fatal("expected error on first attempt")
	}
	if len(s.marked) != 0 {
		t.Fatalf("offset marked before success: %v", s.marked)
	}

	ch = make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	fs := &fakeStore{}
	c := newConsumerForTest(fs, nil)
	g := c.handler()
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- msgAt(0, 1, eventBytes("", "heat"))
	p0 <- msgAt(0, 2, eventBytes("", "heat"))
	p1 <- msgAt(1, 1, eventBytes("", "flood"))
	p1 <- msgAt(1, 2, eventBytes("", "flood"))
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestReadiness_FollowsAssignment(t *testing.T) {
	c := newConsumerForTest(&fakeStore{}, nil)
	if ready, _ := c.Readiness(); ready {
		t.Fatal("ready before assignment")
	}
	g := c.handler()
	s := &sess{ctx: t.Context(), claims: map[string][]int32{"geoquery-invalidation": {2, 0}}}
	_ = g.Setup(s)
	ready, parts := c.Readiness()
	if !ready || len(parts) != 2 || parts[0] != 0 || parts[1] != 2 {
		t.Fatalf("ready=%v parts=%v", ready, parts)
	}
	_ = g.Cleanup(s)
	if ready, _ := c.Readiness(); ready {
		t.Fatal("ready after cleanup")
	}
}

func TestStart_RequiresBrokers(t *testing.T) {
	c := New(Config{}, nil, nil, &fakeStore{})
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestFromConfig_SplitsBrokers(t *testing.T) {
	cfg := FromConfig(config.InvalidationCfg{Brokers: " a:9092, ,b:9092 ", Topic: "t", GroupID: "g"})
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:9092" {
		t.Fatalf("brokers=%v", cfg.Brokers)
	}
}
