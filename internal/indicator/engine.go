package indicator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/zaqqye/seb_monitor/internal/models"
)

// DefinitionSource provides the indicator configuration of an exam.
type DefinitionSource interface {
	IndicatorDefinitions(ctx context.Context, examID uint) ([]models.IndicatorDefinition, error)
}

// Reading is the current value of one indicator of one connection.
type Reading struct {
	Name      string               `json:"name"`
	Type      models.IndicatorType `json:"type"`
	Value     float64              `json:"value"`
	Severity  Severity             `json:"severity"`
	Set       bool                 `json:"set"`
	UpdatedAt time.Time            `json:"updated_at,omitempty"`
}

type value struct {
	def        models.IndicatorDefinition
	rule       Rule
	thresholds []models.Threshold

	mu        sync.Mutex
	state     State
	updatedAt time.Time
}

type connection struct {
	examID  uint
	closed  atomic.Bool
	values  []*value
	byEvent map[models.EventType][]*value
}

// Engine keeps the derived indicator values of every attached connection.
// Each indicator value has its own mutex, so updates to different
// indicators or connections never wait on each other.
type Engine struct {
	defs  DefinitionSource
	cache *lru.Cache
	log   logrus.FieldLogger

	mu    sync.RWMutex
	conns map[string]*connection
}

func NewEngine(defs DefinitionSource, cacheSize int, log logrus.FieldLogger) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		defs:  defs,
		cache: cache,
		log:   log,
		conns: make(map[string]*connection),
	}, nil
}

// definitions returns the exam's indicator definitions with thresholds
// sorted, loading them from the source on a cache miss.
func (e *Engine) definitions(ctx context.Context, examID uint) ([]models.IndicatorDefinition, error) {
	if v, ok := e.cache.Get(examID); ok {
		return v.([]models.IndicatorDefinition), nil
	}
	defs, err := e.defs.IndicatorDefinitions(ctx, examID)
	if err != nil {
		return nil, models.Infrastructure("load indicator definitions", err)
	}
	prepared := make([]models.IndicatorDefinition, len(defs))
	for i, d := range defs {
		d.Thresholds = SortThresholds(d.Thresholds)
		prepared[i] = d
	}
	e.cache.Add(examID, prepared)
	return prepared, nil
}

// Invalidate drops the cached definitions of an exam.
func (e *Engine) Invalidate(examID uint) {
	e.cache.Remove(examID)
}

// Attach prepares the indicator set of a connection. Attaching an already
// attached connection is a no-op.
func (e *Engine) Attach(ctx context.Context, connectionID string, examID uint) error {
	e.mu.RLock()
	_, ok := e.conns[connectionID]
	e.mu.RUnlock()
	if ok {
		return nil
	}

	defs, err := e.definitions(ctx, examID)
	if err != nil {
		return err
	}
	c := &connection{
		examID:  examID,
		values:  make([]*value, 0, len(defs)),
		byEvent: make(map[models.EventType][]*value),
	}
	for _, d := range defs {
		v := &value{def: d, rule: RuleFor(d.Rule), thresholds: d.Thresholds}
		c.values = append(c.values, v)
		c.byEvent[d.EventType] = append(c.byEvent[d.EventType], v)
	}

	e.mu.Lock()
	if _, ok := e.conns[connectionID]; !ok {
		e.conns[connectionID] = c
	}
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"exam_id":       examID,
		"indicators":    len(c.values),
	}).Debug("indicators attached")
	return nil
}

func (e *Engine) get(connectionID string) (*connection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.conns[connectionID]
	return c, ok
}

// ApplyEvent routes a sample to every indicator consuming eventType. Events
// nobody consumes and events for closed connections are dropped silently.
func (e *Engine) ApplyEvent(connectionID string, eventType models.EventType, sample float64, at time.Time) error {
	if !finite(sample) {
		return fmt.Errorf("%s sample %v: %w", eventType, sample, models.ErrInvalidValue)
	}
	c, ok := e.get(connectionID)
	if !ok {
		return models.ErrNotFound
	}
	if c.closed.Load() {
		return nil
	}
	var rejected error
	for _, v := range c.byEvent[eventType] {
		v.mu.Lock()
		if c.closed.Load() {
			v.mu.Unlock()
			return nil
		}
		// a late sample must not replace a newer last value
		if v.def.Rule == models.RuleLastValue && v.state.Samples > 0 && at.Before(v.updatedAt) {
			v.mu.Unlock()
			continue
		}
		next := v.rule(v.state, sample, v.def)
		if !finite(next.Value) {
			v.mu.Unlock()
			rejected = fmt.Errorf("%s: %s overflows: %w", v.def.Name, eventType, models.ErrInvalidValue)
			continue
		}
		v.state = next
		if at.After(v.updatedAt) {
			v.updatedAt = at
		}
		v.mu.Unlock()
	}
	return rejected
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// CurrentValues returns the readings of a connection keyed by indicator type.
// When an exam configures several indicators of one type the first wins;
// use Readings for the complete, ordered list.
func (e *Engine) CurrentValues(connectionID string) (map[models.IndicatorType]Reading, error) {
	readings, err := e.Readings(connectionID)
	if err != nil {
		return nil, err
	}
	out := make(map[models.IndicatorType]Reading, len(readings))
	for _, r := range readings {
		if _, ok := out[r.Type]; !ok {
			out[r.Type] = r
		}
	}
	return out, nil
}

// Readings returns the connection's readings in configuration order.
func (e *Engine) Readings(connectionID string) ([]Reading, error) {
	c, ok := e.get(connectionID)
	if !ok {
		return nil, models.ErrNotFound
	}
	out := make([]Reading, 0, len(c.values))
	for _, v := range c.values {
		v.mu.Lock()
		r := Reading{
			Name:      v.def.Name,
			Type:      v.def.Type,
			Value:     v.state.Value,
			Set:       v.state.Samples > 0,
			UpdatedAt: v.updatedAt,
		}
		v.mu.Unlock()
		if r.Set {
			r.Severity = Classify(r.Value, v.thresholds)
		}
		out = append(out, r)
	}
	return out, nil
}

// Close stops the connection from accepting further events. Its last
// values stay readable until Detach.
func (e *Engine) Close(connectionID string) {
	if c, ok := e.get(connectionID); ok {
		c.closed.Store(true)
	}
}

// Detach forgets the connection entirely.
func (e *Engine) Detach(connectionID string) {
	e.mu.Lock()
	delete(e.conns, connectionID)
	e.mu.Unlock()
}
