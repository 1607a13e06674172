package indicator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/seb_monitor/internal/models"
)

type staticDefinitions struct {
	defs  map[uint][]models.IndicatorDefinition
	calls atomic.Int32
	fail  bool
}

func (s *staticDefinitions) IndicatorDefinitions(ctx context.Context, examID uint) ([]models.IndicatorDefinition, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.New("database unavailable")
	}
	return s.defs[examID], nil
}

var pingThresholds = []models.Threshold{
	{Value: 10000, Color: "red"},
	{Value: 0, Color: "green"},
	{Value: 5000, Color: "yellow"},
}

func newTestEngine(t *testing.T, defs map[uint][]models.IndicatorDefinition) (*Engine, *staticDefinitions) {
	t.Helper()
	src := &staticDefinitions{defs: defs}
	log := logrus.New()
	log.SetOutput(io.Discard)
	e, err := NewEngine(src, 4, log)
	require.NoError(t, err)
	return e, src
}

func examDefinitions() map[uint][]models.IndicatorDefinition {
	return map[uint][]models.IndicatorDefinition{
		1: {
			{Name: "Ping", Type: models.IndicatorLastPing, EventType: models.EventLastPing, Rule: models.RuleLastValue, Thresholds: pingThresholds},
			{Name: "Ping avg", Type: models.IndicatorLastPing, EventType: models.EventLastPing, Rule: models.RuleRunningAverage, WindowSize: 2},
			{Name: "Errors", Type: models.IndicatorErrorCount, EventType: models.EventErrorLog, Rule: models.RuleCount,
				Thresholds: []models.Threshold{{Value: 1, Color: "orange"}}},
		},
	}
}

func TestEngine_LastPingScenario(t *testing.T) {
	e, _ := newTestEngine(t, examDefinitions())
	require.NoError(t, e.Attach(context.Background(), "C", 1))

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, ms := range []float64{10000, 5000, 2000} {
		require.NoError(t, e.ApplyEvent("C", models.EventLastPing, ms, base.Add(time.Duration(i)*time.Second)))
	}

	values, err := e.CurrentValues("C")
	require.NoError(t, err)
	ping := values[models.IndicatorLastPing]
	assert.Equal(t, "Ping", ping.Name)
	assert.Equal(t, 2000.0, ping.Value)
	assert.Equal(t, Severity{Level: 1, Color: "green"}, ping.Severity)
	assert.Equal(t, base.Add(2*time.Second), ping.UpdatedAt)

	readings, err := e.Readings("C")
	require.NoError(t, err)
	require.Len(t, readings, 3)
	// both LAST_PING indicators consumed the same events
	assert.InDelta(t, 3500.0, readings[1].Value, 1e-9)
	assert.False(t, readings[2].Set)
	assert.Equal(t, Neutral, readings[2].Severity)
}

func TestEngine_LateLastValueIsIgnored(t *testing.T) {
	e, _ := newTestEngine(t, examDefinitions())
	require.NoError(t, e.Attach(context.Background(), "C", 1))

	now := time.Now()
	require.NoError(t, e.ApplyEvent("C", models.EventLastPing, 12000, now))
	require.NoError(t, e.ApplyEvent("C", models.EventLastPing, 100, now.Add(-time.Second)))

	values, err := e.CurrentValues("C")
	require.NoError(t, err)
	assert.Equal(t, 12000.0, values[models.IndicatorLastPing].Value)
	assert.Equal(t, "red", values[models.IndicatorLastPing].Severity.Color)
}

func TestEngine_UnconfiguredEventIsNoop(t *testing.T) {
	e, _ := newTestEngine(t, examDefinitions())
	require.NoError(t, e.Attach(context.Background(), "C", 1))

	require.NoError(t, e.ApplyEvent("C", models.EventBatteryStatus, 42, time.Now()))
	readings, err := e.Readings("C")
	require.NoError(t, err)
	for _, r := range readings {
		assert.False(t, r.Set)
	}
}

func TestEngine_ClosedConnectionDropsEvents(t *testing.T) {
	e, _ := newTestEngine(t, examDefinitions())
	require.NoError(t, e.Attach(context.Background(), "C", 1))
	require.NoError(t, e.ApplyEvent("C", models.EventErrorLog, 1, time.Now()))

	e.Close("C")
	require.NoError(t, e.ApplyEvent("C", models.EventErrorLog, 1, time.Now()))

	values, err := e.CurrentValues("C")
	require.NoError(t, err)
	assert.Equal(t, 1.0, values[models.IndicatorErrorCount].Value)

	e.Detach("C")
	_, err = e.CurrentValues("C")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, e.ApplyEvent("C", models.EventErrorLog, 1, time.Now()), models.ErrNotFound)
}

func TestEngine_DefinitionsLoadedOncePerExam(t *testing.T) {
	e, src := newTestEngine(t, examDefinitions())
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "a"} {
		require.NoError(t, e.Attach(ctx, id, 1))
	}
	assert.Equal(t, int32(1), src.calls.Load())

	e.Invalidate(1)
	require.NoError(t, e.Attach(ctx, "d", 1))
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestEngine_DefinitionFailureIsInfrastructure(t *testing.T) {
	e, src := newTestEngine(t, examDefinitions())
	src.fail = true
	err := e.Attach(context.Background(), "C", 1)
	require.Error(t, err)
	assert.True(t, models.IsInfrastructure(err))
}

func TestEngine_ConcurrentEvents(t *testing.T) {
	e, _ := newTestEngine(t, examDefinitions())
	ctx := context.Background()
	conns := []string{"c1", "c2", "c3"}
	for _, c := range conns {
		require.NoError(t, e.Attach(ctx, c, 1))
	}

	const perConn = 200
	var wg sync.WaitGroup
	for _, c := range conns {
		for i := 0; i < perConn; i++ {
			wg.Add(2)
			go func(c string) {
				defer wg.Done()
				_ = e.ApplyEvent(c, models.EventErrorLog, 1, time.Now())
			}(c)
			go func(c string) {
				defer wg.Done()
				_, _ = e.Readings(c)
			}(c)
		}
	}
	wg.Wait()

	for _, c := range conns {
		values, err := e.CurrentValues(c)
		require.NoError(t, err)
		assert.Equal(t, float64(perConn), values[models.IndicatorErrorCount].Value)
	}
}

func TestEngine_RejectsNonFiniteSamples(t *testing.T) {
	e, _ := newTestEngine(t, examDefinitions())
	require.NoError(t, e.Attach(context.Background(), "C", 1))
	now := time.Now()

	require.NoError(t, e.ApplyEvent("C", models.EventLastPing, 100, now))
	require.NoError(t, e.ApplyEvent("C", models.EventLastPing, 200, now.Add(time.Second)))

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := e.ApplyEvent("C", models.EventLastPing, bad, now.Add(2*time.Second))
		assert.ErrorIs(t, err, models.ErrInvalidValue)
	}
	// checked before the connection lookup
	assert.ErrorIs(t, e.ApplyEvent("unknown", models.EventLastPing, math.NaN(), now), models.ErrInvalidValue)

	readings, err := e.Readings("C")
	require.NoError(t, err)
	assert.Equal(t, 200.0, readings[0].Value)
	assert.Equal(t, 150.0, readings[1].Value)
	assert.Equal(t, "green", readings[0].Severity.Color)

	_, err = json.Marshal(readings)
	assert.NoError(t, err)
}

func TestEngine_OverflowKeepsPreviousValue(t *testing.T) {
	e, _ := newTestEngine(t, examDefinitions())
	require.NoError(t, e.Attach(context.Background(), "C", 1))
	now := time.Now()

	require.NoError(t, e.ApplyEvent("C", models.EventLastPing, math.MaxFloat64, now))
	// the window sum of two maximal samples is infinite
	err := e.ApplyEvent("C", models.EventLastPing, math.MaxFloat64, now.Add(time.Second))
	assert.ErrorIs(t, err, models.ErrInvalidValue)

	readings, err := e.Readings("C")
	require.NoError(t, err)
	assert.Equal(t, math.MaxFloat64, readings[0].Value)
	assert.Equal(t, math.MaxFloat64, readings[1].Value)
	_, err = json.Marshal(readings)
	assert.NoError(t, err)
}
