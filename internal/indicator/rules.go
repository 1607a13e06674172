package indicator

import (
	"math"

	"github.com/zaqqye/seb_monitor/internal/models"
)

// DefaultWindowSize is the moving-average window used when a definition
// configures neither a window nor a decay factor.
const DefaultWindowSize = 10

// State is the folded value of one indicator. States are values: rules
// return a new State and never modify the one they were given.
type State struct {
	Value   float64
	Samples int
	// Window holds the most recent samples for windowed averages, oldest first.
	Window []float64
}

// Rule folds one sample into the previous state.
type Rule func(prev State, sample float64, def models.IndicatorDefinition) State

var rules = map[models.UpdateRule]Rule{
	models.RuleLastValue:      lastValue,
	models.RuleRunningAverage: runningAverage,
	models.RuleCount:          count,
	models.RuleMaxDeviation:   maxDeviation,
}

// RuleFor returns the update function for r, falling back to LAST_VALUE.
func RuleFor(r models.UpdateRule) Rule {
	if fn, ok := rules[r]; ok {
		return fn
	}
	return lastValue
}

func lastValue(prev State, sample float64, _ models.IndicatorDefinition) State {
	return State{Value: sample, Samples: prev.Samples + 1}
}

func count(prev State, _ float64, _ models.IndicatorDefinition) State {
	return State{Value: prev.Value + 1, Samples: prev.Samples + 1}
}

func maxDeviation(prev State, sample float64, def models.IndicatorDefinition) State {
	dev := math.Abs(sample - def.Baseline)
	if prev.Samples > 0 && prev.Value > dev {
		dev = prev.Value
	}
	return State{Value: dev, Samples: prev.Samples + 1}
}

// runningAverage is an exponential moving average when DecayFactor is in
// (0, 1], otherwise a simple moving average over WindowSize samples.
func runningAverage(prev State, sample float64, def models.IndicatorDefinition) State {
	if def.DecayFactor > 0 && def.DecayFactor <= 1 {
		if prev.Samples == 0 {
			return State{Value: sample, Samples: 1}
		}
		v := def.DecayFactor*sample + (1-def.DecayFactor)*prev.Value
		return State{Value: v, Samples: prev.Samples + 1}
	}

	size := def.WindowSize
	if size <= 0 {
		size = DefaultWindowSize
	}
	start := 0
	if len(prev.Window) >= size {
		start = len(prev.Window) - size + 1
	}
	window := make([]float64, 0, size)
	window = append(window, prev.Window[start:]...)
	window = append(window, sample)

	var sum float64
	for _, v := range window {
		sum += v
	}
	return State{
		Value:   sum / float64(len(window)),
		Samples: prev.Samples + 1,
		Window:  window,
	}
}
