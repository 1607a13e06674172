package indicator

import (
	"sort"

	"github.com/zaqqye/seb_monitor/internal/models"
)

// Severity is the classification of a value against a threshold list.
// Level 0 is neutral; level i is the i-th threshold in ascending order.
type Severity struct {
	Level int    `json:"level"`
	Color string `json:"color,omitempty"`
}

// Neutral is returned when no threshold is met.
var Neutral = Severity{}

// SortThresholds returns the thresholds ordered by ascending bound.
func SortThresholds(ts []models.Threshold) []models.Threshold {
	out := make([]models.Threshold, len(ts))
	copy(out, ts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// Classify returns the severity of the last threshold whose bound value
// meets or exceeds. thresholds must be sorted ascending.
func Classify(value float64, thresholds []models.Threshold) Severity {
	sev := Neutral
	for i, t := range thresholds {
		if value < t.Value {
			break
		}
		sev = Severity{Level: i + 1, Color: t.Color}
	}
	return sev
}
