package indicator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zaqqye/seb_monitor/internal/models"
)

func TestClassify(t *testing.T) {
	thresholds := SortThresholds(pingThresholds)

	cases := []struct {
		value float64
		want  Severity
	}{
		{-1, Neutral},
		{0, Severity{1, "green"}},
		{4999, Severity{1, "green"}},
		{5000, Severity{2, "yellow"}},
		{9999.9, Severity{2, "yellow"}},
		{10000, Severity{3, "red"}},
		{1e9, Severity{3, "red"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.value, thresholds), "value %v", tc.value)
	}

	assert.Equal(t, Neutral, Classify(42, nil))
}

func TestClassifyIndependentOfConfigurationOrder(t *testing.T) {
	for i := 0; i < 20; i++ {
		shuffled := append([]models.Threshold(nil), pingThresholds...)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		sorted := SortThresholds(shuffled)
		assert.Equal(t, "red", Classify(15000, sorted).Color)
		assert.Equal(t, "yellow", Classify(7000, sorted).Color)
	}
}
