package virtual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunInference(t *testing.T) {
	s := New("")
	assert.Equal(t, DefaultName, s.Name())

	start := time.Now()
	out := s.RunInference("m1", "d1")
	elapsed := time.Since(start)

	assert.Contains(t, out, "m1")
	assert.Contains(t, out, "d1")
	assert.Equal(t, "InferenceResult(m1, d1) a DeepX NPU submitter", out)
	assert.GreaterOrEqual(t, elapsed, MinLatency)
	// generous upper bound for scheduler noise on loaded machines
	assert.Less(t, elapsed, MaxLatency+200*time.Millisecond)
}

func TestRunInferenceSleepRange(t *testing.T) {
	var slept []time.Duration
	s := New("Test NPU")
	s.sleep = func(d time.Duration) {
		slept = append(slept, d)
	}
	for range 500 {
		assert.Contains(t, s.RunInference("m", "d"), "a Test NPU submitter")
	}
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, MinLatency)
		assert.LessOrEqual(t, d, MaxLatency)
		assert.Zero(t, d%time.Millisecond)
	}
	assert.Len(t, slept, 500)
}

func TestConvertModel(t *testing.T) {
	s := New("")
	assert.NoError(t, s.Initialize())
	assert.True(t, s.RequiresModelConversion())

	converted, err := s.ConvertModel("resnet50")
	assert.NoError(t, err)
	assert.Contains(t, converted, "Converted(")
	assert.Contains(t, converted, "resnet50)")
	assert.Equal(t, "Converted(resnet50) from a DeepX NPU submitter", converted)
}

func TestRandomLatency(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, randomLatency(5*time.Millisecond, 5*time.Millisecond))
	assert.Equal(t, 7*time.Millisecond, randomLatency(7*time.Millisecond, 3*time.Millisecond))
}
