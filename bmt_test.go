package bmt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeSubmitter records calls and returns canned results.
type fakeSubmitter struct {
	BaseSubmitter
	initErr     error
	convertErr  error
	results     []InferenceResult
	initCalls   int
	convertArgs []string
	batches     [][]ConvertedInput
}

func (f *fakeSubmitter) Initialize() error {
	f.initCalls++
	return f.initErr
}

func (f *fakeSubmitter) ConvertInput(imagePath string) (ConvertedInput, error) {
	f.convertArgs = append(f.convertArgs, imagePath)
	if f.convertErr != nil {
		return ConvertedInput{}, f.convertErr
	}
	return NewUint8Sequence([]uint8(imagePath)...), nil
}

func (f *fakeSubmitter) RunInference(batch []ConvertedInput) ([]InferenceResult, error) {
	f.batches = append(f.batches, batch)
	if f.results != nil {
		return f.results, nil
	}
	results := make([]InferenceResult, len(batch))
	for i := range batch {
		results[i] = InferenceResult{PredictedIndex: batch[i].Len() % NumClasses}
	}
	return results, nil
}

func checkT(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Test failed with error %s", err.Error())
	}
}

// SYSTEM INFO

func TestBaseSubmitterSystemInfoEmpty(t *testing.T) {
	var s Submitter = &fakeSubmitter{}
	info := s.OptionalSystemInfo()
	assert.Equal(t, "", info.CPUType)
	assert.Equal(t, "", info.AcceleratorType)
	assert.True(t, info.IsZero())
	assert.False(t, OptionalSystemInfo{CPUType: "x86_64"}.IsZero())
}

// RESULTS

func TestInferenceResultValid(t *testing.T) {
	assert.True(t, InferenceResult{PredictedIndex: 0}.Valid())
	assert.True(t, InferenceResult{PredictedIndex: 999}.Valid())
	assert.False(t, InferenceResult{PredictedIndex: 1000}.Valid())
	assert.False(t, InferenceResult{PredictedIndex: -1}.Valid())
}

func TestValidateResults(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		results []InferenceResult
		wantErr error
	}{
		{"ok", 2, []InferenceResult{{1}, {999}}, nil},
		{"too few", 3, []InferenceResult{{1}, {2}}, ErrResultCount},
		{"too many", 1, []InferenceResult{{1}, {2}}, ErrResultCount},
		{"out of range", 2, []InferenceResult{{1}, {1000}}, ErrClassIndexOutOfRange},
		{"negative", 1, []InferenceResult{{-3}}, ErrClassIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResults(tt.size, tt.results)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidResults)
		})
	}
}

// LIFECYCLE

func TestGuardRejectsCallsBeforeInitialize(t *testing.T) {
	f := &fakeSubmitter{}
	g := Guard(f)

	_, err := g.ConvertInput("a.jpg")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = g.RunInference([]ConvertedInput{NewUint8Buffer([]uint8{1})})
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.Empty(t, f.convertArgs)
	assert.Empty(t, f.batches)
}

func TestGuardInitializeOnce(t *testing.T) {
	f := &fakeSubmitter{}
	g := Guard(f)
	checkT(t, g.Initialize())
	assert.True(t, g.Ready())
	assert.ErrorIs(t, g.Initialize(), ErrAlreadyInitialized)
	assert.Equal(t, 1, f.initCalls)
}

func TestGuardInitializeFailure(t *testing.T) {
	boom := errors.New("no device")
	f := &fakeSubmitter{initErr: boom}
	g := Guard(f)

	err := g.Initialize()
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorIs(t, err, boom)
	assert.False(t, g.Ready())

	// the instance stays unusable, and the submitter is not retried
	assert.ErrorIs(t, g.Initialize(), ErrInitialization)
	assert.Equal(t, 1, f.initCalls)
	_, err = g.ConvertInput("a.jpg")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGuardResultsInInputOrder(t *testing.T) {
	f := &fakeSubmitter{}
	g := Guard(f)
	checkT(t, g.Initialize())

	paths := []string{"a", "bb", "ccc", "dddd"}
	batch := make([]ConvertedInput, 0, len(paths))
	for _, p := range paths {
		in, err := g.ConvertInput(p)
		checkT(t, err)
		batch = append(batch, in)
	}
	results, err := g.RunInference(batch)
	checkT(t, err)
	assert.Len(t, results, len(paths))
	for i, p := range paths {
		assert.Equal(t, len(p), results[i].PredictedIndex)
	}
	assert.Equal(t, paths, f.convertArgs)
}

func TestGuardConversionFailure(t *testing.T) {
	boom := errors.New("corrupt jpeg")
	g := Guard(&fakeSubmitter{convertErr: boom})
	checkT(t, g.Initialize())
	_, err := g.ConvertInput("broken.jpg")
	assert.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken.jpg")
}

func TestGuardRejectsBadResults(t *testing.T) {
	g := Guard(&fakeSubmitter{results: []InferenceResult{{PredictedIndex: 1000}}})
	checkT(t, g.Initialize())
	_, err := g.RunInference([]ConvertedInput{NewFloat32Buffer([]float32{0})})
	assert.ErrorIs(t, err, ErrClassIndexOutOfRange)

	g = Guard(&fakeSubmitter{results: []InferenceResult{{1}}})
	checkT(t, g.Initialize())
	_, err = g.RunInference([]ConvertedInput{NewFloat32Buffer(nil), NewFloat32Buffer(nil)})
	assert.ErrorIs(t, err, ErrResultCount)

	_, err = g.RunInference(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}
