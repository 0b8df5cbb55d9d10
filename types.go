package bmt

import (
	"fmt"
)

// NumClasses is the number of ImageNet-2012 classes a prediction may refer to.
const NumClasses = 1000

// InferenceResult is the prediction for one input image.
type InferenceResult struct {
	// PredictedIndex is the ImageNet-2012 class index, in [0, NumClasses).
	PredictedIndex int `json:"predicted_index"`
}

// Valid reports whether the predicted index lies in the ImageNet class range.
func (r InferenceResult) Valid() bool {
	return r.PredictedIndex >= 0 && r.PredictedIndex < NumClasses
}

// OptionalSystemInfo is the free text hardware description a submitter may report.
type OptionalSystemInfo struct {
	CPUType         string `json:"cpu_type"`
	AcceleratorType string `json:"accelerator_type"`
}

// IsZero reports whether no field was filled in.
func (i OptionalSystemInfo) IsZero() bool {
	return i.CPUType == "" && i.AcceleratorType == ""
}

// ValidateResults checks a RunInference output against the batch it was produced for:
// exactly one result per input and every index within the class range.
func ValidateResults(batchSize int, results []InferenceResult) error {
	if len(results) != batchSize {
		return fmt.Errorf("%w: %w: got %d results for a batch of %d", ErrInvalidResults, ErrResultCount, len(results), batchSize)
	}
	for i, r := range results {
		if !r.Valid() {
			return fmt.Errorf("%w: %w: result %d has index %d", ErrInvalidResults, ErrClassIndexOutOfRange, i, r.PredictedIndex)
		}
	}
	return nil
}
