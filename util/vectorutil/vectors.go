package vectorutil

import (
	"fmt"
	"math"
	"slices"

	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// Mean of a vector. The mean of an empty vector is 0.
func Mean[T Number](vector []T) float64 {
	if len(vector) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vector {
		sum += float64(v)
	}
	return sum / float64(len(vector))
}

// SoftMax take a vector and calculate softmax scores of its values.
func SoftMax(vector []float32) []float32 {
	if len(vector) == 0 {
		return nil
	}
	maxLogit := slices.Max(vector)
	shiftedExp := make([]float64, len(vector))
	sumExp := 0.0
	for i, logit := range vector {
		shiftedExp[i] = math.Exp(float64(logit - maxLogit))
		sumExp += shiftedExp[i]
	}
	scores := make([]float32, len(vector))
	for i, exp := range shiftedExp {
		scores[i] = float32(exp / sumExp)
	}
	return scores
}

// ArgMax find both index of max value in s and max value. Ties resolve to the lowest index.
func ArgMax[T constraints.Ordered](s []T) (int, T, error) {
	var zero T
	if len(s) == 0 {
		return 0, zero, fmt.Errorf("attempted to calculate argmax of empty slice")
	}
	maxIndex := 0
	maxValue := s[0]
	for i, v := range s {
		if v > maxValue {
			maxValue = v
			maxIndex = i
		}
	}
	return maxIndex, maxValue, nil
}

// ToFloat32 widens or narrows any numeric slice into a new float32 slice.
func ToFloat32[T Number](s []T) []float32 {
	out := make([]float32, len(s))
	for i, v := range s {
		out[i] = float32(v)
	}
	return out
}
