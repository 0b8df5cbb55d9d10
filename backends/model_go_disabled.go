//go:build !GO && !ALL

package backends

import (
	"errors"
)

type GoModel struct{}

func createGoModelBackend(_ *Model) error {
	return errors.New("the GO backend is not enabled, build with -tags GO")
}

func runGoModel(_ *Model, _ []float32, _ Shape) ([]float32, error) {
	return nil, errors.New("the GO backend is not enabled, build with -tags GO")
}
