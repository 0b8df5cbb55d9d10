//go:build !cgo || (!ORT && !ALL)

package backends

import (
	"errors"

	"github.com/knights-analytics/bmt/options"
)

type ORTModel struct {
	Destroy func() error
}

func createORTModelBackend(_ *Model, _ *options.Options) error {
	return errors.New("ORT is not enabled, build with -tags ORT")
}

func runORTModel(_ *Model, _ []float32, _ Shape) ([]float32, error) {
	return nil, errors.New("ORT is not enabled, build with -tags ORT")
}
