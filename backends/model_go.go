//go:build GO || ALL

package backends

import (
	"errors"
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"github.com/advancedclimatesystems/gonnx/onnx"
	"gorgonia.org/tensor"
)

type GoModel struct {
	Session *gonnx.Model
}

func createGoModelBackend(model *Model) error {
	session, err := gonnx.NewModelFromBytes(model.OnnxBytes)
	if err != nil {
		return err
	}
	model.GoModel = &GoModel{Session: session}
	model.InputsMeta, model.OutputsMeta = loadInputOutputMetaGo(session)
	return nil
}

// loadInputOutputMetaGo lists the graph inputs and outputs. Older exports also list their
// initializers in graph.input; those are parameters, not inputs the caller feeds.
func loadInputOutputMetaGo(session *gonnx.Model) ([]InputOutputInfo, []InputOutputInfo) {
	params := make(map[string]bool)
	for _, name := range session.ParamNames() {
		params[name] = true
	}
	var inputNames []string
	for _, name := range session.InputNames() {
		if !params[name] {
			inputNames = append(inputNames, name)
		}
	}
	return toInputOutputInfo(inputNames, session.InputShapes()), toInputOutputInfo(session.OutputNames(), session.OutputShapes())
}

func toInputOutputInfo(names []string, shapes onnx.Shapes) []InputOutputInfo {
	infos := make([]InputOutputInfo, 0, len(names))
	for _, name := range names {
		shape := shapes[name]
		dimensions := make(Shape, len(shape))
		for i, dim := range shape {
			dimensions[i] = dim.Size
			if dim.IsDynamic || dim.Size <= 0 {
				dimensions[i] = -1
			}
		}
		infos = append(infos, InputOutputInfo{Name: name, Dimensions: dimensions})
	}
	return infos
}

func runGoModel(model *Model, input []float32, shape Shape) ([]float32, error) {
	if model.GoModel == nil {
		return nil, errors.New("GO session is not initialized")
	}
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	inputs := map[string]tensor.Tensor{
		model.InputsMeta[0].Name: tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(dims...),
			tensor.WithBacking(input),
		),
	}
	outputs, err := model.GoModel.Session.Run(inputs)
	if err != nil {
		return nil, err
	}
	name := model.OutputsMeta[0].Name
	output, ok := outputs[name]
	if !ok {
		return nil, fmt.Errorf("output %s missing from the model results", name)
	}
	data, ok := output.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("output %s has type %T, expected []float32", name, output.Data())
	}
	return data, nil
}
