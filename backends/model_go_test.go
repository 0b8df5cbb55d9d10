//go:build GO || ALL

package backends

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/knights-analytics/bmt/options"
)

// floatValue declares a float32 tensor; a zero dim is left dynamic as "batch".
func floatValue(name string, dims ...int64) *onnx.ValueInfoProto {
	shape := &onnx.TensorShapeProto{}
	for _, d := range dims {
		dim := &onnx.TensorShapeProto_Dimension{Value: &onnx.TensorShapeProto_Dimension_DimValue{DimValue: d}}
		if d == 0 {
			dim.Value = &onnx.TensorShapeProto_Dimension_DimParam{DimParam: "batch"}
		}
		shape.Dim = append(shape.Dim, dim)
	}
	return &onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{Value: &onnx.TypeProto_TensorType{TensorType: &onnx.TypeProto_Tensor{
			ElemType: int32(onnx.TensorProto_FLOAT),
			Shape:    shape,
		}}},
	}
}

func writeGoModel(t *testing.T, graph *onnx.GraphProto) string {
	t.Helper()
	data, err := proto.Marshal(&onnx.ModelProto{
		IrVersion:   3,
		OpsetImport: []*onnx.OperatorSetIdProto{{Version: 13}},
		Graph:       graph,
	})
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), data, 0o644))
	return dir
}

func loadGoModel(t *testing.T, dir string, opts ...options.WithOption) *Model {
	t.Helper()
	o, err := options.New(options.BackendGO, opts...)
	require.NoError(t, err)
	model, err := LoadModel(dir, o)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, model.Close())
	})
	return model
}

func TestGoModelFlatten(t *testing.T) {
	dir := writeGoModel(t, &onnx.GraphProto{
		Name:   "flatten",
		Node:   []*onnx.NodeProto{{Name: "flatten", OpType: "Flatten", Input: []string{"x"}, Output: []string{"y"}}},
		Input:  []*onnx.ValueInfoProto{floatValue("x", 0, 3, 2, 2)},
		Output: []*onnx.ValueInfoProto{floatValue("y", 0, 12)},
	})
	model := loadGoModel(t, dir)

	assert.Equal(t, dir, model.ID)
	assert.Equal(t, []InputOutputInfo{{Name: "x", Dimensions: Shape{-1, 3, 2, 2}}}, model.InputsMeta)
	assert.Equal(t, []InputOutputInfo{{Name: "y", Dimensions: Shape{-1, 12}}}, model.OutputsMeta)

	input := make([]float32, 24)
	for i := range input {
		input[i] = float32(i)
	}
	rows, err := model.Run(input, Shape{2, 3, 2, 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, input[:12], rows[0])
	assert.Equal(t, input[12:], rows[1])

	_, err = model.Run(input, Shape{2, 4, 3, 1})
	assert.Error(t, err)
}

func TestGoModelSkipsInitializerInputs(t *testing.T) {
	bias := make([]float32, 12)
	for i := range bias {
		bias[i] = 1
	}
	dir := writeGoModel(t, &onnx.GraphProto{
		Name: "bias",
		Node: []*onnx.NodeProto{{Name: "add", OpType: "Add", Input: []string{"x", "bias"}, Output: []string{"y"}}},
		Initializer: []*onnx.TensorProto{{
			Name:      "bias",
			Dims:      []int64{1, 3, 2, 2},
			DataType:  int32(onnx.TensorProto_FLOAT),
			FloatData: bias,
		}},
		// older exporters also declare initializers as graph inputs
		Input:  []*onnx.ValueInfoProto{floatValue("x", 1, 3, 2, 2), floatValue("bias", 1, 3, 2, 2)},
		Output: []*onnx.ValueInfoProto{floatValue("y", 1, 3, 2, 2)},
	})
	model := loadGoModel(t, dir, options.WithOnnxFilename("model.onnx"))
	assert.Equal(t, dir+":model.onnx", model.ID)

	input, err := model.ImageInput()
	require.NoError(t, err)
	assert.Equal(t, "x", input.Name)
	assert.Equal(t, Shape{1, 3, 2, 2}, input.Dimensions)

	x := make([]float32, 12)
	want := make([]float32, 12)
	for i := range x {
		x[i] = float32(i)
		want[i] = float32(i) + 1
	}
	rows, err := model.Run(x, Shape{1, 3, 2, 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, want, rows[0])
}
