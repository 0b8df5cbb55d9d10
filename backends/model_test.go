package backends

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/bmt/options"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveOnnxPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "single", "model.onnx"), "x")
	writeFile(t, filepath.Join(dir, "multi", "a.onnx"), "x")
	writeFile(t, filepath.Join(dir, "multi", "b.onnx"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	m := &Model{Path: filepath.Join(dir, "single")}
	require.NoError(t, resolveOnnxPath(m, ""))
	assert.Equal(t, filepath.Join(dir, "single", "model.onnx"), m.OnnxPath)

	m = &Model{Path: filepath.Join(dir, "multi")}
	assert.ErrorContains(t, resolveOnnxPath(m, ""), "multiple .onnx")
	require.NoError(t, resolveOnnxPath(m, "b.onnx"))
	assert.Equal(t, filepath.Join(dir, "multi", "b.onnx"), m.OnnxPath)
	assert.ErrorContains(t, resolveOnnxPath(m, "c.onnx"), "not found")

	m = &Model{Path: filepath.Join(dir, "empty")}
	assert.ErrorContains(t, resolveOnnxPath(m, ""), "no .onnx file")

	m = &Model{Path: filepath.Join(dir, "single", "model.onnx")}
	require.NoError(t, resolveOnnxPath(m, ""))
	assert.Equal(t, filepath.Join(dir, "single", "model.onnx"), m.OnnxPath)
	assert.Equal(t, filepath.Join(dir, "single"), m.Path)
}

func TestLoadModelConfigLabels(t *testing.T) {
	dir := t.TempDir()
	m := &Model{Path: dir}
	require.NoError(t, loadModelConfig(m))
	assert.Nil(t, m.IDLabelMap)
	assert.Equal(t, "7", m.Label(7))

	writeFile(t, filepath.Join(dir, "config.json"), `{"id2label": {"0": "tench", "1": "goldfish"}}`)
	require.NoError(t, loadModelConfig(m))
	assert.Equal(t, "goldfish", m.Label(1))
	assert.Equal(t, "2", m.Label(2))

	writeFile(t, filepath.Join(dir, "config.json"), `{"id2label": {"zero": "tench"}}`)
	assert.Error(t, loadModelConfig(m))
}

func TestImageInput(t *testing.T) {
	m := &Model{ID: "m", InputsMeta: []InputOutputInfo{{Name: "pixel_values", Dimensions: Shape{-1, 3, 224, 224}}}}
	input, err := m.ImageInput()
	require.NoError(t, err)
	assert.Equal(t, "pixel_values", input.Name)
	assert.Equal(t, "[-1,3,224,224]", input.Dimensions.String())

	m.InputsMeta[0].Dimensions = Shape{-1, 768}
	_, err = m.ImageInput()
	assert.Error(t, err)

	m.InputsMeta = nil
	_, err = m.ImageInput()
	assert.Error(t, err)
}

func TestRunValidatesShape(t *testing.T) {
	m := &Model{Backend: "XLA"}
	_, err := m.Run(make([]float32, 5), Shape{2, 3})
	assert.ErrorContains(t, err, "does not match shape")
	_, err = m.Run(nil, Shape{})
	assert.ErrorContains(t, err, "invalid input shape")
	_, err = m.Run(make([]float32, 6), Shape{2, 3})
	assert.ErrorContains(t, err, "not supported")
}

func TestSplitRows(t *testing.T) {
	rows, err := SplitRows([]float32{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, rows)
	_, err = SplitRows([]float32{1, 2, 3}, 2)
	assert.Error(t, err)
	_, err = SplitRows(nil, 0)
	assert.Error(t, err)
}

func TestModelID(t *testing.T) {
	assert.Equal(t, "models/resnet", modelID("models/resnet", ""))
	assert.Equal(t, "models/resnet:resnet50.onnx", modelID("models/resnet", "resnet50.onnx"))
}

func TestLoadModelRejectsInvalidGraph(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "model.onnx"), "not a protobuf")
	opts, err := options.New(options.BackendGO)
	require.NoError(t, err)
	_, err = LoadModel(dir, opts)
	assert.Error(t, err)
}
