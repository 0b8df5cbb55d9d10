package host

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/bmt"
	"github.com/knights-analytics/bmt/submitters/simulated"
	"github.com/knights-analytics/bmt/submitters/virtual"
)

// converterSubmitter adds model conversion to the recording submitter.
type converterSubmitter struct {
	recordingSubmitter
	required bool
}

func (s *converterSubmitter) RequiresModelConversion() bool {
	return s.required
}

func (s *converterSubmitter) ConvertModel(model string) (string, error) {
	return model + ".bin", nil
}

func writeInputs(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for i, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0o644))
	}
	return dir
}

func call(t *testing.T, s bmt.Submitter, args []string, opts ...CallerOption) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	opts = append([]CallerOption{WithOutput(&stdout, &stderr), WithInput(strings.NewReader(""))}, opts...)
	code := NewCaller(s, opts...).Call(append([]string{"bmt"}, args...))
	return code, stdout.String(), stderr.String()
}

func TestCallRun(t *testing.T) {
	dir := writeInputs(t, "a.jpg", "b.png", "nested/c.jpeg", "notes.txt")
	s := simulated.New(time.Millisecond, time.Millisecond)

	code, stdout, _ := call(t, s, []string{"--log-level", "error", "run", "--batch-size", "2", dir})
	require.Equal(t, ExitOK, code)

	var report Report
	require.NoError(t, jsoniter.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 3, report.NumInputs)
	assert.Equal(t, 3, report.NumProcessed)
	assert.Equal(t, 2, report.NumBatches)
	assert.Equal(t, "simulated", report.SystemInfo.AcceleratorType)
	require.Len(t, report.Predictions, 3)
	assert.Equal(t, filepath.Join(dir, "a.jpg"), report.Predictions[0].Input)
	for _, p := range report.Predictions {
		assert.True(t, bmt.InferenceResult{PredictedIndex: p.PredictedIndex}.Valid())
	}
}

func TestCallRunWritesFiles(t *testing.T) {
	dir := writeInputs(t, "a.jpg", "b.jpg")
	out := t.TempDir()
	reportPath := filepath.Join(out, "report.json")
	metricsPath := filepath.Join(out, "metrics.prom")

	code, stdout, _ := call(t, &recordingSubmitter{}, []string{
		"--log-level", "error", "run", "--output", reportPath, "--metrics-output", metricsPath, dir,
	})
	require.Equal(t, ExitOK, code)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report Report
	require.NoError(t, jsoniter.Unmarshal(data, &report))
	assert.Equal(t, 2, report.NumBatches)

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `bmt_inputs_total{status="ok"} 2`)
}

func TestCallRunFromStdin(t *testing.T) {
	dir := writeInputs(t, "a.jpg", "b.jpg")
	stdin := strings.NewReader(filepath.Join(dir, "b.jpg") + "\n\n" + filepath.Join(dir, "a.jpg") + "\n")

	code, stdout, _ := call(t, &recordingSubmitter{}, []string{"--log-level", "error", "run"}, WithInput(stdin))
	require.Equal(t, ExitOK, code)
	var report Report
	require.NoError(t, jsoniter.Unmarshal([]byte(stdout), &report))
	require.Len(t, report.Predictions, 2)
	assert.Equal(t, filepath.Join(dir, "b.jpg"), report.Predictions[0].Input)
}

func TestCallRunFailures(t *testing.T) {
	dir := writeInputs(t, "a.jpg")

	code, _, _ := call(t, &recordingSubmitter{initErr: errors.New("no device")}, []string{"run", dir})
	assert.Equal(t, ExitFailure, code)

	code, _, _ = call(t, &recordingSubmitter{}, []string{"run", filepath.Join(dir, "missing.jpg")})
	assert.Equal(t, ExitFailure, code)

	code, _, _ = call(t, &recordingSubmitter{}, []string{"run"})
	assert.Equal(t, ExitUsage, code)

	code, _, _ = call(t, &recordingSubmitter{}, []string{"run", "--batch-size", "0", dir})
	assert.Equal(t, ExitUsage, code)

	code, _, _ = call(t, &recordingSubmitter{}, []string{"run", "--batch-size", "many", dir})
	assert.Equal(t, ExitUsage, code)

	code, _, _ = call(t, &recordingSubmitter{}, []string{"--log-level", "loud", "run", dir})
	assert.Equal(t, ExitUsage, code)
}

func TestCallRunInvalidConfigIsUsageError(t *testing.T) {
	dir := writeInputs(t, "a.jpg")

	t.Setenv("BMT_BATCH_SIZE", "0")
	code, _, _ := call(t, &recordingSubmitter{}, []string{"run", dir})
	assert.Equal(t, ExitUsage, code)

	config := filepath.Join(t.TempDir(), "bmt.yaml")
	require.NoError(t, os.WriteFile(config, []byte("batch_size: 2\nlimit: -1\n"), 0o644))
	t.Setenv("BMT_BATCH_SIZE", "1")
	code, _, _ = call(t, &recordingSubmitter{}, []string{"--config", config, "run", dir})
	assert.Equal(t, ExitUsage, code)

	code, _, _ = call(t, &recordingSubmitter{}, []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "run", dir})
	assert.Equal(t, ExitFailure, code)
}

func TestCallUnknownCommand(t *testing.T) {
	code, _, _ := call(t, &recordingSubmitter{}, []string{"benchmark"})
	assert.Equal(t, ExitUsage, code)

	code, _, _ = call(t, &recordingSubmitter{}, nil)
	assert.Equal(t, ExitOK, code)
}

func TestCallInfo(t *testing.T) {
	code, stdout, _ := call(t, simulated.New(0, 0), []string{"info"})
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, `"accelerator_type":"simulated"`)
	assert.Contains(t, stdout, `"model_conversion":false`)

	code, stdout, _ = call(t, &converterSubmitter{}, []string{"info"})
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, `"model_conversion":true`)
}

func TestCallConvertModel(t *testing.T) {
	code, _, _ := call(t, &recordingSubmitter{}, []string{"convert-model", "resnet50.onnx"})
	assert.Equal(t, ExitUsage, code)

	code, _, _ = call(t, &converterSubmitter{required: true}, []string{"convert-model"})
	assert.Equal(t, ExitUsage, code)

	code, stdout, _ := call(t, &converterSubmitter{required: true}, []string{"convert-model", "resnet50.onnx"})
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "resnet50.onnx.bin\n", stdout)

	code, stdout, _ = call(t, &converterSubmitter{}, []string{"convert-model", "resnet50.onnx"})
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "resnet50.onnx\n", stdout)
}

func TestCallVendorCommand(t *testing.T) {
	stub := virtual.New("")
	command := &cli.Command{
		Name: "stub-convert",
		Action: func(ctx *cli.Context) error {
			converted, err := stub.ConvertModel(ctx.Args().First())
			if err != nil {
				return err
			}
			_, err = ctx.App.Writer.Write([]byte(converted))
			return err
		},
	}
	code, stdout, _ := call(t, &recordingSubmitter{}, []string{"stub-convert", "m"}, WithCommands(command))
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "Converted(m) from a DeepX NPU submitter", stdout)
}
