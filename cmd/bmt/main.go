// Command bmt benchmarks one of the bundled submitters. The submitter is chosen through
// the environment so that the command line stays the one every vendor binary shares:
//
//	BMT_SUBMITTER            simulated (default) or classifier
//	BMT_MIN_LATENCY          simulated: minimum latency per batch, e.g. 5ms
//	BMT_MAX_LATENCY          simulated: maximum latency per batch
//	BMT_MODEL_PATH           classifier: .onnx file or model directory
//	BMT_BACKEND              classifier: ORT (default) or GO
//	BMT_INPUT_KIND           classifier: converted input kind, e.g. uint8-buffer
//	BMT_IMAGE_SIZE           classifier: side used for dynamic input dimensions
//	BMT_LABEL_OFFSET         classifier: 1 for models with a background class
//	BMT_ONNXRUNTIME_LIBRARY  classifier: path to the onnxruntime shared library
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/bmt"
	"github.com/knights-analytics/bmt/host"
	"github.com/knights-analytics/bmt/options"
	"github.com/knights-analytics/bmt/submitters/classifier"
	"github.com/knights-analytics/bmt/submitters/simulated"
	"github.com/knights-analytics/bmt/submitters/virtual"
)

func main() {
	os.Exit(run(os.Args, os.Getenv, os.Stdout, os.Stderr))
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	submitter, err := newSubmitter(getenv)
	if err != nil {
		log.Error().Err(err).Msg("invalid submitter configuration")
		return host.ExitUsage
	}
	caller := host.NewCaller(submitter,
		host.WithName("bmt"),
		host.WithOutput(stdout, stderr),
		host.WithCommands(virtualCommand(stdout)),
	)
	return caller.Call(args)
}

func newSubmitter(getenv func(string) string) (bmt.Submitter, error) {
	switch kind := getenv("BMT_SUBMITTER"); kind {
	case "", "simulated":
		minLatency, err := durationEnv(getenv, "BMT_MIN_LATENCY")
		if err != nil {
			return nil, err
		}
		maxLatency, err := durationEnv(getenv, "BMT_MAX_LATENCY")
		if err != nil {
			return nil, err
		}
		return simulated.New(minLatency, maxLatency), nil
	case "classifier":
		return newClassifier(getenv)
	default:
		return nil, fmt.Errorf("unknown submitter %q, expected simulated or classifier", kind)
	}
}

func newClassifier(getenv func(string) string) (*classifier.Classifier, error) {
	modelPath := getenv("BMT_MODEL_PATH")
	if modelPath == "" {
		return nil, fmt.Errorf("BMT_MODEL_PATH is required for the classifier submitter")
	}
	backend := getenv("BMT_BACKEND")
	if backend == "" {
		backend = options.BackendORT
	}
	opts := []classifier.Option{classifier.WithBackend(backend)}

	if v := getenv("BMT_INPUT_KIND"); v != "" {
		kind, err := bmt.ParseInputKind(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, classifier.WithInputKind(kind))
	}
	if v := getenv("BMT_IMAGE_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("BMT_IMAGE_SIZE: %w", err)
		}
		opts = append(opts, classifier.WithImageSize(size))
	}
	if v := getenv("BMT_LABEL_OFFSET"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("BMT_LABEL_OFFSET: %w", err)
		}
		opts = append(opts, classifier.WithLabelOffset(offset))
	}
	if v := getenv("BMT_ONNXRUNTIME_LIBRARY"); v != "" && backend == options.BackendORT {
		opts = append(opts, classifier.WithSessionOptions(options.WithOnnxLibraryPath(v)))
	}
	return classifier.New(modelPath, opts...)
}

func durationEnv(getenv func(string) string, key string) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// virtualCommand walks the vendor stub through its whole surface once.
func virtualCommand(stdout io.Writer) *cli.Command {
	var name, model, data string
	return &cli.Command{
		Name:  "virtual",
		Usage: "Exercise the reference stub a vendor integration starts from",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Usage:       "Accelerator name reported by the stub",
				Value:       virtual.DefaultName,
				Destination: &name,
			},
			&cli.StringFlag{
				Name:        "model",
				Usage:       "Model passed to ConvertModel",
				Value:       "model.onnx",
				Destination: &model,
			},
			&cli.StringFlag{
				Name:        "data",
				Usage:       "Data passed to RunInference",
				Value:       "image.jpg",
				Destination: &data,
			},
		},
		Action: func(_ *cli.Context) error {
			stub := virtual.New(name)
			if err := stub.Initialize(); err != nil {
				return err
			}
			converted := model
			if stub.RequiresModelConversion() {
				var err error
				converted, err = stub.ConvertModel(model)
				if err != nil {
					return err
				}
			}
			_, err := fmt.Fprintln(stdout, stub.RunInference(converted, data))
			return err
		},
	}
}
