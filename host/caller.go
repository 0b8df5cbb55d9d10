// Package host is the benchmark side of the submitter contract. A vendor binary hands its
// bmt.Submitter to NewCaller and returns Call's exit code from main.
package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/bmt"
	"github.com/knights-analytics/bmt/util/fileutil"
	"github.com/knights-analytics/bmt/util/logutil"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// Caller runs the benchmark command line on behalf of a submitter.
// The submitter is borrowed for the duration of Call and never retained afterwards.
type Caller struct {
	submitter bmt.Submitter
	name      string
	commands  []*cli.Command
	stdout    io.Writer
	stderr    io.Writer
	stdin     io.Reader
	piped     bool
	config    *Config
}

type CallerOption func(c *Caller)

// WithName sets the program name shown in help output.
func WithName(name string) CallerOption {
	return func(c *Caller) {
		c.name = name
	}
}

// WithCommands adds vendor specific commands next to the built-in ones.
func WithCommands(commands ...*cli.Command) CallerOption {
	return func(c *Caller) {
		c.commands = append(c.commands, commands...)
	}
}

// WithOutput redirects reports, command output and logs.
func WithOutput(stdout, stderr io.Writer) CallerOption {
	return func(c *Caller) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithInput supplies input paths, one per line, used when run is given no arguments.
func WithInput(r io.Reader) CallerOption {
	return func(c *Caller) {
		c.stdin = r
		c.piped = true
	}
}

func NewCaller(s bmt.Submitter, opts ...CallerOption) *Caller {
	c := &Caller{
		submitter: s,
		name:      "bmt",
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdin:     os.Stdin,
		piped:     !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call runs the command line in args (args[0] is the program name) and returns the process exit code.
func (c *Caller) Call(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := c.app().RunContext(ctx, args)
	if err == nil {
		return ExitOK
	}
	log.Error().Err(err).Msg("benchmark failed")
	var usage *usageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return ExitFailure
}

func (c *Caller) app() *cli.App {
	onUsageError := func(_ *cli.Context, err error, _ bool) error {
		return &usageError{err: err}
	}
	commands := append([]*cli.Command{c.runCommand(), c.infoCommand(), c.convertModelCommand()}, c.commands...)
	for _, command := range commands {
		if command.OnUsageError == nil {
			command.OnUsageError = onUsageError
		}
	}

	return &cli.App{
		Name:      c.name,
		Usage:     "Run the image classification benchmark against a submitter",
		Writer:    c.stdout,
		ErrWriter: c.stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				Aliases: []string{"c"},
				EnvVars: []string{"BMT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json",
			},
		},
		Before:         c.before,
		Commands:       commands,
		OnUsageError:   onUsageError,
		ExitErrHandler: func(_ *cli.Context, _ error) {},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() > 0 {
				return usageErrorf("unknown command %q", ctx.Args().First())
			}
			return cli.ShowAppHelp(ctx)
		},
	}
}

func (c *Caller) before(ctx *cli.Context) error {
	config, err := LoadConfig(ctx.String("config"))
	if errors.Is(err, ErrInvalidConfig) {
		return &usageError{err: err}
	}
	if err != nil {
		return err
	}
	if ctx.IsSet("log-level") {
		config.Log.Level = ctx.String("log-level")
	}
	if ctx.IsSet("log-format") {
		config.Log.Format = ctx.String("log-format")
	}
	if err = logutil.Configure(config.Log.Level, config.Log.Format, c.stderr); err != nil {
		return &usageError{err: err}
	}
	c.config = config
	return nil
}

func (c *Caller) runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Benchmark the submitter on a set of images",
		Description: `Run takes image files or directories as arguments. Directories are walked recursively for files
with one of the configured extensions. With no arguments, image paths are read from stdin, one per line.`,
		ArgsUsage: "[image or directory...]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Number of inputs per RunInference call",
				Aliases: []string{"b"},
			},
			&cli.IntFlag{
				Name:  "warmup",
				Usage: "Number of leading batches excluded from the latency statistics",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of inputs to process, 0 for all",
			},
			&cli.BoolFlag{
				Name:  "keep-going",
				Usage: "Record failed inputs and continue instead of aborting",
			},
			&cli.StringFlag{
				Name:  "labels",
				Usage: "Ground truth file with \"<file name> <class index>\" lines",
			},
			&cli.StringFlag{
				Name:    "output",
				Usage:   "Where to write the JSON report, stdout if omitted",
				Aliases: []string{"o"},
			},
			&cli.StringFlag{
				Name:  "metrics-output",
				Usage: "Where to write Prometheus metrics in text format",
			},
			&cli.StringSliceFlag{
				Name:  "ext",
				Usage: "Image extensions to pick up from directories",
			},
		},
		Action: c.run,
	}
}

func (c *Caller) applyRunFlags(ctx *cli.Context) error {
	config := c.config
	if ctx.IsSet("batch-size") {
		config.BatchSize = ctx.Int("batch-size")
	}
	if ctx.IsSet("warmup") {
		config.WarmupBatches = ctx.Int("warmup")
	}
	if ctx.IsSet("limit") {
		config.Limit = ctx.Int("limit")
	}
	if ctx.IsSet("keep-going") {
		config.KeepGoing = ctx.Bool("keep-going")
	}
	if ctx.IsSet("labels") {
		config.LabelsPath = ctx.String("labels")
	}
	if ctx.IsSet("output") {
		config.OutputPath = ctx.String("output")
	}
	if ctx.IsSet("metrics-output") {
		config.MetricsPath = ctx.String("metrics-output")
	}
	if ctx.IsSet("ext") {
		config.Extensions = ctx.StringSlice("ext")
	}
	if err := config.Validate(); err != nil {
		return &usageError{err: err}
	}
	return nil
}

func (c *Caller) run(ctx *cli.Context) error {
	if err := c.applyRunFlags(ctx); err != nil {
		return err
	}
	paths, err := c.collectInputs(ctx)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return &usageError{err: ErrNoInputs}
	}

	runner := NewRunner(c.submitter, c.config)
	report, err := runner.Run(ctx.Context, paths)
	if err != nil {
		return err
	}
	for _, line := range report.Summary() {
		log.Info().Msg(line)
	}

	var errs []error
	errs = append(errs, report.Write(c.config.OutputPath, c.stdout))
	if c.config.MetricsPath != "" {
		errs = append(errs, runner.Metrics.WriteFile(c.config.MetricsPath))
	}
	return errors.Join(errs...)
}

// collectInputs expands arguments into image paths, or reads paths from stdin when there are none.
func (c *Caller) collectInputs(ctx *cli.Context) ([]string, error) {
	var paths []string
	if ctx.NArg() > 0 {
		for _, arg := range ctx.Args().Slice() {
			exists, err := fileutil.FileExists(arg)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("input %s does not exist", arg)
			}
			files, err := fileutil.ListFiles(ctx.Context, arg, c.config.Extensions...)
			if err != nil {
				return nil, err
			}
			paths = append(paths, files...)
		}
		return paths, nil
	}
	if !c.piped {
		return nil, nil
	}
	scanner := bufio.NewScanner(c.stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, scanner.Err()
}

func (c *Caller) infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Print the submitter's system information as JSON",
		Action: func(ctx *cli.Context) error {
			_, converts := c.submitter.(bmt.ModelConverter)
			info := struct {
				bmt.OptionalSystemInfo
				ModelConversion bool `json:"model_conversion"`
			}{c.submitter.OptionalSystemInfo(), converts}
			data, err := jsoniter.Marshal(info)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, string(data))
			return err
		},
	}
}

func (c *Caller) convertModelCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert-model",
		Usage:     "Convert a model into the submitter's format",
		ArgsUsage: "<model>",
		Action: func(ctx *cli.Context) error {
			converter, ok := c.submitter.(bmt.ModelConverter)
			if !ok {
				return usageErrorf("this submitter does not support model conversion")
			}
			if ctx.NArg() != 1 {
				return usageErrorf("convert-model takes exactly one model argument")
			}
			model := ctx.Args().First()
			if !converter.RequiresModelConversion() {
				log.Info().Str("model", model).Msg("model conversion not required")
				_, err := fmt.Fprintln(c.stdout, model)
				return err
			}
			converted, err := converter.ConvertModel(model)
			if err != nil {
				return fmt.Errorf("converting %s: %w", model, err)
			}
			_, err = fmt.Fprintln(c.stdout, converted)
			return err
		},
	}
}
