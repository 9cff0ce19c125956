package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/danmuck/staticobf/internal/bundle"
	"github.com/danmuck/staticobf/internal/config"
	"github.com/danmuck/staticobf/internal/logging"
	"github.com/danmuck/staticobf/internal/observability"
	"github.com/danmuck/staticobf/internal/rebuild"
	"github.com/danmuck/staticobf/internal/tools"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const appName = "staticobf"

type options struct {
	configPath    string
	workingDir    string
	toolPaths     []string
	jobs          int
	verbose       bool
	transformTool string
	metricsFile   string
	reportFile    string
}

func newRootCommand() *cobra.Command {
	return buildRootCommand(&options{})
}

func buildRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName + " <input.a>",
		Short:         "Rebuild every architecture of a bitcode static library through an obfuscating transform",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			logging.SetVerbose(opts.verbose)

			cfg, err := resolveConfig(opts, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), args[0], cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.workingDir, "wdir", "", "working directory for per-architecture workspaces and the final archive")
	flags.StringArrayVarP(&opts.toolPaths, "tool-path", "t", nil, "tool path forwarded to the transform tool (repeatable)")
	flags.IntVarP(&opts.jobs, "jobs", "j", 1, "architectures processed concurrently")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&opts.configPath, "config", "", "config file (.toml, .yaml or .yml)")
	flags.StringVar(&opts.transformTool, "transform-tool", "", "transform tool binary")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus textfile metrics here after the run")
	flags.StringVar(&opts.reportFile, "report-file", "", "write a TOML run report here after a successful run")

	cmd.AddCommand(newConfigCommand())
	return cmd
}

// resolveConfig loads the config file, if any, and lets explicitly set
// flags win over it.
func resolveConfig(opts *options, flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if flags.Changed("wdir") {
		cfg.WorkingDir = opts.workingDir
	}
	if flags.Changed("tool-path") {
		cfg.ToolPaths = append([]string(nil), opts.toolPaths...)
	}
	if flags.Changed("jobs") {
		cfg.Jobs = opts.jobs
	}
	if flags.Changed("transform-tool") {
		cfg.TransformTool = opts.transformTool
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = opts.metricsFile
	}
	if flags.Changed("report-file") {
		cfg.ReportFile = opts.reportFile
	}

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	abs, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve working dir: %w", err)
	}
	cfg.WorkingDir = abs
	return cfg, nil
}

func newDriver(input string, cfg config.Config, runner tools.CommandRunner) (*rebuild.Driver, error) {
	tc := tools.NewToolchain(runner, cfg.Binaries())
	transform := tools.Program{Runner: runner, Path: cfg.TransformTool}
	return rebuild.NewDriver(rebuild.DriverConfig{
		Input:      input,
		WorkingDir: cfg.WorkingDir,
		Jobs:       cfg.Jobs,
		Inspector:  tc,
		Merger:     tc,
		Pipeline: rebuild.PipelineDeps{
			Tools:     tc,
			Reader:    bundle.NewReader(tc),
			Patcher:   bundle.NewPatcher(cfg.Rules()),
			Forwarder: rebuild.NewForwarder(transform, cfg.ToolPaths),
		},
	})
}

func run(ctx context.Context, out io.Writer, input string, cfg config.Config) error {
	return runWith(ctx, out, input, cfg, cfg.Runner())
}

func runWith(ctx context.Context, out io.Writer, input string, cfg config.Config, runner tools.CommandRunner) error {
	observability.RegisterMetrics()
	logger := observability.RunLogger(appName, input)

	driver, err := newDriver(input, cfg, runner)
	if err != nil {
		return err
	}

	logger.Info().
		Str("working_dir", cfg.WorkingDir).
		Int("jobs", cfg.Jobs).
		Strs("tool_paths", cfg.ToolPaths).
		Msg("run start")

	res, runErr := driver.Run(ctx)
	if err := observability.WriteMetrics(cfg.MetricsFile); err != nil {
		logger.Warn().Err(err).Msg("metrics textfile not written")
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("run failed")
		return runErr
	}

	if err := rebuild.WriteReport(cfg.ReportFile, res); err != nil {
		return err
	}
	logger.Info().
		Str("final", res.Final).
		Dur("elapsed", res.Elapsed).
		Msg("run done")
	fmt.Fprintln(out, renderSummary(res))
	return nil
}
