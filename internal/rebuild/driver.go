package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/staticobf/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("rebuild: invalid driver config")

// Inspector reports the architectures of a fat archive, in order.
type Inspector interface {
	Architectures(ctx context.Context, path string) ([]string, error)
}

// Merger combines per-architecture archives into one fat archive.
type Merger interface {
	MergeSlices(ctx context.Context, inputs []string, output, workDir string) error
}

type DriverConfig struct {
	Input      string
	WorkingDir string
	Jobs       int
	Inspector  Inspector
	Merger     Merger
	Pipeline   PipelineDeps
}

// Result is the outcome of a complete run.
type Result struct {
	Input      string
	WorkingDir string
	Archs      []string
	Outputs    map[string]string
	Final      string
	Elapsed    time.Duration
}

// Driver fans the pipeline out across architectures and merges the results.
type Driver struct {
	cfg DriverConfig
}

// Rebuild package driver constructor validating cfg and resolving Input and
// WorkingDir to absolute paths; assemble and merge run from the working base.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if strings.TrimSpace(cfg.Input) == "" {
		return nil, fmt.Errorf("%w: missing input", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.WorkingDir) == "" {
		return nil, fmt.Errorf("%w: missing working dir", ErrInvalidConfig)
	}
	if cfg.Inspector == nil || cfg.Merger == nil {
		return nil, fmt.Errorf("%w: inspector and merger are required", ErrInvalidConfig)
	}
	if cfg.Pipeline.Tools == nil || cfg.Pipeline.Reader == nil || cfg.Pipeline.Forwarder == nil {
		return nil, fmt.Errorf("%w: pipeline tools, reader and forwarder are required", ErrInvalidConfig)
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	input, err := filepath.Abs(cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve input: %v", ErrInvalidConfig, err)
	}
	base, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve working dir: %v", ErrInvalidConfig, err)
	}
	cfg.Input = input
	cfg.WorkingDir = base
	return &Driver{cfg: cfg}, nil
}

// Rebuild package run: inspect the input, run one pipeline per arch with at
// most Jobs in flight, then merge the per-arch archives into FinalPath.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	input := d.cfg.Input
	base := d.cfg.WorkingDir

	info, err := os.Stat(input)
	if err != nil {
		return nil, stageErr(StageInspect, "", input, ErrPrecondition, err)
	}
	if !info.Mode().IsRegular() {
		return nil, stageErr(StageInspect, "", input, ErrPrecondition, errors.New("input is not a regular file"))
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, stageErr(StageInspect, "", base, ErrPrecondition, err)
	}

	archs, err := d.cfg.Inspector.Architectures(ctx, input)
	if err != nil {
		return nil, toolStageErr(StageInspect, "", input, err)
	}
	log.Info().Strs("archs", archs).Int("jobs", d.cfg.Jobs).Msgf("rebuild.Driver.Run input=%s", input)

	slots := make([]string, len(archs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Jobs)
	for i, arch := range archs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := NewPipeline(input, arch, base, d.cfg.Pipeline).Run(gctx)
			observability.RecordArchitecture(err == nil)
			if err != nil {
				return err
			}
			slots[i] = out
			log.Info().Str("arch", arch).Msgf("rebuild.Driver.Run arch complete output=%s", out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outputs := make(map[string]string, len(archs))
	for i, arch := range archs {
		outputs[arch] = slots[i]
	}

	final := FinalPath(base, input)
	if err := d.cfg.Merger.MergeSlices(ctx, slots, final, base); err != nil {
		if rmErr := os.Remove(final); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn().Err(rmErr).Msgf("rebuild.Driver.Run could not remove partial merge %s", final)
		}
		return nil, toolStageErr(StageMerge, "", final, fmt.Errorf("create lipo failed %s: %w", final, err))
	}

	return &Result{
		Input:      input,
		WorkingDir: base,
		Archs:      archs,
		Outputs:    outputs,
		Final:      final,
		Elapsed:    time.Since(start),
	}, nil
}
