package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/staticobf/internal/bundle"
	"github.com/danmuck/staticobf/internal/observability"
	"github.com/danmuck/staticobf/internal/tools"
	"github.com/rs/zerolog/log"
)

type Stage string

const (
	StageInspect       Stage = "inspect"
	StageWorkspace     Stage = "workspace"
	StageExtractSlice  Stage = "extract_slice"
	StageUnarchive     Stage = "unarchive"
	StageExtractBundle Stage = "extract_bundle"
	StageParse         Stage = "parse"
	StagePatch         Stage = "patch"
	StageTransform     Stage = "transform"
	StageRearchive     Stage = "rearchive"
	StageMerge         Stage = "merge"
)

type State string

const (
	StateStart           State = "start"
	StateWorkspaceReady  State = "workspace_ready"
	StateThinExtracted   State = "thin_extracted"
	StateUnarchived      State = "unarchived"
	StateBundleLocated   State = "bundle_located"
	StateDocumentParsed  State = "document_parsed"
	StateMetadataPatched State = "metadata_patched"
	StateTransformed     State = "transformed"
	StateRearchived      State = "rearchived"
	StateDone            State = "done"
	StateAborted         State = "aborted"
)

// Toolchain is the subset of external tools one architecture needs.
type Toolchain interface {
	ExtractSlice(ctx context.Context, input, arch, output string) error
	Unarchive(ctx context.Context, archive, destDir string) error
	ExtractBundle(ctx context.Context, object, output string) error
	AssembleStaticLib(ctx context.Context, objects []string, output, workDir string) error
}

type BundleReader interface {
	Read(ctx context.Context, path string) (*bundle.Document, error)
}

// Pipeline transforms one architecture of the input archive into one
// rebuilt archive. A Pipeline runs once.
type Pipeline struct {
	input     string
	layout    Layout
	tools     Toolchain
	reader    BundleReader
	patcher   *bundle.Patcher
	forwarder *Forwarder

	state State
	doc   *bundle.Document
}

type PipelineDeps struct {
	Tools     Toolchain
	Reader    BundleReader
	Patcher   *bundle.Patcher
	Forwarder *Forwarder
}

// Rebuild package pipeline constructor for one arch of input under base.
func NewPipeline(input, arch, base string, deps PipelineDeps) *Pipeline {
	patcher := deps.Patcher
	if patcher == nil {
		patcher = bundle.NewPatcher(bundle.DefaultRules())
	}
	return &Pipeline{
		input:     input,
		layout:    NewLayout(base, input, arch),
		tools:     deps.Tools,
		reader:    deps.Reader,
		patcher:   patcher,
		forwarder: deps.Forwarder,
		state:     StateStart,
	}
}

// Rebuild package artifact layout of this pipeline.
func (p *Pipeline) Layout() Layout { return p.layout }

// Rebuild package last state reached by Run.
func (p *Pipeline) State() State { return p.state }

// Run executes every stage in order and returns the rebuilt archive path.
func (p *Pipeline) Run(ctx context.Context) (string, error) {
	steps := []struct {
		stage Stage
		next  State
		run   func(context.Context) error
	}{
		{StageWorkspace, StateWorkspaceReady, p.createWorkspace},
		{StageExtractSlice, StateThinExtracted, p.extractSlice},
		{StageUnarchive, StateUnarchived, p.unarchive},
		{StageExtractBundle, StateBundleLocated, p.extractBundle},
		{StageParse, StateDocumentParsed, p.parseBundle},
		{StagePatch, StateMetadataPatched, p.patchMetadata},
		{StageTransform, StateTransformed, p.transform},
		{StageRearchive, StateRearchived, p.rearchive},
	}

	arch := p.layout.Arch
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			p.state = StateAborted
			return "", stageErr(step.stage, arch, p.layout.ArchDir(), ErrPrecondition, err)
		}
		start := time.Now()
		err := step.run(ctx)
		observability.RecordStage(arch, string(step.stage), time.Since(start), err == nil)
		if err != nil {
			p.state = StateAborted
			log.Debug().Str("arch", arch).Str("stage", string(step.stage)).Err(err).Msg("rebuild.Pipeline.Run aborted")
			return "", err
		}
		log.Debug().Str("arch", arch).Str("from", string(p.state)).Str("to", string(step.next)).Msg("rebuild.Pipeline.Run transition")
		p.state = step.next
	}
	p.state = StateDone

	out := p.layout.OutputPath()
	if !exists(out) {
		return "", stageErr(StageRearchive, arch, out, ErrPostcondition, nil)
	}
	return out, nil
}

func (p *Pipeline) createWorkspace(context.Context) error {
	l := p.layout
	if strings.TrimSpace(l.Arch) == "" {
		return stageErr(StageWorkspace, l.Arch, l.Base, ErrPrecondition, errors.New("missing arch"))
	}
	if strings.TrimSpace(l.Base) == "" {
		return stageErr(StageWorkspace, l.Arch, l.Base, ErrPrecondition, errors.New("missing working base"))
	}
	if err := os.MkdirAll(l.ArchDir(), 0o755); err != nil {
		return stageErr(StageWorkspace, l.Arch, l.ArchDir(), ErrPrecondition, err)
	}
	return nil
}

func (p *Pipeline) extractSlice(ctx context.Context) error {
	l := p.layout
	if !isDir(l.ArchDir()) {
		return stageErr(StageExtractSlice, l.Arch, l.ArchDir(), ErrPrecondition, errors.New("arch dir missing"))
	}
	thin := l.ThinPath()
	if err := p.tools.ExtractSlice(ctx, p.input, l.Arch, thin); err != nil {
		return toolStageErr(StageExtractSlice, l.Arch, thin, fmt.Errorf("cannot extract arch %s from %s: %w", l.Arch, p.input, err))
	}
	if !exists(thin) {
		return stageErr(StageExtractSlice, l.Arch, thin, ErrPostcondition, nil)
	}
	return nil
}

func (p *Pipeline) unarchive(ctx context.Context) error {
	l := p.layout
	if !isDir(l.ArchDir()) {
		return stageErr(StageUnarchive, l.Arch, l.ArchDir(), ErrPrecondition, errors.New("arch dir missing"))
	}
	if err := os.MkdirAll(l.ObjectsDir(), 0o755); err != nil {
		return stageErr(StageUnarchive, l.Arch, l.ObjectsDir(), ErrPrecondition, err)
	}
	thin := l.ThinPath()
	if !exists(thin) {
		return stageErr(StageUnarchive, l.Arch, thin, ErrPrecondition, errors.New("thin file missing"))
	}
	if err := p.tools.Unarchive(ctx, thin, l.ObjectsDir()); err != nil {
		return toolStageErr(StageUnarchive, l.Arch, thin, err)
	}
	return nil
}

func (p *Pipeline) extractBundle(ctx context.Context) error {
	l := p.layout
	if !isDir(l.ObjectsDir()) {
		return stageErr(StageExtractBundle, l.Arch, l.ObjectsDir(), ErrPrecondition, errors.New("objects dir missing"))
	}
	master := l.MasterObjectPath()
	if !exists(master) {
		return stageErr(StageExtractBundle, l.Arch, master, ErrContentLocation, errors.New("master object not found after unarchiving"))
	}
	xar := l.BundlePath()
	if err := p.tools.ExtractBundle(ctx, master, xar); err != nil {
		return toolStageErr(StageExtractBundle, l.Arch, master, err)
	}
	return nil
}

func (p *Pipeline) parseBundle(ctx context.Context) error {
	l := p.layout
	xar := l.BundlePath()
	if !exists(xar) {
		return stageErr(StageParse, l.Arch, xar, ErrPrecondition, errors.New("bundle missing"))
	}
	doc, err := p.reader.Read(ctx, xar)
	if err != nil {
		if errors.Is(err, bundle.ErrMalformed) {
			return stageErr(StageParse, l.Arch, xar, ErrPostcondition, err)
		}
		return toolStageErr(StageParse, l.Arch, xar, err)
	}
	if doc == nil || doc.Root == nil {
		return stageErr(StageParse, l.Arch, xar, ErrPostcondition, errors.New("empty bundle document"))
	}
	p.doc = doc
	return nil
}

func (p *Pipeline) patchMetadata(context.Context) error {
	l := p.layout
	sidecar := l.SidecarPath()
	report, err := p.patcher.Patch(p.doc)
	if err != nil {
		return stageErr(StagePatch, l.Arch, l.BundlePath(), ErrPostcondition, err)
	}
	data, err := bundle.Marshal(p.doc)
	if err != nil {
		return stageErr(StagePatch, l.Arch, sidecar, ErrPostcondition, err)
	}
	if err := os.WriteFile(sidecar, data, 0o644); err != nil {
		return stageErr(StagePatch, l.Arch, sidecar, ErrPostcondition, err)
	}
	files := bundle.Files(p.doc)
	log.Debug().
		Str("arch", l.Arch).
		Bool("platform_rewritten", report.PlatformRewritten).
		Int("files", len(files)).
		Int("files_patched", report.FilesPatched).
		Int("flags_removed", report.FlagsRemoved).
		Msgf("rebuild.Pipeline patched sidecar=%s", sidecar)
	return nil
}

func (p *Pipeline) transform(ctx context.Context) error {
	l := p.layout
	if !exists(l.SidecarPath()) {
		return stageErr(StageTransform, l.Arch, l.SidecarPath(), ErrPrecondition, errors.New("sidecar missing"))
	}
	return p.forwarder.Forward(ctx, ForwardRequest{
		Arch:    l.Arch,
		Object:  l.MasterObjectPath(),
		Sidecar: l.SidecarPath(),
		Output:  l.TransformedPath(),
	})
}

func (p *Pipeline) rearchive(ctx context.Context) error {
	l := p.layout
	members, err := p.Members()
	if err != nil {
		return stageErr(StageRearchive, l.Arch, l.ObjectsDir(), ErrPrecondition, err)
	}
	out := l.OutputPath()
	if err := p.tools.AssembleStaticLib(ctx, members, out, l.Base); err != nil {
		return toolStageErr(StageRearchive, l.Arch, out, err)
	}
	return nil
}

// Members lists the objects of the rebuilt archive: the transformed object
// followed by every other .o of the objects dir, sorted by name.
func (p *Pipeline) Members() ([]string, error) {
	l := p.layout
	entries, err := os.ReadDir(l.ObjectsDir())
	if err != nil {
		return nil, err
	}
	master := l.MasterObjectName()
	others := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".o") || name == master {
			continue
		}
		others = append(others, filepath.Join(l.ObjectsDir(), name))
	}
	sort.Strings(others)
	return append([]string{l.TransformedPath()}, others...), nil
}

func toolStageErr(stage Stage, arch, path string, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, tools.ErrMissingOutput) {
		return stageErr(stage, arch, path, ErrPostcondition, err)
	}
	return stageErr(stage, arch, path, ErrToolFailure, err)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
