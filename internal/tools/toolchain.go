package tools

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
)

var (
	ErrMissingOutput    = errors.New("tools: declared output missing")
	ErrNoArchitectures  = errors.New("tools: no architectures reported")
	ErrInvalidArguments = errors.New("tools: invalid arguments")
)

// Role names the toolchain step an invocation belongs to.
type Role string

const (
	RoleInspect       Role = "inspect"
	RoleExtractSlice  Role = "extract_slice"
	RoleUnarchive     Role = "unarchive"
	RoleExtractBundle Role = "extract_bundle"
	RoleDumpTOC       Role = "dump_toc"
	RoleAssemble      Role = "assemble"
	RoleMerge         Role = "merge"
	RoleTransform     Role = "transform"
)

// CommandError is a non-success invocation with its captured output.
type CommandError struct {
	Role     Role
	Command  Command
	ExitCode int32
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf(
		"%s command failed cmd=%s args=%q exit=%d stdout=%q stderr=%q: %v",
		e.Role,
		e.Command.Name,
		strings.Join(e.Command.Args, " "),
		e.ExitCode,
		e.Stdout,
		e.Stderr,
		e.Err,
	)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Binaries names the executables used for each role.
type Binaries struct {
	Lipo    string
	Ar      string
	Libtool string
	Segedit string
	Xar     string
}

// Tools package binary names resolved through PATH, except xar.
func DefaultBinaries() Binaries {
	return Binaries{
		Lipo:    "lipo",
		Ar:      "ar",
		Libtool: "libtool",
		Segedit: "segedit",
		Xar:     "/usr/bin/xar",
	}
}

// Toolchain runs the archive and bundle tools through one CommandRunner.
type Toolchain struct {
	runner CommandRunner
	bin    Binaries
}

// Tools package toolchain constructor; empty binaries fall back to DefaultBinaries.
func NewToolchain(runner CommandRunner, bin Binaries) *Toolchain {
	if runner == nil {
		runner = ExecRunner{}
	}
	def := DefaultBinaries()
	if strings.TrimSpace(bin.Lipo) == "" {
		bin.Lipo = def.Lipo
	}
	if strings.TrimSpace(bin.Ar) == "" {
		bin.Ar = def.Ar
	}
	if strings.TrimSpace(bin.Libtool) == "" {
		bin.Libtool = def.Libtool
	}
	if strings.TrimSpace(bin.Segedit) == "" {
		bin.Segedit = def.Segedit
	}
	if strings.TrimSpace(bin.Xar) == "" {
		bin.Xar = def.Xar
	}
	return &Toolchain{runner: runner, bin: bin}
}

func (t *Toolchain) Runner() CommandRunner {
	return t.runner
}

// Architectures lists the slices of a (possibly fat) archive in the order
// lipo reports them.
func (t *Toolchain) Architectures(ctx context.Context, path string) ([]string, error) {
	stdout, err := t.run(ctx, RoleInspect, Command{Name: t.bin.Lipo, Args: []string{"-info", path}}, "")
	if err != nil {
		return nil, err
	}
	archs := ParseLipoInfo(string(stdout))
	if len(archs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArchitectures, path)
	}
	return archs, nil
}

// ParseLipoInfo reads the architecture list that follows the last colon of
// `lipo -info` output.
func ParseLipoInfo(out string) []string {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	idx := strings.LastIndex(out, ":")
	line := out[idx+1:]
	seen := make(map[string]struct{})
	archs := make([]string, 0, 4)
	for _, field := range strings.Fields(line) {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		archs = append(archs, field)
	}
	return archs
}

// Tools package thin slice extraction of one arch into output.
func (t *Toolchain) ExtractSlice(ctx context.Context, input, arch, output string) error {
	if strings.TrimSpace(arch) == "" {
		return fmt.Errorf("%w: empty arch", ErrInvalidArguments)
	}
	cmd := Command{Name: t.bin.Lipo, Args: []string{input, "-thin", arch, "-output", output}}
	_, err := t.run(ctx, RoleExtractSlice, cmd, output)
	return err
}

// Unarchive expands every member of archive into destDir.
func (t *Toolchain) Unarchive(ctx context.Context, archive, destDir string) error {
	abs, err := filepath.Abs(archive)
	if err != nil {
		return err
	}
	cmd := Command{Dir: destDir, Name: t.bin.Ar, Args: []string{"-x", abs}}
	_, err = t.run(ctx, RoleUnarchive, cmd, destDir)
	return err
}

// ExtractBundle copies the __LLVM,__bundle section of object into output.
func (t *Toolchain) ExtractBundle(ctx context.Context, object, output string) error {
	cmd := Command{Name: t.bin.Segedit, Args: []string{object, "-extract", "__LLVM", "__bundle", output}}
	_, err := t.run(ctx, RoleExtractBundle, cmd, output)
	return err
}

// DumpTOC returns the table-of-contents document of a xar container.
func (t *Toolchain) DumpTOC(ctx context.Context, xarPath string) ([]byte, error) {
	if _, err := os.Stat(xarPath); err != nil {
		return nil, err
	}
	return t.run(ctx, RoleDumpTOC, Command{Name: t.bin.Xar, Args: []string{"-d", "-", "-f", xarPath}}, "")
}

// Tools package static archive assembly of objects into output, run from workDir.
func (t *Toolchain) AssembleStaticLib(ctx context.Context, objects []string, output, workDir string) error {
	if len(objects) == 0 {
		return fmt.Errorf("%w: no objects for %s", ErrInvalidArguments, output)
	}
	args := append([]string{"-static", "-o", output}, objects...)
	_, err := t.run(ctx, RoleAssemble, Command{Dir: workDir, Name: t.bin.Libtool, Args: args}, output)
	return err
}

// Tools package fat archive merge of per-arch inputs into output, run from workDir.
func (t *Toolchain) MergeSlices(ctx context.Context, inputs []string, output, workDir string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no slices for %s", ErrInvalidArguments, output)
	}
	args := append([]string{"-create"}, inputs...)
	args = append(args, "-output", output)
	_, err := t.run(ctx, RoleMerge, Command{Dir: workDir, Name: t.bin.Lipo, Args: args}, output)
	return err
}

func (t *Toolchain) run(ctx context.Context, role Role, cmd Command, output string) ([]byte, error) {
	return runTool(ctx, t.runner, role, cmd, output)
}

func runTool(ctx context.Context, runner CommandRunner, role Role, cmd Command, output string) ([]byte, error) {
	log.Debug().Str("role", string(role)).Str("dir", cmd.Dir).Msgf("tools exec cmd=%s args=%q", cmd.Name, strings.Join(cmd.Args, " "))
	start := time.Now()
	stdout, stderr, exitCode, err := runner.Run(ctx, cmd)
	if err == nil && exitCode != 0 {
		err = fmt.Errorf("exit status %d", exitCode)
	}
	observability.RecordTool(string(role), time.Since(start), err == nil)
	if err != nil {
		return nil, &CommandError{
			Role:     role,
			Command:  cmd,
			ExitCode: exitCode,
			Stdout:   strings.TrimSpace(string(stdout)),
			Stderr:   strings.TrimSpace(string(stderr)),
			Err:      err,
		}
	}
	if output != "" {
		if _, statErr := os.Stat(output); statErr != nil {
			return nil, fmt.Errorf("%w: role=%s path=%s", ErrMissingOutput, role, output)
		}
	}
	return stdout, nil
}
