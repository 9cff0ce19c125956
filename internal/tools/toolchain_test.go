package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/staticobf/internal/testutil/testlog"
)

type toolFakeRunner struct {
	commands []Command
	results  []toolRunResult
	write    bool
}

type toolRunResult struct {
	stdout   []byte
	stderr   []byte
	exitCode int32
	err      error
}

func (r *toolFakeRunner) Run(_ context.Context, c Command) ([]byte, []byte, int32, error) {
	r.commands = append(r.commands, c)
	if r.write {
		for i, arg := range c.Args {
			if (arg == "-output" || arg == "-o") && i+1 < len(c.Args) {
				_ = os.WriteFile(c.Args[i+1], []byte("x"), 0o644)
			}
		}
		if c.Name == "segedit" {
			_ = os.WriteFile(c.Args[len(c.Args)-1], []byte("x"), 0o644)
		}
	}
	if len(r.results) > 0 {
		next := r.results[0]
		r.results = r.results[1:]
		return next.stdout, next.stderr, next.exitCode, next.err
	}
	return nil, nil, 0, nil
}

func TestParseLipoInfo(t *testing.T) {
	cases := map[string]string{
		"Architectures in the fat file: libfoo.a are: armv7 arm64 \n": "armv7,arm64",
		"Non-fat file: libfoo.a is architecture: arm64":               "arm64",
		"Architectures in the fat file: x are: arm64 arm64 x86_64":    "arm64,x86_64",
		"": "",
	}
	for in, want := range cases {
		if got := strings.Join(ParseLipoInfo(in), ","); got != want {
			t.Fatalf("ParseLipoInfo(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArchitecturesRunsLipoInfo(t *testing.T) {
	testlog.Start(t)
	runner := &toolFakeRunner{results: []toolRunResult{{stdout: []byte("Architectures in the fat file: lib.a are: arm64 armv7")}}}
	archs, err := NewToolchain(runner, Binaries{}).Architectures(context.Background(), "lib.a")
	if err != nil {
		t.Fatalf("architectures: %v", err)
	}
	if strings.Join(archs, ",") != "arm64,armv7" {
		t.Fatalf("unexpected archs: %v", archs)
	}
	if got := runner.commands[0].String(); got != "lipo -info lib.a" {
		t.Fatalf("unexpected command: %q", got)
	}
}

func TestArchitecturesEmptyListFails(t *testing.T) {
	testlog.Start(t)
	runner := &toolFakeRunner{results: []toolRunResult{{stdout: []byte("")}}}
	if _, err := NewToolchain(runner, Binaries{}).Architectures(context.Background(), "lib.a"); !errors.Is(err, ErrNoArchitectures) {
		t.Fatalf("expected ErrNoArchitectures, got %v", err)
	}
}

func TestToolchainCommandShapes(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	runner := &toolFakeRunner{write: true}
	tc := NewToolchain(runner, Binaries{Xar: "xar"})
	ctx := context.Background()

	thin := filepath.Join(dir, "lib.a-arm64.thin")
	if err := tc.ExtractSlice(ctx, "lib.a", "arm64", thin); err != nil {
		t.Fatalf("extract slice: %v", err)
	}
	if err := tc.Unarchive(ctx, thin, dir); err != nil {
		t.Fatalf("unarchive: %v", err)
	}
	xar := filepath.Join(dir, "m.o.xar")
	if err := tc.ExtractBundle(ctx, "m.o", xar); err != nil {
		t.Fatalf("extract bundle: %v", err)
	}
	if _, err := tc.DumpTOC(ctx, xar); err != nil {
		t.Fatalf("dump toc: %v", err)
	}
	out := filepath.Join(dir, "out.a")
	if err := tc.AssembleStaticLib(ctx, []string{"p.o", "a.o"}, out, dir); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	final := filepath.Join(dir, "final.a")
	if err := tc.MergeSlices(ctx, []string{"x.a", "y.a"}, final, dir); err != nil {
		t.Fatalf("merge: %v", err)
	}

	want := []string{
		"lipo lib.a -thin arm64 -output " + thin,
		"ar -x " + thin,
		"segedit m.o -extract __LLVM __bundle " + xar,
		"xar -d - -f " + xar,
		"libtool -static -o " + out + " p.o a.o",
		"lipo -create x.a y.a -output " + final,
	}
	if len(runner.commands) != len(want) {
		t.Fatalf("unexpected command count: %d", len(runner.commands))
	}
	for i, c := range runner.commands {
		if c.String() != want[i] {
			t.Fatalf("command %d = %q, want %q", i, c.String(), want[i])
		}
	}
	if runner.commands[1].Dir != dir {
		t.Fatalf("unarchive must run inside the objects dir, got %q", runner.commands[1].Dir)
	}
}

func TestToolchainMissingDeclaredOutput(t *testing.T) {
	testlog.Start(t)
	out := filepath.Join(t.TempDir(), "lib.a-arm64.thin")
	err := NewToolchain(&toolFakeRunner{}, Binaries{}).ExtractSlice(context.Background(), "lib.a", "arm64", out)
	if !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("expected ErrMissingOutput, got %v", err)
	}
}

func TestToolchainCommandFailure(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("exit status 1")
	runner := &toolFakeRunner{results: []toolRunResult{{stderr: []byte("can't figure out the architecture type\n"), exitCode: 1, err: boom}}}
	out := filepath.Join(t.TempDir(), "final.a")

	err := NewToolchain(runner, Binaries{}).MergeSlices(context.Background(), []string{"a.a"}, out, "")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Role != RoleMerge || cmdErr.ExitCode != 1 || cmdErr.Stderr != "can't figure out the architecture type" {
		t.Fatalf("unexpected command error: %+v", cmdErr)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestToolchainRejectsEmptyInputs(t *testing.T) {
	tc := NewToolchain(&toolFakeRunner{}, Binaries{})
	ctx := context.Background()
	if err := tc.AssembleStaticLib(ctx, nil, "out.a", ""); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
	if err := tc.MergeSlices(ctx, nil, "out.a", ""); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
	if err := tc.ExtractSlice(ctx, "lib.a", " ", "out"); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestProgramRunsTransformBinary(t *testing.T) {
	testlog.Start(t)
	runner := &toolFakeRunner{}
	err := Program{Runner: runner, Path: "/opt/bitcode-build-tool"}.Main(context.Background(), []string{"m.o", "-v"})
	if err != nil {
		t.Fatalf("main: %v", err)
	}
	if got := runner.commands[0].String(); got != "/opt/bitcode-build-tool m.o -v" {
		t.Fatalf("unexpected command: %q", got)
	}

	if err := (Program{Runner: runner}).Main(context.Background(), nil); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}
