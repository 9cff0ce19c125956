package rebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/staticobf/internal/bundle"
	"github.com/danmuck/staticobf/internal/tools"
)

const fakeTOC = `<?xml version="1.0" encoding="UTF-8"?>
<xar>
 <subdoc subdoc_name="Ld">
  <platform>Unknown</platform>
 </subdoc>
 <toc>
  <file id="1">
   <name>1</name>
   <clang><cmd>-triple</cmd><cmd>-disable-llvm-passes</cmd></clang>
  </file>
 </toc>
</xar>
`

// fakeRunner stands in for lipo, ar, segedit, xar and libtool by writing the
// files each tool would produce.
type fakeRunner struct {
	mu         sync.Mutex
	commands   []tools.Command
	archs      []string
	toc        string
	fail       map[string]bool
	skipMaster bool
}

func newFakeRunner(archs ...string) *fakeRunner {
	return &fakeRunner{archs: archs, toc: fakeTOC, fail: map[string]bool{}}
}

func (f *fakeRunner) Run(_ context.Context, c tools.Command) ([]byte, []byte, int32, error) {
	f.mu.Lock()
	f.commands = append(f.commands, c)
	f.mu.Unlock()

	failed := func() ([]byte, []byte, int32, error) {
		return nil, []byte("fake failure"), 1, errors.New("exit status 1")
	}

	switch filepath.Base(c.Name) {
	case "lipo":
		switch {
		case c.Args[0] == "-info":
			return []byte("Architectures in the fat file: " + c.Args[1] + " are: " + strings.Join(f.archs, " ") + "\n"), nil, 0, nil
		case c.Args[0] == "-create":
			out := inDir(c.Dir, c.Args[len(c.Args)-1])
			for _, in := range c.Args[1 : len(c.Args)-2] {
				if _, err := os.Stat(inDir(c.Dir, in)); err != nil {
					return nil, []byte("missing " + in), 1, errors.New("exit status 1")
				}
			}
			if f.fail["create"] {
				_ = os.WriteFile(out, []byte("partial"), 0o644)
				return failed()
			}
			return nil, nil, 0, os.WriteFile(out, []byte(strings.Join(c.Args[1:len(c.Args)-2], "\n")), 0o644)
		case len(c.Args) == 5 && c.Args[1] == "-thin":
			if f.fail["thin:"+c.Args[2]] {
				return failed()
			}
			return nil, nil, 0, os.WriteFile(c.Args[4], []byte("thin "+c.Args[2]), 0o644)
		}
	case "ar":
		if f.fail["ar"] {
			return failed()
		}
		stem := strings.TrimSuffix(filepath.Base(c.Args[1]), ".thin")
		names := []string{"b.o", "a.o", "README.txt"}
		if !f.skipMaster {
			names = append(names, stem+"-master.o")
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(c.Dir, name), []byte(name), 0o644); err != nil {
				return nil, nil, 1, err
			}
		}
		return nil, nil, 0, nil
	case "segedit":
		if f.fail["segedit"] {
			return failed()
		}
		return nil, nil, 0, os.WriteFile(c.Args[4], []byte("xar!"), 0o644)
	case "xar":
		return []byte(f.toc), nil, 0, nil
	case "libtool":
		if f.fail["libtool"] {
			return failed()
		}
		var members []string
		for _, obj := range c.Args[3:] {
			if _, err := os.Stat(inDir(c.Dir, obj)); err != nil {
				return nil, []byte("missing " + obj), 1, errors.New("exit status 1")
			}
			members = append(members, filepath.Base(obj))
		}
		return nil, nil, 0, os.WriteFile(inDir(c.Dir, c.Args[2]), []byte(strings.Join(members, "\n")), 0o644)
	}
	return nil, []byte("unknown command"), 127, errors.New("unknown command " + c.Name)
}

// inDir resolves a relative tool argument against the command's working
// directory, as the real tool would.
func inDir(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (f *fakeRunner) count(name string, firstArg string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if filepath.Base(c.Name) != name {
			continue
		}
		if firstArg != "" && (len(c.Args) == 0 || !slices.Contains(c.Args, firstArg)) {
			continue
		}
		n++
	}
	return n
}

// fakeTransform writes the -o path, mimicking the transform tool.
type fakeTransform struct {
	mu       sync.Mutex
	calls    [][]string
	noOutput bool
	err      error
}

func (f *fakeTransform) Main(_ context.Context, args []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.noOutput {
		return nil
	}
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-o" {
			return os.WriteFile(args[i+1], []byte("transformed"), 0o644)
		}
	}
	return errors.New("no -o argument")
}

func newTestDeps(runner *fakeRunner, transform EntryPoint) (PipelineDeps, *tools.Toolchain) {
	tc := tools.NewToolchain(runner, tools.Binaries{})
	return PipelineDeps{
		Tools:     tc,
		Reader:    bundle.NewReader(tc),
		Patcher:   bundle.NewPatcher(bundle.DefaultRules()),
		Forwarder: NewForwarder(transform, []string{"/opt/tools"}),
	}, tc
}

func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("!<arch>\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(string(data), "\n")
}
