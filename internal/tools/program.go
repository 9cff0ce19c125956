package tools

import (
	"context"
	"fmt"
	"strings"
)

// Program exposes an external transform binary as an in-process entry point.
// Any failure is opaque to the caller.
type Program struct {
	Runner CommandRunner
	Path   string
}

func (p Program) Main(ctx context.Context, args []string) error {
	path := strings.TrimSpace(p.Path)
	if path == "" {
		return fmt.Errorf("%w: transform tool path is empty", ErrInvalidArguments)
	}
	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	cmd := Command{Name: path, Args: append([]string(nil), args...)}
	_, err := runTool(ctx, runner, RoleTransform, cmd, "")
	return err
}
