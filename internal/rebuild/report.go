package rebuild

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type runReport struct {
	Input         string       `toml:"input"`
	WorkingDir    string       `toml:"working_dir"`
	Final         string       `toml:"final"`
	ElapsedMS     int64        `toml:"elapsed_ms"`
	Architectures []archReport `toml:"architectures"`
}

type archReport struct {
	Arch   string `toml:"arch"`
	Output string `toml:"output"`
}

// WriteReport records a finished run as TOML. An empty path is a no-op.
func WriteReport(path string, res *Result) error {
	if path == "" {
		return nil
	}
	if res == nil {
		return fmt.Errorf("report write failed (%s): nil result", path)
	}
	rep := runReport{
		Input:      res.Input,
		WorkingDir: res.WorkingDir,
		Final:      res.Final,
		ElapsedMS:  res.Elapsed.Milliseconds(),
	}
	for _, arch := range res.Archs {
		rep.Architectures = append(rep.Architectures, archReport{Arch: arch, Output: res.Outputs[arch]})
	}
	data, err := toml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("report encode failed (%s): %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report write failed (%s): %w", path, err)
	}
	return nil
}
