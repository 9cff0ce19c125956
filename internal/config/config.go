package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/staticobf/internal/bundle"
	"github.com/danmuck/staticobf/internal/tools"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	WorkingDir      string
	Jobs            int
	ToolPaths       []string
	TransformTool   string
	Platform        string
	ObfuscationPass string
	MetricsFile     string
	ReportFile      string
	Toolchain       ToolchainConfig
	Remote          RemoteConfig
}

type ToolchainConfig struct {
	Lipo    string
	Ar      string
	Libtool string
	Segedit string
	Xar     string
}

type RemoteConfig struct {
	Host                     string
	Port                     string
	User                     string
	KeyPath                  string
	KnownHosts               string
	InsecureSkipHostKeyCheck bool
	Timeout                  time.Duration
}

type fileConfig struct {
	WorkingDir      string        `toml:"working_dir" yaml:"working_dir"`
	Jobs            int           `toml:"jobs" yaml:"jobs"`
	ToolPaths       []string      `toml:"tool_paths" yaml:"tool_paths"`
	TransformTool   string        `toml:"transform_tool" yaml:"transform_tool"`
	Platform        string        `toml:"platform" yaml:"platform"`
	ObfuscationPass string        `toml:"obfuscation_pass" yaml:"obfuscation_pass"`
	MetricsFile     string        `toml:"metrics_file" yaml:"metrics_file"`
	ReportFile      string        `toml:"report_file" yaml:"report_file"`
	Toolchain       fileToolchain `toml:"toolchain" yaml:"toolchain"`
	Remote          fileRemote    `toml:"remote" yaml:"remote"`
}

type fileToolchain struct {
	Lipo    string `toml:"lipo" yaml:"lipo"`
	Ar      string `toml:"ar" yaml:"ar"`
	Libtool string `toml:"libtool" yaml:"libtool"`
	Segedit string `toml:"segedit" yaml:"segedit"`
	Xar     string `toml:"xar" yaml:"xar"`
}

type fileRemote struct {
	Host                     string `toml:"host" yaml:"host"`
	Port                     string `toml:"port" yaml:"port"`
	User                     string `toml:"user" yaml:"user"`
	KeyPath                  string `toml:"key_path" yaml:"key_path"`
	KnownHosts               string `toml:"known_hosts" yaml:"known_hosts"`
	InsecureSkipHostKeyCheck bool   `toml:"insecure_skip_host_key_check" yaml:"insecure_skip_host_key_check"`
	Timeout                  string `toml:"timeout" yaml:"timeout"`
}

// Config package defaults used before any file or flag overlay.
func Default() Config {
	bin := tools.DefaultBinaries()
	return Config{
		Jobs:            1,
		TransformTool:   "bitcode-build-tool",
		Platform:        bundle.DefaultPlatform,
		ObfuscationPass: bundle.DefaultPass,
		Toolchain: ToolchainConfig{
			Lipo:    bin.Lipo,
			Ar:      bin.Ar,
			Libtool: bin.Libtool,
			Segedit: bin.Segedit,
			Xar:     bin.Xar,
		},
	}
}

// Load overlays the keys present in the file at path onto Default. The
// format follows the extension: .yaml/.yml is YAML, anything else TOML.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	var defined func(keys ...string) bool
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		defined = yamlDefined(tree)
	default:
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		defined = meta.IsDefined
	}

	if err := overlay(&cfg, raw, defined); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

func overlay(cfg *Config, raw fileConfig, defined func(keys ...string) bool) error {
	if defined("working_dir") {
		cfg.WorkingDir = strings.TrimSpace(raw.WorkingDir)
	}
	if defined("jobs") {
		cfg.Jobs = raw.Jobs
	}
	if defined("tool_paths") {
		cfg.ToolPaths = normalizeList(raw.ToolPaths)
	}
	if defined("transform_tool") {
		cfg.TransformTool = strings.TrimSpace(raw.TransformTool)
	}
	if defined("platform") {
		cfg.Platform = strings.TrimSpace(raw.Platform)
	}
	if defined("obfuscation_pass") {
		cfg.ObfuscationPass = strings.TrimSpace(raw.ObfuscationPass)
	}
	if defined("metrics_file") {
		cfg.MetricsFile = strings.TrimSpace(raw.MetricsFile)
	}
	if defined("report_file") {
		cfg.ReportFile = strings.TrimSpace(raw.ReportFile)
	}

	if defined("toolchain", "lipo") {
		cfg.Toolchain.Lipo = strings.TrimSpace(raw.Toolchain.Lipo)
	}
	if defined("toolchain", "ar") {
		cfg.Toolchain.Ar = strings.TrimSpace(raw.Toolchain.Ar)
	}
	if defined("toolchain", "libtool") {
		cfg.Toolchain.Libtool = strings.TrimSpace(raw.Toolchain.Libtool)
	}
	if defined("toolchain", "segedit") {
		cfg.Toolchain.Segedit = strings.TrimSpace(raw.Toolchain.Segedit)
	}
	if defined("toolchain", "xar") {
		cfg.Toolchain.Xar = strings.TrimSpace(raw.Toolchain.Xar)
	}

	if defined("remote", "host") {
		cfg.Remote.Host = strings.TrimSpace(raw.Remote.Host)
	}
	if defined("remote", "port") {
		cfg.Remote.Port = strings.TrimSpace(raw.Remote.Port)
	}
	if defined("remote", "user") {
		cfg.Remote.User = strings.TrimSpace(raw.Remote.User)
	}
	if defined("remote", "key_path") {
		cfg.Remote.KeyPath = strings.TrimSpace(raw.Remote.KeyPath)
	}
	if defined("remote", "known_hosts") {
		cfg.Remote.KnownHosts = strings.TrimSpace(raw.Remote.KnownHosts)
	}
	if defined("remote", "insecure_skip_host_key_check") {
		cfg.Remote.InsecureSkipHostKeyCheck = raw.Remote.InsecureSkipHostKeyCheck
	}
	if defined("remote", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Remote.Timeout))
		if err != nil {
			return fmt.Errorf("parse remote.timeout: %w", err)
		}
		cfg.Remote.Timeout = d
	}
	return nil
}

func yamlDefined(tree map[string]any) func(keys ...string) bool {
	return func(keys ...string) bool {
		var cur any = tree
		for _, key := range keys {
			m, ok := cur.(map[string]any)
			if !ok {
				return false
			}
			cur, ok = m[key]
			if !ok {
				return false
			}
		}
		return true
	}
}

// Config package validation of a resolved config; failures wrap ErrInvalid.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.WorkingDir) == "" {
		return fmt.Errorf("%w: missing working_dir", ErrInvalid)
	}
	if cfg.Jobs < 1 {
		return fmt.Errorf("%w: jobs must be at least 1, got %d", ErrInvalid, cfg.Jobs)
	}
	if strings.TrimSpace(cfg.TransformTool) == "" {
		return fmt.Errorf("%w: missing transform_tool", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Platform) == "" {
		return fmt.Errorf("%w: missing platform", ErrInvalid)
	}
	if strings.TrimSpace(cfg.ObfuscationPass) == "" {
		return fmt.Errorf("%w: missing obfuscation_pass", ErrInvalid)
	}
	tc := cfg.Toolchain
	for name, bin := range map[string]string{
		"lipo":    tc.Lipo,
		"ar":      tc.Ar,
		"libtool": tc.Libtool,
		"segedit": tc.Segedit,
		"xar":     tc.Xar,
	} {
		if strings.TrimSpace(bin) == "" {
			return fmt.Errorf("%w: toolchain.%s is empty", ErrInvalid, name)
		}
	}
	if cfg.Remote.Host != "" {
		if cfg.Remote.User == "" {
			return fmt.Errorf("%w: remote.user required when remote.host is set", ErrInvalid)
		}
		if cfg.Remote.KeyPath == "" {
			return fmt.Errorf("%w: remote.key_path required when remote.host is set", ErrInvalid)
		}
	}
	if cfg.Remote.Timeout < 0 {
		return fmt.Errorf("%w: remote.timeout must not be negative", ErrInvalid)
	}
	return nil
}

// Runner returns the command runner selected by the remote section.
func (c Config) Runner() tools.CommandRunner {
	if c.Remote.Host == "" {
		return tools.ExecRunner{}
	}
	return tools.SSHRunner{
		Host:                        c.Remote.Host,
		Port:                        c.Remote.Port,
		User:                        c.Remote.User,
		KeyPath:                     c.Remote.KeyPath,
		KnownHostsPath:              c.Remote.KnownHosts,
		InsecureSkipHostKeyChecking: c.Remote.InsecureSkipHostKeyCheck,
		Timeout:                     c.Remote.Timeout,
	}
}

// Config package toolchain binaries for tools.NewToolchain.
func (c Config) Binaries() tools.Binaries {
	return tools.Binaries{
		Lipo:    c.Toolchain.Lipo,
		Ar:      c.Toolchain.Ar,
		Libtool: c.Toolchain.Libtool,
		Segedit: c.Toolchain.Segedit,
		Xar:     c.Toolchain.Xar,
	}
}

func (c Config) Rules() bundle.Rules {
	rules := bundle.DefaultRules()
	rules.Platform = c.Platform
	rules.Pass = c.ObfuscationPass
	return rules
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
