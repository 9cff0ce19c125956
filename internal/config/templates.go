package config

import (
	"fmt"
	"os"
	"strings"
)

// Config package template text for "toml" (default) or "yaml".
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
}

// Config package template writer; refuses to replace an existing file unless overwrite is set.
func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `working_dir = "build/staticobf"
jobs = 2
tool_paths = []
transform_tool = "bitcode-build-tool"
platform = "iOS"
obfuscation_pass = "-fla"
metrics_file = ""
report_file = ""

[toolchain]
lipo = "lipo"
ar = "ar"
libtool = "libtool"
segedit = "segedit"
xar = "/usr/bin/xar"

# [remote]
# host = "mac-builder.local"
# user = "builder"
# key_path = "~/.ssh/id_ed25519"
# timeout = "10s"
`

const yamlTemplate = `working_dir: build/staticobf
jobs: 2
tool_paths: []
transform_tool: bitcode-build-tool
platform: iOS
obfuscation_pass: -fla
toolchain:
  lipo: lipo
  ar: ar
  libtool: libtool
  segedit: segedit
  xar: /usr/bin/xar
`
