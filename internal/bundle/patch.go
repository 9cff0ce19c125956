package bundle

import (
	"fmt"
	"strings"
)

const (
	UnknownPlatform      = "Unknown"
	DefaultPlatform      = "iOS"
	DisableLLVMPasses    = "-disable-llvm-passes"
	DefaultPassDirective = "-mllvm"
	DefaultPass          = "-fla"
)

// Rules is the fixed rewrite applied to every bundle before recompilation.
type Rules struct {
	Platform  string
	Strip     string
	Directive string
	Pass      string
}

// Bundle package default rewrite: iOS platform, strip -disable-llvm-passes, append -mllvm -fla.
func DefaultRules() Rules {
	return Rules{
		Platform:  DefaultPlatform,
		Strip:     DisableLLVMPasses,
		Directive: DefaultPassDirective,
		Pass:      DefaultPass,
	}
}

// PatchReport summarizes what one Patch call changed.
type PatchReport struct {
	PlatformRewritten bool
	FilesPatched      int
	FlagsRemoved      int
}

// Patcher rewrites bundle metadata in place.
type Patcher struct {
	rules Rules
}

// Bundle package patcher constructor; empty rule fields take DefaultRules values.
func NewPatcher(rules Rules) *Patcher {
	def := DefaultRules()
	if strings.TrimSpace(rules.Platform) == "" {
		rules.Platform = def.Platform
	}
	if rules.Strip == "" {
		rules.Strip = def.Strip
	}
	if rules.Directive == "" {
		rules.Directive = def.Directive
	}
	if rules.Pass == "" {
		rules.Pass = def.Pass
	}
	return &Patcher{rules: rules}
}

func (p *Patcher) Rules() Rules {
	return p.rules
}

// Patch normalizes the platform leaf and rewrites the clang option list of
// every file record. It is not idempotent: each call appends another
// directive pair.
func (p *Patcher) Patch(doc *Document) (PatchReport, error) {
	var report PatchReport
	if doc == nil || doc.Root == nil {
		return report, fmt.Errorf("%w: nil document", ErrMalformed)
	}

	platform := doc.Root.Find("subdoc/platform")
	if platform == nil {
		return report, fmt.Errorf("%w: missing subdoc/platform", ErrMalformed)
	}
	if platform.Text == UnknownPlatform {
		platform.Text = p.rules.Platform
		report.PlatformRewritten = true
	}

	for _, file := range doc.Root.FindAll("toc/file") {
		options := file.Child("clang")
		if options == nil {
			continue
		}
		report.FlagsRemoved += options.RemoveChildren(func(n *Node) bool {
			return n.Name == "cmd" && n.Text == p.rules.Strip
		})
		options.AppendChild(NewNode("cmd", p.rules.Directive))
		options.AppendChild(NewNode("cmd", p.rules.Pass))
		report.FilesPatched++
	}
	return report, nil
}

// FileRef identifies one file record; both fields are read-only references.
type FileRef struct {
	ID   string
	Name string
}

// Files lists the file records of the table of contents in document order.
func Files(doc *Document) []FileRef {
	if doc == nil || doc.Root == nil {
		return nil
	}
	var out []FileRef
	for _, file := range doc.Root.FindAll("toc/file") {
		ref := FileRef{}
		ref.ID, _ = file.Attr("id")
		if name := file.Child("name"); name != nil {
			ref.Name = strings.TrimSpace(name.Text)
		}
		out = append(out, ref)
	}
	return out
}
