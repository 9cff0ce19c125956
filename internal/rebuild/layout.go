package rebuild

import (
	"path/filepath"
	"strings"
)

const (
	objectsDirName  = "objs"
	thinSuffix      = ".thin"
	masterSuffix    = "-master.o"
	bundleExt       = ".xar"
	sidecarExt      = ".xml"
	transformSuffix = "-master-p.o"
	outputSuffix    = "_obfuscated.a"
)

// Layout derives every artifact path of one (input, arch) pair. Paths depend
// only on Base, Name and Arch.
type Layout struct {
	Base string
	Name string
	Arch string
}

// Rebuild package layout constructor keyed by the input base name.
func NewLayout(base, input, arch string) Layout {
	return Layout{Base: base, Name: filepath.Base(input), Arch: arch}
}

// MakeName builds <name>-<arch><suffix>.
func (l Layout) MakeName(suffix string) string {
	return strings.Join([]string{l.Name, "-", l.Arch, suffix}, "")
}

// Rebuild package per-arch workspace directory under the working base.
func (l Layout) ArchDir() string {
	return filepath.Join(l.Base, l.Arch)
}

// Rebuild package directory holding the unarchived members of the thin slice.
func (l Layout) ObjectsDir() string {
	return filepath.Join(l.ArchDir(), objectsDirName)
}

// Rebuild package path of the single-arch slice extracted from the input.
func (l Layout) ThinPath() string {
	return filepath.Join(l.ArchDir(), l.MakeName(thinSuffix))
}

// Rebuild package file name of the member carrying the bitcode bundle.
func (l Layout) MasterObjectName() string {
	return l.MakeName(masterSuffix)
}

// Rebuild package path of the master object inside ObjectsDir.
func (l Layout) MasterObjectPath() string {
	return filepath.Join(l.ObjectsDir(), l.MasterObjectName())
}

// Rebuild package path of the extracted xar bundle.
func (l Layout) BundlePath() string {
	return filepath.Join(l.ArchDir(), l.MasterObjectName()+bundleExt)
}

// Rebuild package path of the patched metadata sidecar.
func (l Layout) SidecarPath() string {
	return filepath.Join(l.ArchDir(), l.MasterObjectName()+sidecarExt)
}

// Rebuild package path the transform tool writes its object to.
func (l Layout) TransformedPath() string {
	return filepath.Join(l.ArchDir(), l.MakeName(transformSuffix))
}

// Rebuild package path of the rebuilt single-arch archive.
func (l Layout) OutputPath() string {
	return filepath.Join(l.ArchDir(), l.MakeName(outputSuffix))
}

// FinalPath is the merged archive at the root of the working base.
func FinalPath(base, input string) string {
	return filepath.Join(base, filepath.Base(input)+outputSuffix)
}
