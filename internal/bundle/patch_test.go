package bundle

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/staticobf/internal/testutil/testlog"
)

func TestPatchRewritesUnknownPlatform(t *testing.T) {
	testlog.Start(t)
	doc := mustParse(t, sampleTOC)

	report, err := NewPatcher(DefaultRules()).Patch(doc)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if !report.PlatformRewritten {
		t.Fatalf("expected platform rewrite")
	}
	if got := doc.Root.Find("subdoc/platform").Text; got != "iOS" {
		t.Fatalf("unexpected platform: %q", got)
	}
}

func TestPatchKeepsKnownPlatform(t *testing.T) {
	testlog.Start(t)
	doc := mustParse(t, strings.Replace(sampleTOC, "<platform>Unknown</platform>", "<platform>watchos</platform>", 1))

	report, err := NewPatcher(DefaultRules()).Patch(doc)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if report.PlatformRewritten {
		t.Fatalf("platform should not be rewritten")
	}
	if got := doc.Root.Find("subdoc/platform").Text; got != "watchos" {
		t.Fatalf("unexpected platform: %q", got)
	}
}

func TestPatchRewritesOptionLists(t *testing.T) {
	testlog.Start(t)
	doc := mustParse(t, sampleTOC)

	report, err := NewPatcher(DefaultRules()).Patch(doc)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if report.FilesPatched != 3 {
		t.Fatalf("unexpected files patched: %d", report.FilesPatched)
	}
	if report.FlagsRemoved != 4 {
		t.Fatalf("unexpected flags removed: %d", report.FlagsRemoved)
	}

	want := map[string]string{
		"1": "-triple,arm64-apple-ios9.0.0,-O2,-mllvm,-fla",
		"2": "-triple,-mllvm,-fla",
		"3": "-Os,-mllvm,-fla",
	}
	for _, file := range doc.Root.FindAll("toc/file") {
		id, _ := file.Attr("id")
		clang := file.Child("clang")
		if clang == nil {
			if id != "4" {
				t.Fatalf("file %s lost its option list", id)
			}
			continue
		}
		if got := strings.Join(cmdTexts(clang), ","); got != want[id] {
			t.Fatalf("file %s options = %s, want %s", id, got, want[id])
		}
	}
}

func TestPatchLeavesFileReferencesAlone(t *testing.T) {
	testlog.Start(t)
	doc := mustParse(t, sampleTOC)
	before := Files(doc)

	if _, err := NewPatcher(DefaultRules()).Patch(doc); err != nil {
		t.Fatalf("patch: %v", err)
	}
	after := Files(doc)
	if len(before) != len(after) {
		t.Fatalf("file count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("file ref %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if after[0].ID != "1" || after[0].Name != "1" {
		t.Fatalf("unexpected first ref: %+v", after[0])
	}
}

func TestPatchTwiceAppendsSecondDirectivePair(t *testing.T) {
	testlog.Start(t)
	doc := mustParse(t, sampleTOC)
	p := NewPatcher(DefaultRules())

	if _, err := p.Patch(doc); err != nil {
		t.Fatalf("first patch: %v", err)
	}
	report, err := p.Patch(doc)
	if err != nil {
		t.Fatalf("second patch: %v", err)
	}
	if report.FlagsRemoved != 0 || report.PlatformRewritten {
		t.Fatalf("unexpected second report: %+v", report)
	}
	clang := doc.Root.Find("toc/file/clang")
	if got := strings.Join(cmdTexts(clang), ","); got != "-triple,arm64-apple-ios9.0.0,-O2,-mllvm,-fla,-mllvm,-fla" {
		t.Fatalf("unexpected options after double patch: %s", got)
	}
}

func TestPatchCustomRules(t *testing.T) {
	testlog.Start(t)
	doc := mustParse(t, sampleTOC)
	p := NewPatcher(Rules{Platform: "tvOS", Pass: "-sub"})

	if _, err := p.Patch(doc); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got := doc.Root.Find("subdoc/platform").Text; got != "tvOS" {
		t.Fatalf("unexpected platform: %q", got)
	}
	clang := doc.Root.FindAll("toc/file")[2].Child("clang")
	if got := strings.Join(cmdTexts(clang), ","); got != "-Os,-mllvm,-sub" {
		t.Fatalf("unexpected options: %s", got)
	}
}

func TestPatchMissingPlatformIsMalformed(t *testing.T) {
	testlog.Start(t)
	doc := mustParse(t, `<xar><subdoc></subdoc><toc></toc></xar>`)
	if _, err := NewPatcher(DefaultRules()).Patch(doc); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
