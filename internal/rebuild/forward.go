package rebuild

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
)

const verboseFlag = "-v"

// EntryPoint is the transform tool invoked as a function. Args exclude the
// program name.
type EntryPoint interface {
	Main(ctx context.Context, args []string) error
}

type EntryPointFunc func(ctx context.Context, args []string) error

func (f EntryPointFunc) Main(ctx context.Context, args []string) error {
	return f(ctx, args)
}

// Args assembles a forwarded argument list.
type Args struct {
	list []string
}

// Single appends each non-empty value as its own token.
func (a *Args) Single(values ...string) *Args {
	for _, v := range values {
		if v != "" {
			a.list = append(a.list, v)
		}
	}
	return a
}

// KV appends one `key value` pair per non-empty value.
func (a *Args) KV(key string, values ...string) *Args {
	if key == "" {
		return a
	}
	for _, v := range values {
		if v != "" {
			a.list = append(a.list, key, v)
		}
	}
	return a
}

// Rebuild package accumulated argument list.
func (a *Args) List() []string {
	return append([]string(nil), a.list...)
}

// Forwarder hands the patched bundle and master object to the transform tool.
type Forwarder struct {
	entry     EntryPoint
	toolPaths []string
}

// Rebuild package forwarder constructor with the tool paths passed on every call.
func NewForwarder(entry EntryPoint, toolPaths []string) *Forwarder {
	return &Forwarder{
		entry:     entry,
		toolPaths: append([]string(nil), toolPaths...),
	}
}

// ForwardRequest names the inputs and the declared output of one transform.
type ForwardRequest struct {
	Arch    string
	Object  string
	Sidecar string
	Output  string
}

// Rebuild package argument list for one transform call; empty values are omitted.
func (f *Forwarder) Arguments(req ForwardRequest) []string {
	var args Args
	args.Single(req.Object)
	args.KV("-t", f.toolPaths...)
	args.KV("--xml", req.Sidecar)
	args.KV("-o", req.Output)
	args.Single(verboseFlag)
	return args.List()
}

// Forward runs the transform tool and checks its declared output exists.
func (f *Forwarder) Forward(ctx context.Context, req ForwardRequest) error {
	args := f.Arguments(req)
	log.Debug().Str("arch", req.Arch).Strs("args", args).Msg("rebuild.Forwarder.Forward forwarding to transform tool")

	if err := f.entry.Main(ctx, args); err != nil {
		return stageErr(StageTransform, req.Arch, req.Output, ErrToolFailure, err)
	}
	if _, err := os.Stat(req.Output); err != nil {
		return stageErr(StageTransform, req.Arch, req.Output, ErrPostcondition, err)
	}
	return nil
}
