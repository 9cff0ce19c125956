// Package tools wraps the external binaries the rebuild pipeline depends on.
//
// Ownership boundary:
// - command execution (local and remote runners)
//
// - one wrapper per toolchain role: slice extraction, unarchiving, bundle
// extraction, table-of-contents dump, archive assembly, slice merge
//
// - declared-output checks after every successful invocation
//
// Wrappers never interpret object file contents. A zero exit status whose
// declared output is missing is reported as ErrMissingOutput.
package tools
