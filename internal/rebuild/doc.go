// Package rebuild owns the per-architecture transform of a fat static
// library and the merge of the results.
//
// Ownership boundary:
// - deterministic artifact layout under the working base
//
// - the staged per-architecture pipeline and its pre/post conditions
//
// - forwarding the patched bundle to the transform tool
//
// - fan-out across architectures and the final merge barrier
//
// Lifecycle order:
// - start -> workspace -> thin -> unarchive -> bundle -> parse -> patch ->
// transform -> rearchive -> done
//
// - any failure moves the pipeline to aborted and fails the whole run.
//
// The working base is never deleted here.
package rebuild
