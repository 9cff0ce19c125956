// Package bundle reads, patches and serializes the table of contents of an
// embedded bitcode bundle (a xar container).
package bundle
