// Package extvars parses and resolves the operator-hosted external variables
// document: flat key=value lines with # comments and ${key} references.
//
// Parse never fails. Resolve expands references to known keys depth first,
// memoizing each key. A reference back into a key that is still being
// expanded, or one that would grow a value past 1 MiB, stays literal, so
// cyclic references end up as text rather than an error.
// Missing required keys are reported by the typed views (OriginsVariables,
// StandardVariables) as services.KindConfig errors.
package extvars
