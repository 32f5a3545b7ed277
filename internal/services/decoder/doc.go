// Package decoder manages the external Director decoder used to unpack .dcr
// and .cct containers.
//
// A Manager owns one decoder checkout. EnsureAvailable fetches the source with
// git, checks the system package manager, installs dependencies under a time
// ceiling, builds the tool and verifies the executable. Concurrent callers
// share a single in-flight initialization; once it succeeds later calls
// return immediately, and a failed attempt is retried by the next caller.
// Setup failures are services.KindSetup errors.
//
// ExtractFile runs the decoder for one input. The decoder's exit status is
// informational only: the extraction succeeded when at least one file was
// produced in the output directory.
package decoder
