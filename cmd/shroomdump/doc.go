// Package main hosts the shroomdump CLI entrypoint and command graph.
//
// The Cobra-based command tree wires configuration, logging and the run
// ledger into the dump pipeline, and exposes the supporting tools: bundle
// inspection and packing, external variables resolution, run history,
// environment checks and configuration scaffolding.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
