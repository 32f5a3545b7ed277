// Package services defines shared utilities consumed by the pipeline steps and
// the external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, step names, dump modes, and asset
//     names for logging.
//   - The closed error taxonomy (setup, config, fetch, extraction, format,
//     timeout, retry exhausted) plus the Wrap helper that builds structured
//     errors the orchestrator can classify with KindOf.
//
// Use these helpers when wiring new pipeline logic so failure handling stays
// uniform: per-asset failures are recorded, setup failures abort the run.
package services
