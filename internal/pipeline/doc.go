// Package pipeline orchestrates a dump run.
//
// A run executes up to two independent modes. The origins mode fetches and
// resolves the external variables document, downloads figure data and the
// Shockwave client archive, discovers .dcr/.cct containers in the unpacked
// client, decodes them in bounded windows and repackages every decoded asset
// into <output>/<kind>/<base>.bundle. The standard mode downloads the gamedata
// documents named by its variables and packages them into
// <output>/gamedata.bundle.
//
// Steps are logged as "N. Step: <text>". A config or fetch failure ends only
// the mode it occurred in; a setup failure (decoder unavailable, run lock
// held) aborts the whole run. Per-asset decode failures never abort anything:
// they are written to an extraction_failed.txt manifest in the asset's dump
// directory and reported in the Summary.
//
// The download directory is guarded by an advisory file lock so two runs
// never share it.
package pipeline
