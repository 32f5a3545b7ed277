// Package preflight provides readiness checks for the tools, directories and
// endpoints a dump run depends on.
//
// These checks run in two contexts:
//   - The pipeline calls CheckDirectoryAccess on its working directories before
//     taking the run lock.
//   - The CLI "shroomdump doctor" command runs RunAll and renders every result.
//
// Network checks are skipped for modes whose URL is not configured.
package preflight
