// Package ledger keeps a SQLite history of dump runs and the outcome of every
// asset each run processed.
//
// The database lives at paths.ledger_path and is migrated on Open from the
// embedded migrations directory. Writes retry briefly on SQLITE_BUSY so a
// concurrent `shroomdump history` never fails a running dump.
package ledger
