// Package bundle implements the .bundle container consumed by the renderer.
//
// A bundle is an ordered list of named entries. The encoding is big-endian:
//
//	magic   "SHRB"
//	version uint8 (1)
//	count   uint32
//	count × entry:
//	    name length  uint16
//	    name         bytes
//	    compression  uint8 (0 none, 1 lz4, 2 zstd)
//	    raw length   uint32
//	    stored length uint32
//	    stored bytes
//
// Compression is picked from the entry name, so encoding is deterministic:
// finalizing the entries recovered by Read reproduces the input bytes. Bytes
// after the last declared entry are rejected.
package bundle
