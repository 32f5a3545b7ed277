// Package discovery walks an unpacked client tree and classifies the
// Director containers (.dcr, .cct) it finds.
//
// Classification is a pure function of the lower-cased base name and the
// path relative to the walk root, checked in a fixed order: figure, then
// furniture, then room, else other. The walk stops descending past a depth
// ceiling and does not follow symlinked directories.
package discovery
