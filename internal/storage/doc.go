// Package storage persists per-group broadcast preferences.
//
// It keeps two independent tables, one row per destination each:
//   - blacklist: groups opted out of the morning broadcast
//   - weather:   groups with a custom weather city
//
// Writes are native upserts keyed by destination id, so a repeated write for the
// same id updates in place. Deleting an absent id is not an error.
package storage
