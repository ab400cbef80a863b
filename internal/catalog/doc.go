// Package catalog records wsitile runs in a SQLite database.
//
// The catalog stores:
//   - One row per run with its full batch report as JSON
//   - Every tile written by a tile run, with its origin and content digest
//   - Every classified tile with its nucleus count and bucket
//
// It lives in the user's XDG data directory and backs the history command.
//
// The catalog is a single SQLite file opened through the CGO-free
// modernc.org/sqlite driver.
package catalog
