// Package database provides SQLite-based crawl history for mandala.
//
// Every finished crawl is stored as one row holding the full CrawlReport as
// JSON, plus one row per fetch failure or discarded descriptor. The
// compare command reads two crawls of the same seed back to show how a
// federation changed between them.
//
// The database lives in a single file under the XDG data directory and is
// opened through modernc.org/sqlite, which needs no cgo.
package database
