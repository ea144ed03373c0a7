//go:build cgo_sqlite

package sqlite

// Registers the "sqlite3" driver for NewWithDriver(path, DriverCGO).
import _ "github.com/mattn/go-sqlite3"
