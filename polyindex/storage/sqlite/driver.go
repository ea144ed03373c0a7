package sqlite

// Registers the pure-Go "sqlite" driver.
import _ "modernc.org/sqlite"
