package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB initializes the SQLite database and creates the uploads table if it
// doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY,
		job_id TEXT UNIQUE,
		source_url TEXT,
		asset_id TEXT,
		status TEXT DEFAULT 'pending',
		error TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		locked_by TEXT
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
