package journal

import (
	"database/sql"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/hostctl/hostctl/internal/errs"
)

// sqliteMirror durably replicates every appended ChangeRecord into a
// queryable SQLite table, alongside the journal's own append-only file.
// Grounded on internal/channels/imessage/adapter.go's sql.Open("sqlite",
// ...) usage of the pure-Go modernc.org/sqlite driver.
type sqliteMirror struct {
	db *sql.DB
}

func newSQLiteMirror(path string) (*sqliteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Newf(errs.KindInternal, "journal: open sqlite mirror %s: %v", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS change_records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	operation   TEXT NOT NULL,
	path        TEXT NOT NULL,
	old_value   TEXT,
	new_value   TEXT,
	description TEXT NOT NULL,
	hash        TEXT NOT NULL,
	timestamp   TEXT NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Newf(errs.KindInternal, "journal: create sqlite mirror schema: %v", err)
	}
	return &sqliteMirror{db: db}, nil
}

func (m *sqliteMirror) insert(r ChangeRecord) error {
	old, new := string(r.OldValue), string(r.NewValue)
	_, err := m.db.Exec(
		`INSERT INTO change_records (operation, path, old_value, new_value, description, hash, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Operation.String(), r.Path, old, new, r.Description, r.Hash, r.Timestamp,
	)
	if err != nil {
		return errs.Newf(errs.KindInternal, "journal: insert sqlite mirror record: %v", err)
	}
	return nil
}

func (m *sqliteMirror) close() error {
	return m.db.Close()
}

// EnableSQLiteMirror opens (creating if absent) a SQLite database at path
// and begins durably mirroring every future Append call into it. Existing
// in-memory records are not backfilled; the mirror is a forward-looking
// queryable index, not a replacement for the append-only file, which
// remains the source of truth for VerifyChain.
func (j *Journal) EnableSQLiteMirror(path string) error {
	m, err := newSQLiteMirror(path)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.mirror = m
	j.mu.Unlock()
	return nil
}
