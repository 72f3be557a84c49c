package sqlite

import "database/sql"

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    persona    TEXT NOT NULL DEFAULT '',
    message    TEXT NOT NULL,
    reply      TEXT NOT NULL DEFAULT '',
    actions    TEXT NOT NULL DEFAULT '[]',
    results    TEXT NOT NULL DEFAULT '[]',
    failure    TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_turns_user_created ON turns(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS turn_actions (
    turn_id  TEXT NOT NULL REFERENCES turns(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    kind     TEXT NOT NULL,
    detail   TEXT NOT NULL DEFAULT '',
    status   TEXT NOT NULL CHECK(status IN ('ok','error')),
    PRIMARY KEY (turn_id, position)
);

CREATE INDEX IF NOT EXISTS idx_turn_actions_kind ON turn_actions(kind, status);
`

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	var current int
	row := db.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&current); err != nil {
		// Table doesn't exist or is empty: fresh database.
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	if current < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		DELETE FROM schema_version;
		INSERT INTO schema_version (version) VALUES (?);
	`, schemaVersion)
	return err
}
