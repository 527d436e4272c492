package sqlitestore

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	owner_id    TEXT NOT NULL,
	id          TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed   INTEGER NOT NULL DEFAULT 0,
	due_date    TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT,
	PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS revisions (
	owner_id TEXT PRIMARY KEY,
	rev      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_owner_title ON tasks(owner_id, title COLLATE NOCASE);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
