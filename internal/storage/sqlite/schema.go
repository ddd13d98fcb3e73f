// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package sqlite

// schema is applied with CREATE TABLE IF NOT EXISTS on every open. Foreign
// keys cascade from sessions so deleting a session prunes every child
// table.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS sessions (
	public_id                  TEXT PRIMARY KEY,
	name                       TEXT NOT NULL DEFAULT '',
	cwd                        TEXT NOT NULL DEFAULT '',
	created_at                 INTEGER NOT NULL,
	updated_at                 INTEGER NOT NULL,
	active_task_id             TEXT NOT NULL DEFAULT '',
	current_intent_snapshot_id TEXT NOT NULL DEFAULT '',
	parent_session_id          TEXT NOT NULL DEFAULT '',
	fork_point_type            TEXT NOT NULL DEFAULT '',
	fork_point_ref             TEXT NOT NULL DEFAULT '',
	fork_origin                TEXT NOT NULL DEFAULT '',
	fork_instructions          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL REFERENCES sessions(public_id) ON DELETE CASCADE,
	role              TEXT NOT NULL,
	parts_json        TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	parent_message_id TEXT NOT NULL DEFAULT '',
	seq               INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	id UNINDEXED, session_id UNINDEXED, body
);

CREATE TABLE IF NOT EXISTS tasks (
	public_id            TEXT PRIMARY KEY,
	session_id           TEXT NOT NULL REFERENCES sessions(public_id) ON DELETE CASCADE,
	kind                 TEXT NOT NULL,
	status               TEXT NOT NULL,
	expected_deliverable TEXT NOT NULL DEFAULT '',
	acceptance_criteria  TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);

CREATE TABLE IF NOT EXISTS intent_snapshots (
	public_id      TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES sessions(public_id) ON DELETE CASCADE,
	summary        TEXT NOT NULL,
	constraints    TEXT NOT NULL DEFAULT '',
	next_step_hint TEXT NOT NULL DEFAULT '',
	task_id        TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_intents_session ON intent_snapshots(session_id, created_at);

CREATE TABLE IF NOT EXISTS decisions (
	public_id  TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(public_id) ON DELETE CASCADE,
	task_id    TEXT NOT NULL DEFAULT '',
	summary    TEXT NOT NULL,
	rationale  TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alternatives (
	public_id   TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL REFERENCES decisions(public_id) ON DELETE CASCADE,
	summary     TEXT NOT NULL,
	rejected    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	public_id  TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(public_id) ON DELETE CASCADE,
	task_id    TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	path       TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS progress_entries (
	public_id  TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(public_id) ON DELETE CASCADE,
	task_id    TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS delegations (
	public_id       TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions(public_id) ON DELETE CASCADE,
	target_agent_id TEXT NOT NULL,
	objective       TEXT NOT NULL,
	objective_hash  TEXT NOT NULL,
	context         TEXT NOT NULL DEFAULT '',
	constraints     TEXT NOT NULL DEFAULT '',
	expected_output TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	completed_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_delegations_retry ON delegations(target_agent_id, objective_hash, status);

CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`
