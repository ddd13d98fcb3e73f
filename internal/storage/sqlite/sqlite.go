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

// Package sqlite is the reference storage.Backend implementation, backed by
// the pure-Go modernc.org/sqlite driver (no CGo, matching the rest of the
// reference pack's preference over mattn/go-sqlite3).
//
// One physical file is shared by every repository, opened with WAL so
// readers don't block the single writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/weftagent/weft/internal/event"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/model"
	"github.com/weftagent/weft/internal/storage"
)

// Backend is the sqlite-backed storage.Backend.
type Backend struct {
	db *sql.DB
}

// Open creates (or opens) the sqlite file at path and applies the schema.
// path may be ":memory:" for ephemeral runs.
func Open(path string) (*Backend, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// A single shared connection keeps an in-memory database alive and
		// visible across goroutines; the driver otherwise opens one
		// in-memory DB per connection.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage/sqlite: apply schema: %w", err)
	}
	log.Info("storage opened", zap.String("path", path))
	return &Backend{db: db}, nil
}

func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("storage/sqlite: close: %w", err)
	}
	return nil
}

func (b *Backend) Sessions() storage.SessionRepository     { return sessionRepo{db: b.db} }
func (b *Backend) Messages() storage.MessageRepository     { return messageRepo{db: b.db} }
func (b *Backend) Tasks() storage.TaskRepository           { return taskRepo{db: b.db} }
func (b *Backend) Intents() storage.IntentRepository       { return intentRepo{db: b.db} }
func (b *Backend) Decisions() storage.DecisionRepository   { return decisionRepo{db: b.db} }
func (b *Backend) Artifacts() storage.ArtifactRepository   { return artifactRepo{db: b.db} }
func (b *Backend) Delegations() storage.DelegationRepository { return delegationRepo{db: b.db} }
func (b *Backend) Progress() storage.ProgressRepository    { return progressRepo{db: b.db} }
func (b *Backend) Journal() storage.EventJournal           { return journalRepo{db: b.db} }

var _ storage.Backend = (*Backend)(nil)

// --- sessions ---

type sessionRepo struct{ db *sql.DB }

func (r sessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (public_id, name, cwd, created_at, updated_at,
			active_task_id, current_intent_snapshot_id,
			parent_session_id, fork_point_type, fork_point_ref, fork_origin, fork_instructions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.PublicID, s.Name, s.Cwd, s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano(),
		s.ActiveTaskID, s.CurrentIntentSnapshotID,
		s.ParentSessionID, string(s.ForkPointType), s.ForkPointRef, s.ForkOrigin, s.ForkInstructions)
	if err != nil {
		return fmt.Errorf("storage/sqlite: create session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (model.Session, error) {
	var s model.Session
	var created, updated int64
	var forkType string
	if err := row.Scan(&s.PublicID, &s.Name, &s.Cwd, &created, &updated,
		&s.ActiveTaskID, &s.CurrentIntentSnapshotID,
		&s.ParentSessionID, &forkType, &s.ForkPointRef, &s.ForkOrigin, &s.ForkInstructions); err != nil {
		return model.Session{}, err
	}
	s.CreatedAt = time.Unix(0, created)
	s.UpdatedAt = time.Unix(0, updated)
	s.ForkPointType = model.ForkPointType(forkType)
	return s, nil
}

const sessionColumns = `public_id, name, cwd, created_at, updated_at,
	active_task_id, current_intent_snapshot_id,
	parent_session_id, fork_point_type, fork_point_ref, fork_origin, fork_instructions`

func (r sessionRepo) Get(ctx context.Context, publicID string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE public_id = ?`, publicID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("storage/sqlite: session %s: %w", publicID, errSessionNotFound)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("storage/sqlite: get session: %w", err)
	}
	return s, nil
}

var errSessionNotFound = errors.New("not found")

func (r sessionRepo) Update(ctx context.Context, s model.Session) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET name=?, cwd=?, updated_at=?, active_task_id=?, current_intent_snapshot_id=?
		WHERE public_id=?`,
		s.Name, s.Cwd, time.Now().UnixNano(), s.ActiveTaskID, s.CurrentIntentSnapshotID, s.PublicID)
	if err != nil {
		return fmt.Errorf("storage/sqlite: update session: %w", err)
	}
	return nil
}

func (r sessionRepo) Delete(ctx context.Context, publicID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE public_id=?`, publicID)
	if err != nil {
		return fmt.Errorf("storage/sqlite: delete session: %w", err)
	}
	return nil
}

func (r sessionRepo) List(ctx context.Context) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: list sessions: %w", err)
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r sessionRepo) Touch(ctx context.Context, publicID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE public_id=?`, time.Now().UnixNano(), publicID)
	if err != nil {
		return fmt.Errorf("storage/sqlite: touch session: %w", err)
	}
	return nil
}

// --- messages ---

type messageRepo struct{ db *sql.DB }

func (r messageRepo) Append(ctx context.Context, m model.AgentMessage) error {
	partsJSON, err := model.EncodeParts(m.Parts)
	if err != nil {
		return fmt.Errorf("storage/sqlite: encode parts: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage/sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?`, m.SessionID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("storage/sqlite: next seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, parts_json, created_at, parent_message_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), partsJSON, m.CreatedAt.UnixNano(), m.ParentMessageID, seq); err != nil {
		return fmt.Errorf("storage/sqlite: insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO messages_fts (id, session_id, body) VALUES (?, ?, ?)`,
		m.ID, m.SessionID, textOf(m)); err != nil {
		return fmt.Errorf("storage/sqlite: fts insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE public_id=?`, time.Now().UnixNano(), m.SessionID); err != nil {
		return fmt.Errorf("storage/sqlite: touch session: %w", err)
	}

	return tx.Commit()
}

func textOf(m model.AgentMessage) string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(model.TextPart); ok {
			out += t.Content + "\n"
		}
	}
	return out
}

func (r messageRepo) List(ctx context.Context, sessionID string) ([]model.AgentMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, role, parts_json, created_at, parent_message_id
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: list messages: %w", err)
	}
	defer rows.Close()
	var out []model.AgentMessage
	for rows.Next() {
		var m model.AgentMessage
		var role, partsJSON string
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &partsJSON, &created, &m.ParentMessageID); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.CreatedAt = time.Unix(0, created)
		parts, err := model.DecodeParts(partsJSON)
		if err != nil {
			return nil, err
		}
		m.Parts = parts
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r messageRepo) Search(ctx context.Context, sessionID, query string) ([]model.AgentMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id FROM messages_fts f
		JOIN messages m ON m.id = f.id
		WHERE f.session_id = ? AND messages_fts MATCH ?
		ORDER BY m.seq`, sessionID, query)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: fts search: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	all, err := r.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.AgentMessage
	for _, m := range all {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- tasks ---

type taskRepo struct{ db *sql.DB }

func (r taskRepo) Create(ctx context.Context, t model.Task) error {
	if t.Status == model.TaskActive {
		if existing, err := r.Active(ctx, t.SessionID); err == nil && existing != nil {
			return fmt.Errorf("storage/sqlite: session %s already has an active task %s", t.SessionID, existing.PublicID)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (public_id, session_id, kind, status, expected_deliverable, acceptance_criteria, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.PublicID, t.SessionID, t.Kind, string(t.Status), t.ExpectedDeliverable, t.AcceptanceCriteria, t.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage/sqlite: create task: %w", err)
	}
	return nil
}

func (r taskRepo) SetStatus(ctx context.Context, publicID string, status model.TaskStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET status=? WHERE public_id=?`, string(status), publicID)
	if err != nil {
		return fmt.Errorf("storage/sqlite: set task status: %w", err)
	}
	return nil
}

func (r taskRepo) Active(ctx context.Context, sessionID string) (*model.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT public_id, session_id, kind, status, expected_deliverable, acceptance_criteria, created_at
		FROM tasks WHERE session_id = ? AND status = ? LIMIT 1`, sessionID, string(model.TaskActive))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: active task: %w", err)
	}
	return &t, nil
}

func (r taskRepo) Get(ctx context.Context, publicID string) (model.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT public_id, session_id, kind, status, expected_deliverable, acceptance_criteria, created_at
		FROM tasks WHERE public_id = ?`, publicID)
	t, err := scanTask(row)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage/sqlite: get task: %w", err)
	}
	return t, nil
}

func scanTask(row interface{ Scan(...any) error }) (model.Task, error) {
	var t model.Task
	var status string
	var created int64
	if err := row.Scan(&t.PublicID, &t.SessionID, &t.Kind, &status, &t.ExpectedDeliverable, &t.AcceptanceCriteria, &created); err != nil {
		return model.Task{}, err
	}
	t.Status = model.TaskStatus(status)
	t.CreatedAt = time.Unix(0, created)
	return t, nil
}

// --- intents ---

type intentRepo struct{ db *sql.DB }

func (r intentRepo) Create(ctx context.Context, s model.IntentSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO intent_snapshots (public_id, session_id, summary, constraints, next_step_hint, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.PublicID, s.SessionID, s.Summary, s.Constraints, s.NextStepHint, s.TaskID, s.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage/sqlite: create intent snapshot: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET current_intent_snapshot_id=?, updated_at=? WHERE public_id=?`,
		s.PublicID, time.Now().UnixNano(), s.SessionID); err != nil {
		return fmt.Errorf("storage/sqlite: point session at intent snapshot: %w", err)
	}
	return nil
}

func (r intentRepo) Current(ctx context.Context, sessionID string) (*model.IntentSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT public_id, session_id, summary, constraints, next_step_hint, task_id, created_at
		FROM intent_snapshots WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	s, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: current intent: %w", err)
	}
	return &s, nil
}

func (r intentRepo) Get(ctx context.Context, publicID string) (model.IntentSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT public_id, session_id, summary, constraints, next_step_hint, task_id, created_at
		FROM intent_snapshots WHERE public_id = ?`, publicID)
	s, err := scanIntent(row)
	if err != nil {
		return model.IntentSnapshot{}, fmt.Errorf("storage/sqlite: get intent: %w", err)
	}
	return s, nil
}

func scanIntent(row interface{ Scan(...any) error }) (model.IntentSnapshot, error) {
	var s model.IntentSnapshot
	var created int64
	if err := row.Scan(&s.PublicID, &s.SessionID, &s.Summary, &s.Constraints, &s.NextStepHint, &s.TaskID, &created); err != nil {
		return model.IntentSnapshot{}, err
	}
	s.CreatedAt = time.Unix(0, created)
	return s, nil
}

// --- decisions ---

type decisionRepo struct{ db *sql.DB }

func (r decisionRepo) Create(ctx context.Context, d model.Decision) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO decisions (public_id, session_id, task_id, summary, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.PublicID, d.SessionID, d.TaskID, d.Summary, d.Rationale, d.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage/sqlite: create decision: %w", err)
	}
	return nil
}

func (r decisionRepo) AddAlternative(ctx context.Context, a model.Alternative) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alternatives (public_id, decision_id, summary, rejected, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.PublicID, a.DecisionID, a.Summary, boolToInt(a.Rejected), a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage/sqlite: add alternative: %w", err)
	}
	return nil
}

func (r decisionRepo) List(ctx context.Context, sessionID string) ([]model.Decision, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT public_id, session_id, task_id, summary, rationale, created_at
		FROM decisions WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: list decisions: %w", err)
	}
	defer rows.Close()
	var out []model.Decision
	for rows.Next() {
		var d model.Decision
		var created int64
		if err := rows.Scan(&d.PublicID, &d.SessionID, &d.TaskID, &d.Summary, &d.Rationale, &created); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(0, created)
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- artifacts ---

type artifactRepo struct{ db *sql.DB }

func (r artifactRepo) Create(ctx context.Context, a model.Artifact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (public_id, session_id, task_id, kind, path, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.PublicID, a.SessionID, a.TaskID, a.Kind, a.Path, a.Summary, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage/sqlite: create artifact: %w", err)
	}
	return nil
}

func (r artifactRepo) List(ctx context.Context, sessionID string) ([]model.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT public_id, session_id, task_id, kind, path, summary, created_at
		FROM artifacts WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: list artifacts: %w", err)
	}
	defer rows.Close()
	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var created int64
		if err := rows.Scan(&a.PublicID, &a.SessionID, &a.TaskID, &a.Kind, &a.Path, &a.Summary, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(0, created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- progress ---

type progressRepo struct{ db *sql.DB }

func (r progressRepo) Create(ctx context.Context, p model.ProgressEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO progress_entries (public_id, session_id, task_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.PublicID, p.SessionID, p.TaskID, string(p.Kind), p.Detail, p.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage/sqlite: create progress entry: %w", err)
	}
	return nil
}

func (r progressRepo) List(ctx context.Context, sessionID string) ([]model.ProgressEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT public_id, session_id, task_id, kind, detail, created_at
		FROM progress_entries WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: list progress: %w", err)
	}
	defer rows.Close()
	var out []model.ProgressEntry
	for rows.Next() {
		var p model.ProgressEntry
		var kind string
		var created int64
		if err := rows.Scan(&p.PublicID, &p.SessionID, &p.TaskID, &kind, &p.Detail, &created); err != nil {
			return nil, err
		}
		p.Kind = model.ProgressKind(kind)
		p.CreatedAt = time.Unix(0, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- delegations ---

type delegationRepo struct{ db *sql.DB }

func (r delegationRepo) Create(ctx context.Context, d model.Delegation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delegations (public_id, session_id, target_agent_id, objective, objective_hash,
			context, constraints, expected_output, status, retry_count, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PublicID, d.SessionID, d.TargetAgentID, d.Objective, d.ObjectiveHash,
		d.Context, d.Constraints, d.ExpectedOutput, string(d.Status), d.RetryCount, d.CreatedAt.UnixNano(), nullTime(d.CompletedAt))
	if err != nil {
		return fmt.Errorf("storage/sqlite: create delegation: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func (r delegationRepo) SetStatus(ctx context.Context, publicID string, status model.DelegationStatus, completed *model.Delegation) error {
	var completedAt any
	if completed != nil {
		completedAt = nullTime(completed.CompletedAt)
	}
	_, err := r.db.ExecContext(ctx, `UPDATE delegations SET status=?, completed_at=? WHERE public_id=?`,
		string(status), completedAt, publicID)
	if err != nil {
		return fmt.Errorf("storage/sqlite: set delegation status: %w", err)
	}
	return nil
}

func (r delegationRepo) Get(ctx context.Context, publicID string) (model.Delegation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT public_id, session_id, target_agent_id, objective, objective_hash,
			context, constraints, expected_output, status, retry_count, created_at, completed_at
		FROM delegations WHERE public_id = ?`, publicID)
	return scanDelegation(row)
}

func scanDelegation(row interface{ Scan(...any) error }) (model.Delegation, error) {
	var d model.Delegation
	var status string
	var created int64
	var completed sql.NullInt64
	if err := row.Scan(&d.PublicID, &d.SessionID, &d.TargetAgentID, &d.Objective, &d.ObjectiveHash,
		&d.Context, &d.Constraints, &d.ExpectedOutput, &status, &d.RetryCount, &created, &completed); err != nil {
		return model.Delegation{}, fmt.Errorf("storage/sqlite: scan delegation: %w", err)
	}
	d.Status = model.DelegationStatus(status)
	d.CreatedAt = time.Unix(0, created)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		d.CompletedAt = &t
	}
	return d, nil
}

func (r delegationRepo) PriorFailedRetryCount(ctx context.Context, targetAgentID, objectiveHash string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM delegations WHERE target_agent_id = ? AND objective_hash = ? AND status = ?`,
		targetAgentID, objectiveHash, string(model.DelegationFailed))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("storage/sqlite: prior failed retry count: %w", err)
	}
	return n, nil
}

// --- event journal ---

type journalRepo struct{ db *sql.DB }

func (r journalRepo) Append(ctx context.Context, env event.Envelope) (event.Envelope, error) {
	kindJSON, err := event.EncodeKind(env.Kind)
	if err != nil {
		return event.Envelope{}, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("storage/sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM events WHERE session_id = ?`, env.SessionID)
	if err := row.Scan(&seq); err != nil {
		return event.Envelope{}, fmt.Errorf("storage/sqlite: next event seq: %w", err)
	}

	ts := env.Ts
	if ts.IsZero() {
		ts = time.Unix(0, seq) // deterministic fallback ordering for tests that don't stamp Ts
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, kind, payload, ts) VALUES (?, ?, ?, '{}', ?)`,
		env.SessionID, seq, kindJSON, ts.UnixNano()); err != nil {
		return event.Envelope{}, fmt.Errorf("storage/sqlite: insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return event.Envelope{}, fmt.Errorf("storage/sqlite: commit event: %w", err)
	}
	env.Seq = seq
	env.Ts = ts
	return env, nil
}

func (r journalRepo) List(ctx context.Context, sessionID string, afterSeq int64) ([]event.Envelope, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, kind, ts FROM events WHERE session_id = ? AND seq > ? ORDER BY seq`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: list events: %w", err)
	}
	defer rows.Close()
	var out []event.Envelope
	for rows.Next() {
		var seq, ts int64
		var kindJSON string
		if err := rows.Scan(&seq, &kindJSON, &ts); err != nil {
			return nil, err
		}
		k, err := event.DecodeKind(kindJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, event.Envelope{SessionID: sessionID, Kind: k, Seq: seq, Ts: time.Unix(0, ts)})
	}
	return out, rows.Err()
}
