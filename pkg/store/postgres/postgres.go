// Package postgres implements the store against PostgreSQL using pgx.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the PostgreSQL-backed store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pool and runs pending migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := migrate(dsn); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func migrate(dsn string) error {
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrate open: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, p store.CreateSessionParams) (*interview.Session, error) {
	const stmt = `INSERT INTO sessions (id, study_id, script_version, participant_name, participant_email, status)
		VALUES ($1, $2, $3, $4, $5, 'created')`
	_, err := s.pool.Exec(ctx, stmt, p.ID, p.StudyID, p.ScriptVersion, p.Participant.Name, p.Participant.Email)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &interview.Session{
		ID:            p.ID,
		StudyID:       p.StudyID,
		ScriptVersion: p.ScriptVersion,
		Participant:   p.Participant,
		Status:        interview.StatusCreated,
	}, nil
}

func (s *Store) ActivateSession(ctx context.Context, id string) error {
	const stmt = `UPDATE sessions
		SET status = 'active', started_at = COALESCE(started_at, now())
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PauseSession(ctx context.Context, id string, checkpoint interview.Pointer, token string) (string, error) {
	// A token already on the row wins; the candidate only fills an
	// empty slot, so repeated pauses keep the same resume link.
	const stmt = `UPDATE sessions
		SET status = 'paused', paused_at = now(),
		    checkpoint_section = $2, checkpoint_item = $3,
		    resume_token = COALESCE(NULLIF(resume_token, ''), $4)
		WHERE id = $1
		RETURNING resume_token`
	var stored string
	err := s.pool.QueryRow(ctx, stmt, id, checkpoint.Section, checkpoint.Item, token).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pause session: %w", err)
	}
	return stored, nil
}

func (s *Store) CompleteSession(ctx context.Context, id string) error {
	const stmt = `UPDATE sessions
		SET status = 'completed', completed_at = COALESCE(completed_at, now())
		WHERE id = $1 AND status <> 'completed'`
	if _, err := s.pool.Exec(ctx, stmt, id); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (s *Store) SessionByResumeToken(ctx context.Context, token string) (*interview.Session, error) {
	const stmt = `SELECT id, study_id, script_version, participant_name, participant_email,
		status, started_at, paused_at, completed_at,
		checkpoint_section, checkpoint_item, resume_token
		FROM sessions WHERE resume_token = $1`

	var (
		sess              interview.Session
		startedAt         sql.NullTime
		pausedAt          sql.NullTime
		completedAt       sql.NullTime
		checkpointSection sql.NullInt32
		checkpointItem    sql.NullInt32
		resumeToken       sql.NullString
	)
	err := s.pool.QueryRow(ctx, stmt, token).Scan(
		&sess.ID, &sess.StudyID, &sess.ScriptVersion,
		&sess.Participant.Name, &sess.Participant.Email,
		&sess.Status, &startedAt, &pausedAt, &completedAt,
		&checkpointSection, &checkpointItem, &resumeToken,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session by resume token: %w", err)
	}

	if startedAt.Valid {
		sess.StartedAt = startedAt.Time
	}
	if pausedAt.Valid {
		t := pausedAt.Time
		sess.PausedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	if checkpointSection.Valid && checkpointItem.Valid {
		sess.Checkpoint = &interview.Pointer{
			Section: int(checkpointSection.Int32),
			Item:    int(checkpointItem.Int32),
		}
	}
	if resumeToken.Valid {
		sess.ResumeToken = resumeToken.String
	}
	return &sess, nil
}

func (s *Store) SubmitResponse(ctx context.Context, sessionID string, resp interview.Response) error {
	selections, err := jsonOrNull(resp.Selections)
	if err != nil {
		return fmt.Errorf("encode selections: %w", err)
	}
	ranking, err := jsonOrNull(resp.Ranking)
	if err != nil {
		return fmt.Errorf("encode ranking: %w", err)
	}
	var rating *int
	if resp.Rating != 0 {
		rating = &resp.Rating
	}
	answeredAt := resp.AnsweredAt
	if answeredAt.IsZero() {
		answeredAt = time.Now()
	}

	const stmt = `INSERT INTO responses (session_id, item_id, transcript, selections, rating, ranking, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, stmt, sessionID, resp.ItemID, resp.Transcript, selections, rating, ranking, answeredAt); err != nil {
		return fmt.Errorf("submit response: %w", err)
	}
	return nil
}

func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns []interview.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	// ON CONFLICT keeps suffix re-flushes after partial failures safe.
	const stmt = `INSERT INTO turns (session_id, speaker, text, is_probe, spoken_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(stmt, sessionID, string(t.Speaker), t.Text, t.IsProbe, t.Timestamp)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range turns {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("append turns: %w", err)
		}
	}
	return nil
}

func jsonOrNull(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return data, nil
}
