// Package sqlstore implements checkpoint.Store on a SQL database.
//
// Checkpoints live in a single table. Queries use $N placeholders and run on PostgreSQL through
// lib/pq, or on any database/sql driver accepting the same dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
)

var _ checkpoint.Store = (*Store)(nil)

// Store is a checkpoint store backed by a SQL table. Call Migrate once to create the table.
type Store struct {
	db  *sql.DB
	q   queries
	now checkpoint.Clock
}

// Option configures the Store.
type Option func(s *Store)

// WithTable sets the name of the checkpoint table. Defaults to pipeline_checkpoints.
func WithTable(table string) Option {
	return func(s *Store) {
		s.q = newQueries(table)
	}
}

// WithClock sets the clock used by CleanupExpired.
func WithClock(now checkpoint.Clock) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on db. The caller owns db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, q: newQueries(defaultTable), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open connects to PostgreSQL with dsn. Close releases the connection pool.
func Open(dsn string, opts ...Option) (*Store, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse postgres dsn")
	}

	return New(sql.OpenDB(connector), opts...), nil
}

// Migrate creates the checkpoint table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.q.schema)
	return errors.Wrap(err, "unable to create checkpoint table")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) (err error) {
	if err = cp.Validate(); err != nil {
		return err
	}
	vals, err := values(cp)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updateArgs := make([]any, 0, len(vals))
	updateArgs = append(updateArgs, vals[1:]...)
	updateArgs = append(updateArgs, vals[0])
	res, err := tx.ExecContext(ctx, s.q.update, updateArgs...)
	if err != nil {
		return errors.Wrapf(err, "unable to update checkpoint %s", cp.ID)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "unable to count updated checkpoints")
	}
	if count == 0 {
		if _, err = tx.ExecContext(ctx, s.q.insert, vals...); err != nil {
			return errors.Wrapf(err, "unable to insert checkpoint %s", cp.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "unable to commit checkpoint")
}

func (s *Store) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	cps, err := s.query(ctx, s.q.byID, id)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, checkpoint.ErrNotFound
	}

	return cps[0], nil
}

func (s *Store) GetLatest(ctx context.Context, executionID string) (*checkpoint.Checkpoint, error) {
	cps, err := s.query(ctx, s.q.byExecution, executionID)
	if err != nil {
		return nil, err
	}
	latest := checkpoint.Latest(cps)
	if latest == nil {
		return nil, checkpoint.ErrNotFound
	}

	return latest, nil
}

func (s *Store) GetAll(ctx context.Context, executionID string) ([]*checkpoint.Checkpoint, error) {
	cps, err := s.query(ctx, s.q.byExecution, executionID)
	if err != nil {
		return nil, err
	}
	checkpoint.SortOldestFirst(cps)

	return cps, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status checkpoint.Status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, s.q.updateStatus, string(status), errMsg, id)
	return errors.Wrapf(err, "unable to update status of checkpoint %s", id)
}

// Claim runs one conditional update per resumable status. Each of them is atomic, and a claimed
// checkpoint is never resumable, so at most one caller wins.
func (s *Store) Claim(ctx context.Context, id string, to checkpoint.Status) (*checkpoint.Checkpoint, error) {
	if err := checkpoint.ValidateClaim(to); err != nil {
		return nil, err
	}
	for _, from := range []checkpoint.Status{checkpoint.StatusPaused, checkpoint.StatusFailed} {
		res, err := s.db.ExecContext(ctx, s.q.claim, string(to), id, string(from))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to claim checkpoint %s", id)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "unable to count claimed checkpoints")
		}
		if count > 0 {
			return s.Get(ctx, id)
		}
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return nil, checkpoint.ErrNotClaimable
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q.deleteOne, id)
	return errors.Wrapf(err, "unable to delete checkpoint %s", id)
}

func (s *Store) DeleteAll(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, s.q.deleteExecution, executionID)
	return errors.Wrapf(err, "unable to delete checkpoints of %s", executionID)
}

func (s *Store) GetResumable(ctx context.Context, pipelineName string) ([]*checkpoint.Checkpoint, error) {
	var cps []*checkpoint.Checkpoint
	for _, status := range []checkpoint.Status{checkpoint.StatusPaused, checkpoint.StatusFailed} {
		found, err := s.query(ctx, s.q.byStatus, string(status))
		if err != nil {
			return nil, err
		}
		for _, cp := range found {
			if pipelineName == "" || cp.PipelineName == pipelineName {
				cps = append(cps, cp)
			}
		}
	}
	checkpoint.SortNewestFirst(cps)

	return cps, nil
}

func (s *Store) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixNano()
	rows, err := s.db.QueryContext(ctx, s.q.expiredIDs, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "unable to list expired checkpoints")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, errors.Wrap(err, "unable to read expired checkpoint")
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return 0, errors.Wrap(err, "unable to list expired checkpoints")
	}
	_ = rows.Close()

	removed := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, s.q.deleteOne, id)
		if err != nil {
			return removed, errors.Wrapf(err, "unable to delete checkpoint %s", id)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return removed, errors.Wrap(err, "unable to count deleted checkpoints")
		}
		removed += int(count)
	}

	return removed, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query checkpoints")
	}
	defer func() {
		_ = rows.Close()
	}()

	var cps []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scan(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}

	return cps, errors.Wrap(rows.Err(), "unable to read checkpoints")
}

// values returns the column values of cp, in the order of columns.
func values(cp *checkpoint.Checkpoint) ([]any, error) {
	var metadata string
	if len(cp.Metadata) > 0 {
		data, err := json.Marshal(cp.Metadata)
		if err != nil {
			return nil, errors.Wrap(err, "unable to encode metadata")
		}
		metadata = string(data)
	}

	return []any{
		cp.ID,
		cp.ExecutionID,
		cp.PipelineName,
		int64(cp.StepIndex),
		cp.StepID,
		cp.StepName,
		base64.StdEncoding.EncodeToString(cp.State),
		cp.StateType,
		string(cp.Status),
		cp.Error,
		cp.CreatedAt.UnixNano(),
		cp.CorrelationID,
		metadata,
	}, nil
}

func scan(rows *sql.Rows) (*checkpoint.Checkpoint, error) {
	var (
		cp        checkpoint.Checkpoint
		stepIndex int64
		state     string
		status    string
		createdAt int64
		metadata  string
	)
	err := rows.Scan(&cp.ID, &cp.ExecutionID, &cp.PipelineName, &stepIndex, &cp.StepID, &cp.StepName, &state,
		&cp.StateType, &status, &cp.Error, &createdAt, &cp.CorrelationID, &metadata)
	if err != nil {
		return nil, errors.Wrap(err, "unable to scan checkpoint")
	}

	cp.StepIndex = int(stepIndex)
	cp.Status = checkpoint.Status(status)
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	if state != "" {
		if cp.State, err = base64.StdEncoding.DecodeString(state); err != nil {
			return nil, errors.Wrapf(err, "unable to decode state of checkpoint %s", cp.ID)
		}
	}
	if metadata != "" {
		if err = json.Unmarshal([]byte(metadata), &cp.Metadata); err != nil {
			return nil, errors.Wrapf(err, "unable to decode metadata of checkpoint %s", cp.ID)
		}
	}

	return &cp, nil
}
