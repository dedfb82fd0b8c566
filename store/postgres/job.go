package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/taskforge"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/job"
)

const jobColumns = `
	id, name, queue, payload, state, reason, priority, max_retries, retry_count,
	last_error, scope_app_id, scope_org_id, server_id, worker_id,
	run_at, scheduled_at, started_at, completed_at, failed_at, heartbeat_at,
	created_at, updated_at, timeout,
	result, duration, latency,
	exception_type, exception_message, exception_stack, parameters`

// EnqueueJob persists a new job in enqueued state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	params, err := marshalParameters(j.Parameters)
	if err != nil {
		return fmt.Errorf("dispatch/postgres: marshal parameters: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO dispatch_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20,
			$21, $22, $23,
			$24, $25, $26,
			$27, $28, $29, $30
		)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State), j.Reason,
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.ScopeAppID, j.ScopeOrgID, j.ServerID, j.WorkerID.String(),
		j.RunAt, j.ScheduledAt, j.StartedAt, j.CompletedAt, j.FailedAt, j.HeartbeatAt,
		j.CreatedAt, j.UpdatedAt, j.Timeout.Nanoseconds(),
		j.Result, j.Duration.Nanoseconds(), j.Latency.Nanoseconds(),
		j.ExceptionType, j.ExceptionMessage, j.ExceptionStack, params,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return dispatch.ErrJobAlreadyExists
		}
		return fmt.Errorf("dispatch/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit enqueued/scheduled jobs from
// the given queues, sets them to processing, and returns them. Uses
// SELECT FOR UPDATE SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE dispatch_jobs
			SET state = 'processing', started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM dispatch_jobs
				WHERE state IN ('enqueued', 'scheduled')
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM dispatch_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrJobNotFound
		}
		return nil, fmt.Errorf("dispatch/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	params, err := marshalParameters(j.Parameters)
	if err != nil {
		return fmt.Errorf("dispatch/postgres: marshal parameters: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE dispatch_jobs SET
			name = $2, queue = $3, payload = $4, state = $5, reason = $6,
			priority = $7, max_retries = $8, retry_count = $9,
			last_error = $10, scope_app_id = $11, scope_org_id = $12,
			server_id = $13, worker_id = $14,
			run_at = $15, scheduled_at = $16, started_at = $17,
			completed_at = $18, failed_at = $19, heartbeat_at = $20, timeout = $21,
			result = $22, duration = $23, latency = $24,
			exception_type = $25, exception_message = $26, exception_stack = $27,
			parameters = $28,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State), j.Reason,
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.ScopeAppID, j.ScopeOrgID,
		j.ServerID, j.WorkerID.String(),
		j.RunAt, j.ScheduledAt, j.StartedAt,
		j.CompletedAt, j.FailedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.Result, j.Duration.Nanoseconds(), j.Latency.Nanoseconds(),
		j.ExceptionType, j.ExceptionMessage, j.ExceptionStack,
		params,
	)
	if err != nil {
		return fmt.Errorf("dispatch/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dispatch_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("dispatch/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM dispatch_jobs
		WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispatch/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a processing job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dispatch_jobs SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("dispatch/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns processing jobs whose last heartbeat is older
// than the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM dispatch_jobs
		WHERE state = 'processing'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM dispatch_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("dispatch/postgres: count jobs: %w", err)
	}
	return count, nil
}

// marshalParameters serializes a job's parameter bag for the JSONB column.
func marshalParameters(params map[string]json.RawMessage) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		idStr      string
		stateStr   string
		workerStr  string
		timeoutNs  int64
		durationNs int64
		latencyNs  int64
		paramsRaw  []byte
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr, &j.Reason,
		&j.Priority, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &j.ScopeAppID, &j.ScopeOrgID, &j.ServerID, &workerStr,
		&j.RunAt, &j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &j.FailedAt, &j.HeartbeatAt,
		&j.CreatedAt, &j.UpdatedAt, &timeoutNs,
		&j.Result, &durationNs, &latencyNs,
		&j.ExceptionType, &j.ExceptionMessage, &j.ExceptionStack, &paramsRaw,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	j.Duration = time.Duration(durationNs)
	j.Latency = time.Duration(latencyNs)

	if len(paramsRaw) > 0 {
		if err := json.Unmarshal(paramsRaw, &j.Parameters); err != nil {
			return nil, fmt.Errorf("dispatch/postgres: unmarshal parameters: %w", err)
		}
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("dispatch/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("dispatch/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispatch/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
