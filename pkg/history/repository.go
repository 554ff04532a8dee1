package history

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const (
	jobRunInsertQuery = `
		INSERT INTO job_runs (
			run_id, job_name, job_kind, schedule, status,
			total_objects, successful_objects, failed_objects,
			duration_seconds, errors, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	jobRunSelectRecentQuery = `
		SELECT
			id, run_id, job_name, job_kind, schedule, status,
			total_objects, successful_objects, failed_objects,
			duration_seconds, errors, started_at, finished_at
		FROM job_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	jobRunSelectLatestPerJobQuery = `
		SELECT
			id, run_id, job_name, job_kind, schedule, status,
			total_objects, successful_objects, failed_objects,
			duration_seconds, errors, started_at, finished_at
		FROM job_runs AS jr
		WHERE started_at = (
			SELECT MAX(started_at)
			FROM job_runs
			WHERE job_name = jr.job_name
		)
		ORDER BY job_name
	`
)

type JobRunRepository struct {
	db *sqlx.DB
}

func NewJobRunRepository(db *sqlx.DB) *JobRunRepository {
	return &JobRunRepository{
		db: db,
	}
}

func (r *JobRunRepository) Create(ctx context.Context, run JobRun) (JobRun, error) {
	stmt, err := r.db.PrepareContext(ctx, jobRunInsertQuery)
	if err != nil {
		return run, err
	}

	res, err := stmt.ExecContext(
		ctx,
		run.RunId, run.JobName, run.JobKind, run.Schedule, run.Status,
		run.TotalObjects, run.SuccessfulObjects, run.FailedObjects,
		run.DurationSeconds, run.Errors, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return run, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return run, err
	}

	run.Id = id

	return run, nil
}

func (r *JobRunRepository) FindRecent(ctx context.Context, limit int) ([]JobRun, error) {
	var runs []JobRun

	err := r.db.SelectContext(ctx, &runs, jobRunSelectRecentQuery, limit)
	if err != nil {
		return nil, err
	}

	return runs, nil
}

// FindLatestPerJob returns the most recent run of every job that has
// ever been recorded, one row per job name.
func (r *JobRunRepository) FindLatestPerJob(ctx context.Context) ([]JobRun, error) {
	var runs []JobRun

	err := r.db.SelectContext(ctx, &runs, jobRunSelectLatestPerJobQuery)
	if err != nil {
		return nil, err
	}

	return runs, nil
}
