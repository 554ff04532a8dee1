package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/appcontext"
	"github.com/xenbak/xenbakd/pkg/history"
)

type JobRunRepository interface {
	FindLatestPerJob(context.Context) ([]history.JobRun, error)
	FindRecent(ctx context.Context, limit int) ([]history.JobRun, error)
}

// JobRunsHandler reports the most recent run of every known job as
// JSON, one entry per job.
type JobRunsHandler struct {
	logger logrus.FieldLogger
	repo   JobRunRepository
}

func NewJobRunsHandler(logger logrus.FieldLogger, repo JobRunRepository) *JobRunsHandler {
	return &JobRunsHandler{
		logger: logger,
		repo:   repo,
	}
}

type jobRunResponse struct {
	RunId             string   `json:"run_id"`
	JobName           string   `json:"job_name"`
	JobKind           string   `json:"job_kind"`
	Schedule          string   `json:"schedule"`
	Status            string   `json:"status"`
	TotalObjects      int      `json:"total_objects"`
	SuccessfulObjects int      `json:"successful_objects"`
	FailedObjects     int      `json:"failed_objects"`
	DurationSeconds   float64  `json:"duration_seconds"`
	Errors            []string `json:"errors"`
	StartedAt         int64    `json:"started_at_mtime"`
	FinishedAt        int64    `json:"finished_at_mtime"`
}

func (h *JobRunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	runs, err := h.repo.FindLatestPerJob(ctx)
	if err != nil {
		logger.WithError(err).Error("Unable to query latest job runs")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJobRuns(logger, w, runs)
}

const defaultHistoryLimit = 50

// JobRunHistoryHandler reports the most recent runs across all jobs,
// newest first. The "limit" query parameter caps the result.
type JobRunHistoryHandler struct {
	logger logrus.FieldLogger
	repo   JobRunRepository
}

func NewJobRunHistoryHandler(logger logrus.FieldLogger, repo JobRunRepository) *JobRunHistoryHandler {
	return &JobRunHistoryHandler{
		logger: logger,
		repo:   repo,
	}
}

func (h *JobRunHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		limit = parsed
	}

	runs, err := h.repo.FindRecent(ctx, limit)
	if err != nil {
		logger.WithError(err).Error("Unable to query recent job runs")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJobRuns(logger, w, runs)
}

func writeJobRuns(logger logrus.FieldLogger, w http.ResponseWriter, runs []history.JobRun) {
	result := make([]jobRunResponse, 0, len(runs))

	for _, run := range runs {
		var errs []string
		if run.Errors != "" {
			errs = strings.Split(run.Errors, "\n")
		}

		result = append(result, jobRunResponse{
			RunId:             run.RunId,
			JobName:           run.JobName,
			JobKind:           run.JobKind,
			Schedule:          run.Schedule,
			Status:            run.Status,
			TotalObjects:      run.TotalObjects,
			SuccessfulObjects: run.SuccessfulObjects,
			FailedObjects:     run.FailedObjects,
			DurationSeconds:   run.DurationSeconds,
			Errors:            errs,
			StartedAt:         run.StartedAt.UnixNano() / 1e6,
			FinishedAt:        run.FinishedAt.UnixNano() / 1e6,
		})
	}

	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	err := enc.Encode(result)
	if err != nil {
		logger.WithError(err).Error("Unable to encode response")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
