package scheduler

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/appcontext"
	"github.com/xenbak/xenbakd/pkg/history"
	"github.com/xenbak/xenbakd/pkg/jobs"
	"github.com/xenbak/xenbakd/pkg/monitoring"
)

const (
	// notifyTimeout bounds result delivery: the run context may already
	// be cancelled or past its deadline when results go out.
	notifyTimeout = 2 * time.Minute

	recordTimeout = 30 * time.Second
)

// Job is a unit of scheduled work. Run executes exactly once per call
// and returns a fresh stats value describing that execution.
type Job interface {
	Name() string
	Schedule() string
	Timeout() time.Duration
	Run(ctx context.Context) (jobs.Stats, error)
}

type cron interface {
	AddFunc(spec string, cmd func()) error
	Start()
}

// RunRecorder persists finished runs. Persistence is best effort, a
// failing recorder never fails the run itself.
type RunRecorder interface {
	Create(ctx context.Context, run history.JobRun) (history.JobRun, error)
}

type entry struct {
	job  Job
	busy chan struct{}
}

// Scheduler runs jobs on their cron schedules, delivers lifecycle
// notifications, records run history and exports run metrics. A job
// whose previous run is still in progress is skipped for that tick.
type Scheduler struct {
	logger logrus.FieldLogger

	entries map[string]*entry

	cron      cron
	recorder  RunRecorder
	notifiers []monitoring.Notifier
	metrics   *Metrics

	hostname string
}

func New(
	logger logrus.FieldLogger,
	scheduled []Job,
	cron cron,
	recorder RunRecorder,
	notifiers []monitoring.Notifier,
	metrics *Metrics,
	hostname string,
) (*Scheduler, error) {
	entries := make(map[string]*entry, len(scheduled))

	for _, job := range scheduled {
		if _, ok := entries[job.Name()]; ok {
			return nil, errors.Errorf("duplicate job name: '%s'", job.Name())
		}

		entries[job.Name()] = &entry{
			job:  job,
			busy: make(chan struct{}, 1),
		}
	}

	return &Scheduler{
		logger: logger,

		entries: entries,

		cron:      cron,
		recorder:  recorder,
		notifiers: notifiers,
		metrics:   metrics,

		hostname: hostname,
	}, nil
}

// Start registers every job with the cron runner and starts it. It
// returns immediately, runs happen on the cron goroutine.
func (s *Scheduler) Start() error {
	for _, e := range s.entries {
		if err := s.register(e); err != nil {
			return err
		}
	}

	s.logger.Debug("Starting cron")
	s.cron.Start()

	return nil
}

func (s *Scheduler) register(e *entry) error {
	err := s.cron.AddFunc(e.job.Schedule(), func() {
		s.dispatch(e)
	})
	if err != nil {
		return errors.Wrapf(err, "invalid schedule '%s' for job '%s'", e.job.Schedule(), e.job.Name())
	}

	s.logger.WithFields(logrus.Fields{
		"job":      e.job.Name(),
		"schedule": e.job.Schedule(),
	}).Debug("Registered job")

	return nil
}

func (s *Scheduler) dispatch(e *entry) {
	select {
	case e.busy <- struct{}{}:
	default:
		s.logger.WithField("job", e.job.Name()).Warn("Previous run is still in progress, skipping this tick")
		s.metrics.ObserveSkip(e.job.Name())
		return
	}
	defer func() { <-e.busy }()

	s.runJob(context.Background(), e.job)
}

// RunOnce executes the named jobs sequentially and returns once all of
// them have finished. An empty name list selects every configured job.
func (s *Scheduler) RunOnce(ctx context.Context, names []string) error {
	selected, err := s.selectJobs(names)
	if err != nil {
		return err
	}

	var failed []string

	for _, job := range selected {
		if _, err := s.runJob(ctx, job); err != nil {
			failed = append(failed, job.Name())
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("%d of %d jobs failed: %s", len(failed), len(selected), strings.Join(failed, ", "))
	}

	return nil
}

func (s *Scheduler) selectJobs(names []string) ([]Job, error) {
	if len(names) == 0 {
		all := make([]Job, 0, len(s.entries))
		for _, e := range s.entries {
			all = append(all, e.job)
		}

		sort.Slice(all, func(i, j int) bool {
			return all[i].Name() < all[j].Name()
		})

		return all, nil
	}

	selected := make([]Job, 0, len(names))
	for _, name := range names {
		e, ok := s.entries[name]
		if !ok {
			return nil, errors.Errorf("unknown job: '%s'", name)
		}

		selected = append(selected, e.job)
	}

	return selected, nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (jobs.Stats, error) {
	runId := nextRunId()

	ctx = appcontext.WithJobName(ctx, job.Name())
	ctx = appcontext.WithRunId(ctx, runId)

	if timeout := job.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := appcontext.LoggerFromContext(s.logger, ctx)
	key := monitoring.CheckKey{Job: job.Name(), Host: s.hostname}

	logger.Info("Starting job run")
	s.notifyStart(ctx, logger, key)

	startedAt := time.Now()
	stats, err := job.Run(ctx)
	finishedAt := time.Now()

	if err != nil {
		logger.WithError(err).Error("Job run failed")
	} else {
		logger.WithField("duration", finishedAt.Sub(startedAt)).Info("Job run finished")
	}

	s.notifyResult(logger, key, stats, err)
	s.recordRun(logger, runId, job, stats, err, startedAt, finishedAt)
	s.metrics.ObserveRun(job.Name(), stats, err, finishedAt.Sub(startedAt))

	return stats, err
}

func (s *Scheduler) notifyStart(ctx context.Context, logger logrus.FieldLogger, key monitoring.CheckKey) {
	for _, notifier := range s.notifiers {
		if err := notifier.Start(ctx, key); err != nil {
			logger.WithError(err).WithField("notifier", notifier.Name()).Warn("Unable to deliver start notification")
		}
	}
}

func (s *Scheduler) notifyResult(logger logrus.FieldLogger, key monitoring.CheckKey, stats jobs.Stats, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	for _, notifier := range s.notifiers {
		var err error

		if runErr != nil {
			err = notifier.Failure(ctx, key, stats)
		} else {
			err = notifier.Success(ctx, key, stats)
		}

		if err != nil {
			logger.WithError(err).WithField("notifier", notifier.Name()).Warn("Unable to deliver result notification")
		}
	}
}

func (s *Scheduler) recordRun(
	logger logrus.FieldLogger,
	runId string,
	job Job,
	stats jobs.Stats,
	runErr error,
	startedAt, finishedAt time.Time,
) {
	status := history.StatusSuccess
	if runErr != nil {
		status = history.StatusFailure
	}

	run := history.JobRun{
		RunId:             runId,
		JobName:           job.Name(),
		JobKind:           stats.JobKind,
		Schedule:          job.Schedule(),
		Status:            status,
		TotalObjects:      stats.TotalObjects,
		SuccessfulObjects: stats.SuccessfulObjects,
		FailedObjects:     stats.FailedObjects,
		DurationSeconds:   stats.DurationSeconds,
		Errors:            strings.Join(stats.Errors, "\n"),
		StartedAt:         startedAt,
		FinishedAt:        finishedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if _, err := s.recorder.Create(ctx, run); err != nil {
		logger.WithError(err).Warn("Unable to persist job run")
	}
}

func nextRunId() string {
	var buf = make([]byte, 16)

	_, err := rand.Read(buf)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%02x", buf)
}
