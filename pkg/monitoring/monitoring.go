package monitoring

import (
	"context"

	"github.com/xenbak/xenbakd/pkg/jobs"
)

// CheckKey identifies a monitored job: the job name plus the hostname
// of the machine running it. Two machines running a job of the same
// name report to different checks.
type CheckKey struct {
	Job  string
	Host string
}

// Slug renders the key the way the monitoring services address checks,
// e.g. "nightly_backup01".
func (k CheckKey) Slug() string {
	return k.Job + "_" + k.Host
}

// Notifier delivers job run lifecycle notifications. Notification
// failures are reported to the caller but must never fail the run
// itself.
type Notifier interface {
	Name() string
	Start(ctx context.Context, key CheckKey) error
	Success(ctx context.Context, key CheckKey, stats jobs.Stats) error
	Failure(ctx context.Context, key CheckKey, stats jobs.Stats) error
}
