package jobs

import (
	"time"

	"github.com/pkg/errors"

	"github.com/xenbak/xenbakd/pkg/artifact"
)

type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	Name             string        `mapstructure:"name"`
	Schedule         string        `mapstructure:"schedule"`
	Hosts            []string      `mapstructure:"hosts"`
	Storages         []string      `mapstructure:"storages"`
	TagFilter        []string      `mapstructure:"tag_filter"`
	TagFilterExclude []string      `mapstructure:"tag_filter_exclude"`
	Concurrency      int           `mapstructure:"concurrency"`
	Compression      string        `mapstructure:"compression"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ReuseSnapshots   bool          `mapstructure:"reuse_snapshots"`
	SnapshotMaxAge   time.Duration `mapstructure:"snapshot_max_age"`
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("job has no name")
	}

	if c.Schedule == "" {
		return errors.Errorf("job %q has no schedule", c.Name)
	}

	if len(c.Hosts) == 0 {
		return errors.Errorf("job %q has no hosts", c.Name)
	}

	if len(c.Storages) == 0 {
		return errors.Errorf("job %q has no storages", c.Name)
	}

	if c.Concurrency < 0 {
		return errors.Errorf("job %q has a negative concurrency", c.Name)
	}

	if _, err := artifact.CompressionFromString(c.Compression); err != nil {
		return errors.Wrapf(err, "job %q", c.Name)
	}

	if c.ReuseSnapshots && c.SnapshotMaxAge <= 0 {
		return errors.Errorf("job %q reuses snapshots but sets no snapshot_max_age", c.Name)
	}

	return nil
}

// Stats describes the outcome of a single job run. Every run produces
// a fresh value, runs never share or mutate a common one.
type Stats struct {
	JobName           string   `json:"job_name"`
	JobKind           string   `json:"job_kind"`
	Hostname          string   `json:"hostname"`
	Schedule          string   `json:"schedule"`
	TotalObjects      int      `json:"total_objects"`
	SuccessfulObjects int      `json:"successful_objects"`
	FailedObjects     int      `json:"failed_objects"`
	DurationSeconds   float64  `json:"duration_seconds"`
	Errors            []string `json:"errors"`
}
