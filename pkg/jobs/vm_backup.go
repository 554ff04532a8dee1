package jobs

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/appcontext"
	"github.com/xenbak/xenbakd/pkg/artifact"
	"github.com/xenbak/xenbakd/pkg/storage"
	"github.com/xenbak/xenbakd/pkg/xapi"
)

// snapshotCleanupTimeout bounds snapshot deletion, which runs detached
// from the job context so canceled or expired runs still clean up
// after themselves.
const snapshotCleanupTimeout = 5 * time.Minute

// XenClient is the slice of the xapi client a backup run drives.
type XenClient interface {
	Host() string
	ListVMsByTag(ctx context.Context, tags, excludeTags []string) ([]xapi.VM, error)
	Snapshot(ctx context.Context, vmUUID string) (xapi.VM, error)
	ListSnapshots(ctx context.Context, vmUUID string) ([]xapi.VM, error)
	SetSnapshotNotTemplate(ctx context.Context, uuid string) error
	RenameSnapshot(ctx context.Context, uuid, label string) error
	DeleteSnapshot(ctx context.Context, uuid string) error
	ExportStream(ctx context.Context, snapshotUUID string) (stdout, stderr io.ReadCloser, wait func() error, err error)
}

// BackendResolver maps configured storage names to live backends.
type BackendResolver interface {
	Resolve(names []string) ([]storage.Backend, error)
}

type backupTarget struct {
	client XenClient
	vm     xapi.VM
}

// VmBackupJob snapshots tagged VMs and exports the snapshots into
// every configured storage backend.
type VmBackupJob struct {
	logger   logrus.FieldLogger
	config   Config
	hostname string
	clients  []XenClient
	backends BackendResolver
}

func NewVmBackupJob(logger logrus.FieldLogger, config Config, hostname string, clients []XenClient, backends BackendResolver) *VmBackupJob {
	return &VmBackupJob{
		logger:   logger.WithField("job", config.Name),
		config:   config,
		hostname: hostname,
		clients:  clients,
		backends: backends,
	}
}

func (j *VmBackupJob) Name() string {
	return j.config.Name
}

func (j *VmBackupJob) Schedule() string {
	return j.config.Schedule
}

func (j *VmBackupJob) Timeout() time.Duration {
	return j.config.Timeout
}

func (j *VmBackupJob) Run(ctx context.Context) (Stats, error) {
	startedAt := time.Now()

	stats := Stats{
		JobName:  j.config.Name,
		JobKind:  artifact.KindVmBackup.String(),
		Hostname: j.hostname,
		Schedule: j.config.Schedule,
		Errors:   []string{},
	}

	logger := appcontext.LoggerFromContext(j.logger, ctx)

	logger.Info("Running vm backup job")

	compression, err := artifact.CompressionFromString(j.config.Compression)
	if err != nil {
		return j.fail(stats, startedAt, err)
	}

	var targets []backupTarget

	for _, client := range j.clients {
		vms, err := client.ListVMsByTag(ctx, j.config.TagFilter, j.config.TagFilterExclude)
		if err != nil {
			return j.fail(stats, startedAt, errors.Wrapf(err, "unable to resolve backup targets on host %q", client.Host()))
		}

		if len(vms) == 0 {
			logger.WithField("xen_host", client.Host()).Warn("No VMs matched the tag filter")
		}

		for _, vm := range vms {
			targets = append(targets, backupTarget{client: client, vm: vm})
		}
	}

	stats.TotalObjects = len(targets)

	backends, err := j.backends.Resolve(j.config.Storages)
	if err != nil {
		return j.fail(stats, startedAt, err)
	}

	for _, backend := range backends {
		if err := backend.Initialize(ctx); err != nil {
			return j.fail(stats, startedAt, errors.Wrapf(err, "unable to initialize storage backend %q", backend.Name()))
		}
	}

	concurrency := j.config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]error, len(targets))
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)

		go func(i int, target backupTarget) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = j.backupVM(ctx, target.client, target.vm, backends, compression)
		}(i, target)
	}

	wg.Wait()

	for _, err := range results {
		if err != nil {
			logger.WithError(err).Error("Backup target failed")

			stats.FailedObjects++
			stats.Errors = append(stats.Errors, err.Error())
		} else {
			stats.SuccessfulObjects++
		}
	}

	stats.DurationSeconds = time.Since(startedAt).Seconds()

	logger.
		WithField("total", stats.TotalObjects).
		WithField("successful", stats.SuccessfulObjects).
		WithField("failed", stats.FailedObjects).
		WithField("duration", stats.DurationSeconds).
		Info("Finished vm backup job")

	if stats.FailedObjects > 0 {
		return stats, errors.Errorf("%d of %d backup targets failed", stats.FailedObjects, stats.TotalObjects)
	}

	return stats, nil
}

func (j *VmBackupJob) fail(stats Stats, startedAt time.Time, err error) (Stats, error) {
	stats.Errors = append(stats.Errors, err.Error())
	stats.DurationSeconds = time.Since(startedAt).Seconds()

	return stats, err
}

func (j *VmBackupJob) backupVM(ctx context.Context, client XenClient, vm xapi.VM, backends []storage.Backend, compression artifact.Compression) error {
	ctx = appcontext.WithXenHost(ctx, client.Host())
	ctx = appcontext.WithVmName(ctx, vm.NameLabel)

	logger := appcontext.LoggerFromContext(j.logger, ctx)

	startedAt := time.Now()

	logger.WithField("uuid", vm.UUID).Info("Starting backup")

	snapshot, engineCreated, err := j.acquireSnapshot(ctx, client, vm)
	if err != nil {
		return errors.Wrapf(err, "backup of vm %q [%s] failed", vm.NameLabel, vm.UUID)
	}

	if engineCreated {
		// leaked snapshots consume hypervisor storage indefinitely, so
		// deletion runs on both the success and the failure path
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), snapshotCleanupTimeout)
			defer cancel()

			if err := client.DeleteSnapshot(cleanupCtx, snapshot.UUID); err != nil {
				logger.WithError(err).WithField("snapshot", snapshot.UUID).Warn("Unable to delete snapshot")
			}
		}()
	}

	if err := j.storeSnapshot(ctx, client, vm, snapshot, engineCreated, backends, compression); err != nil {
		return errors.Wrapf(err, "backup of vm %q [%s] failed", vm.NameLabel, vm.UUID)
	}

	logger.WithField("duration", time.Since(startedAt).Seconds()).Info("Finished backup")

	return nil
}

// acquireSnapshot returns the snapshot to export and whether this run
// created it.
func (j *VmBackupJob) acquireSnapshot(ctx context.Context, client XenClient, vm xapi.VM) (xapi.VM, bool, error) {
	logger := appcontext.LoggerFromContext(j.logger, ctx)

	if j.config.ReuseSnapshots {
		snapshot, found, err := j.findReusableSnapshot(ctx, client, vm)
		if err != nil {
			return xapi.VM{}, false, err
		}

		if found {
			logger.WithField("snapshot", snapshot.UUID).Debug("Reusing existing snapshot")

			return snapshot, false, nil
		}
	}

	snapshot, err := client.Snapshot(ctx, vm.UUID)
	if err != nil {
		return xapi.VM{}, false, errors.Wrap(err, "unable to snapshot vm")
	}

	logger.WithField("snapshot", snapshot.UUID).Debug("Created snapshot")

	return snapshot, true, nil
}

func (j *VmBackupJob) findReusableSnapshot(ctx context.Context, client XenClient, vm xapi.VM) (xapi.VM, bool, error) {
	snapshots, err := client.ListSnapshots(ctx, vm.UUID)
	if errors.Cause(err) == xapi.ErrNoSnapshots {
		return xapi.VM{}, false, nil
	}
	if err != nil {
		return xapi.VM{}, false, errors.Wrap(err, "unable to list snapshots")
	}

	newest := snapshots[0]
	for _, snapshot := range snapshots[1:] {
		if snapshot.SnapshotTime.After(newest.SnapshotTime) {
			newest = snapshot
		}
	}

	if time.Since(newest.SnapshotTime) > j.config.SnapshotMaxAge {
		return xapi.VM{}, false, nil
	}

	return newest, true, nil
}

func (j *VmBackupJob) storeSnapshot(ctx context.Context, client XenClient, vm, snapshot xapi.VM, engineCreated bool, backends []storage.Backend, compression artifact.Compression) error {
	// snapshots are templates by default, which blocks vm-export
	if err := client.SetSnapshotNotTemplate(ctx, snapshot.UUID); err != nil {
		return errors.Wrap(err, "unable to clear template flag")
	}

	a := artifact.New(client.Host(), artifact.KindVmBackup, vm.NameLabel, snapshot.SnapshotTime)
	a.Compression = compression

	if err := a.Validate(); err != nil {
		return err
	}

	if engineCreated {
		if err := client.RenameSnapshot(ctx, snapshot.UUID, a.Name()); err != nil {
			return errors.Wrap(err, "unable to rename snapshot")
		}
	}

	for _, backend := range backends {
		backendCtx := appcontext.WithStorageName(ctx, backend.Name())
		logger := appcontext.LoggerFromContext(j.logger, backendCtx)

		logger.Debug("Exporting snapshot")

		if err := j.exportToBackend(backendCtx, client, snapshot, backend, a); err != nil {
			return errors.Wrapf(err, "unable to store artifact on backend %q", backend.Name())
		}

		logger.Debug("Rotating artifacts")

		if err := backend.Rotate(backendCtx, artifact.FilterFor(a)); err != nil {
			return errors.Wrapf(err, "unable to rotate artifacts on backend %q", backend.Name())
		}
	}

	return nil
}

func (j *VmBackupJob) exportToBackend(ctx context.Context, client XenClient, snapshot xapi.VM, backend storage.Backend, a artifact.Artifact) error {
	stdout, stderr, wait, err := client.ExportStream(ctx, snapshot.UUID)
	if err != nil {
		return errors.Wrap(err, "unable to start export")
	}

	storeErr := backend.ConsumeExportStream(ctx, a, stdout, stderr)

	// the export process blocks until both pipes are drained
	_, _ = io.Copy(io.Discard, stdout)
	_, _ = io.Copy(io.Discard, stderr)

	if waitErr := wait(); waitErr != nil && storeErr == nil {
		return errors.Wrap(waitErr, "vm-export exited with error")
	}

	return storeErr
}
