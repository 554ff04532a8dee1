package xapi

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	xeBinary = "xe"

	// snapshotLabel marks snapshots created by a backup run, so cleanup
	// never touches snapshots taken by an operator.
	snapshotLabel = "xenbakd-snapshot"
)

var (
	ErrNoSnapshots = errors.New("vm has no snapshots")
)

type Config struct {
	Name     string `mapstructure:"name"`
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("host has no name")
	}

	if c.Server == "" {
		return errors.Errorf("host %q has no server address", c.Name)
	}

	if !isLocalServer(c.Server) && (c.Username == "" || c.Password == "") {
		return errors.Errorf("host %q needs credentials for remote access", c.Name)
	}

	return nil
}

func isLocalServer(server string) bool {
	return server == "localhost" || server == "127.0.0.1"
}

// VM describes a virtual machine or a snapshot as reported by
// vm-param-list. SnapshotTime is the zero epoch for regular VMs.
type VM struct {
	UUID            string
	NameLabel       string
	NameDescription string
	IsATemplate     bool
	IsASnapshot     bool
	SnapshotTime    time.Time
}

// Client drives a single Xen host through the xe CLI.
type Client struct {
	logger logrus.FieldLogger
	config Config
}

func NewClient(logger logrus.FieldLogger, config Config) *Client {
	return &Client{
		logger: logger.WithField("xen_host", config.Name),
		config: config,
	}
}

// Host returns the configured host name used in artifact identities.
func (c *Client) Host() string {
	return c.config.Name
}

func (c *Client) baseArgs() []string {
	// a local xe talks to its own xapi socket without credentials
	if isLocalServer(c.config.Server) {
		return []string{"-s", "127.0.0.1"}
	}

	return []string{
		"-s", c.config.Server,
		"-u", c.config.Username,
		"-pw", c.config.Password,
	}
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	// args carry credentials, log only the subcommand
	c.logger.WithField("subcommand", args[0]).Debug("Running xe command")

	stdout, stderr, err := runXeCommand(ctx, append(c.baseArgs(), args...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "xe %s failed: %s", args[0], bytes.TrimSpace(stderr))
	}

	return stdout, nil
}

// ListVMsByTag resolves the VMs carrying all the given tags, minus the
// ones carrying any exclude tag. Templates, snapshots and the control
// domain never match.
func (c *Client) ListVMsByTag(ctx context.Context, tags, excludeTags []string) ([]VM, error) {
	uuids, err := c.listVMUUIDsByTag(ctx, tags)
	if err != nil {
		return nil, err
	}

	// an empty tag list matches every VM on the host, so the exclusion
	// listing only runs when there is something to exclude
	if len(excludeTags) > 0 && len(uuids) > 0 {
		excluded, err := c.listVMUUIDsByTag(ctx, excludeTags)
		if err != nil {
			return nil, err
		}

		excludedSet := make(map[string]bool, len(excluded))
		for _, uuid := range excluded {
			excludedSet[uuid] = true
		}

		kept := uuids[:0]
		for _, uuid := range uuids {
			if !excludedSet[uuid] {
				kept = append(kept, uuid)
			}
		}

		uuids = kept
	}

	vms := make([]VM, 0, len(uuids))

	for _, uuid := range uuids {
		vm, err := c.GetVM(ctx, uuid)
		if err != nil {
			return nil, err
		}

		vms = append(vms, vm)
	}

	return vms, nil
}

func (c *Client) listVMUUIDsByTag(ctx context.Context, tags []string) ([]string, error) {
	stdout, err := c.run(ctx,
		"vm-list",
		"tags:contains="+strings.Join(tags, ","),
		"is-a-template=false",
		"is-a-snapshot=false",
		"is-control-domain=false",
		"--minimal",
	)
	if err != nil {
		return nil, err
	}

	return parseUUIDList(string(stdout))
}

// GetVM fetches the parameters of a VM or snapshot by uuid.
func (c *Client) GetVM(ctx context.Context, uuid string) (VM, error) {
	stdout, err := c.run(ctx, "vm-param-list", "uuid="+uuid)
	if err != nil {
		return VM{}, err
	}

	return parseVMParams(string(stdout))
}

// Snapshot takes a new snapshot of the VM and returns it.
func (c *Client) Snapshot(ctx context.Context, vmUUID string) (VM, error) {
	stdout, err := c.run(ctx, "vm-snapshot", "vm="+vmUUID, "new-name-label="+snapshotLabel)
	if err != nil {
		return VM{}, err
	}

	uuid, err := parseUUID(string(stdout))
	if err != nil {
		return VM{}, err
	}

	return c.GetVM(ctx, uuid)
}

// ListSnapshots returns the snapshots of a VM, or ErrNoSnapshots when
// there are none.
func (c *Client) ListSnapshots(ctx context.Context, vmUUID string) ([]VM, error) {
	stdout, err := c.run(ctx, "snapshot-list", "snapshot-of="+vmUUID, "--minimal")
	if err != nil {
		return nil, err
	}

	uuids, err := parseUUIDList(string(stdout))
	if err != nil {
		return nil, err
	}

	if len(uuids) == 0 {
		return nil, ErrNoSnapshots
	}

	snapshots := make([]VM, 0, len(uuids))

	for _, uuid := range uuids {
		snapshot, err := c.GetVM(ctx, uuid)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

// SetSnapshotNotTemplate clears the template flag xapi sets on
// snapshots, which would otherwise block vm-export.
func (c *Client) SetSnapshotNotTemplate(ctx context.Context, uuid string) error {
	_, err := c.run(ctx, "snapshot-param-set", "is-a-template=false", "uuid="+uuid)

	return err
}

func (c *Client) RenameSnapshot(ctx context.Context, uuid, label string) error {
	_, err := c.run(ctx, "snapshot-param-set", "uuid="+uuid, "name-label="+label)

	return err
}

func (c *Client) DeleteSnapshot(ctx context.Context, uuid string) error {
	_, err := c.run(ctx, "snapshot-uninstall", "uuid="+uuid, "force=true")

	return err
}

// ExportStream starts a vm-export writing the XVA image to the returned
// stdout reader. The caller must drain both readers before calling wait
// to reap the process.
func (c *Client) ExportStream(ctx context.Context, snapshotUUID string) (stdout, stderr io.ReadCloser, wait func() error, err error) {
	c.logger.WithField("subcommand", "vm-export").Debug("Running xe command")

	// an empty filename makes xe write the image to stdout
	args := append(c.baseArgs(), "vm-export", "vm="+snapshotUUID, "filename=")

	cmd := exec.CommandContext(ctx, xeBinary, args...)

	stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "unable to open stdout pipe")
	}

	stderr, err = cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "unable to open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, errors.Wrap(err, "unable to start vm-export")
	}

	return stdout, stderr, cmd.Wait, nil
}

type xeRunner func(ctx context.Context, args ...string) (stdout, stderr []byte, err error)

// replaceable in tests
var runXeCommand xeRunner = runXe

func runXe(ctx context.Context, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, xeBinary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), err
}
