package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/artifact"
	"github.com/xenbak/xenbakd/pkg/retention"
)

const defaultBorgBinary = "borg"

// cleanupTimeout bounds the removal of a partial archive after a failed
// export, which runs detached from the job's context.
const cleanupTimeout = 2 * time.Minute

type BorgConfig struct {
	Enabled     bool             `mapstructure:"enabled"`
	Name        string           `mapstructure:"name"`
	Repository  string           `mapstructure:"repository"`
	Passphrase  string           `mapstructure:"passphrase"`
	Rsh         string           `mapstructure:"rsh"`
	Encryption  string           `mapstructure:"encryption"`
	Compression string           `mapstructure:"compression"`
	BinaryPath  string           `mapstructure:"binary_path"`
	Retention   retention.Policy `mapstructure:"retention"`
}

func (c BorgConfig) Validate() error {
	if c.Name == "" {
		return errors.New("borg storage has no name")
	}

	if c.Repository == "" {
		return errors.Errorf("borg storage %q has no repository", c.Name)
	}

	if err := c.Retention.Validate(); err != nil {
		return errors.Wrapf(err, "borg storage %q", c.Name)
	}

	return nil
}

// BorgBackend stores artifacts as archives in a borg repository, local
// or reachable over ssh. One artifact maps to one archive holding a
// single file.
type BorgBackend struct {
	logger logrus.FieldLogger
	config BorgConfig
}

func NewBorgBackend(logger logrus.FieldLogger, config BorgConfig) *BorgBackend {
	return &BorgBackend{
		logger: logger.WithField("storage", config.Name),
		config: config,
	}
}

func (b *BorgBackend) Name() string {
	return b.config.Name
}

func (b *BorgBackend) binary() string {
	if b.config.BinaryPath != "" {
		return b.config.BinaryPath
	}

	return defaultBorgBinary
}

func (b *BorgBackend) env() []string {
	env := append(os.Environ(), "BORG_REPO="+b.config.Repository)

	if b.config.Passphrase != "" {
		env = append(env, "BORG_PASSPHRASE="+b.config.Passphrase)
	}

	if b.config.Rsh != "" {
		env = append(env, "BORG_RSH="+b.config.Rsh)
	}

	return env
}

func (b *BorgBackend) run(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, err := runBorgCommand(ctx, b.env(), b.binary(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "borg %s failed: %s", args[0], bytes.TrimSpace(stderr))
	}

	return stdout, nil
}

func (b *BorgBackend) Initialize(ctx context.Context) error {
	if _, _, err := runBorgCommand(ctx, b.env(), b.binary(), "info"); err == nil {
		return nil
	}

	encryption := b.config.Encryption
	if encryption == "" {
		encryption = "none"
	}

	_, stderr, err := runBorgCommand(ctx, b.env(), b.binary(), "init", "--encryption", encryption)
	if err != nil {
		// another process may have created the repository between the
		// probe and the init
		if bytes.Contains(stderr, []byte("already exists")) {
			return nil
		}

		return errors.Wrapf(err, "unable to initialize repository %q: %s", b.config.Repository, bytes.TrimSpace(stderr))
	}

	b.logger.WithField("repository", b.config.Repository).Info("Initialized borg repository")

	return nil
}

func (b *BorgBackend) List(ctx context.Context, filter artifact.Filter) ([]artifact.Artifact, error) {
	stdout, err := b.run(ctx, "list", "--short")
	if err != nil {
		return nil, err
	}

	var artifacts []artifact.Artifact

	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		a, err := artifact.FromName(line)
		if err != nil {
			b.logger.WithField("archive", line).Debug("Skipping archive with unrecognized name")
			continue
		}

		if filter.Matches(a) {
			artifacts = append(artifacts, a)
		}
	}

	return artifacts, nil
}

func (b *BorgBackend) Rotate(ctx context.Context, filter artifact.Filter) error {
	if b.config.Retention.IsZero() {
		b.logger.Debug("No retention policy configured, skipping rotation")
		return nil
	}

	artifacts, err := b.List(ctx, filter)
	if err != nil {
		return err
	}

	deletions := retention.Plan(artifacts, b.config.Retention, time.Now())

	for _, a := range deletions {
		if _, err := b.run(ctx, "delete", "::"+a.Name()); err != nil {
			return errors.Wrapf(err, "unable to delete artifact %q", a.Name())
		}
	}

	b.logger.
		WithField("deleted", len(deletions)).
		WithField("kept", len(artifacts)-len(deletions)).
		Debug("Rotated artifacts")

	return nil
}

func (b *BorgBackend) ConsumeExportStream(ctx context.Context, a artifact.Artifact, stdout, stderr io.Reader) error {
	if err := a.Validate(); err != nil {
		return err
	}

	// the repository applies its own compression, so archives always
	// carry the uncompressed payload name
	a.Compression = artifact.CompressionNone

	// stderr has to be drained concurrently, otherwise the exporting
	// process can block on a full pipe before the stream completes
	stderrCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(stderr)
		stderrCh <- data
	}()

	archive := a.Name()

	args := []string{"create"}
	if b.config.Compression != "" {
		args = append(args, "--compression", b.config.Compression)
	}
	args = append(args, "--stdin-name", a.NameWithExtension(), "::"+archive, "-")

	borgStderr, err := streamBorgStdin(ctx, b.env(), stdout, b.binary(), args...)
	if err != nil {
		err = errors.Wrapf(err, "borg create failed: %s", bytes.TrimSpace(borgStderr))
	}

	if errOutput := <-stderrCh; err == nil && len(bytes.TrimSpace(errOutput)) > 0 {
		err = errors.Errorf("export produced error output: %s", bytes.TrimSpace(errOutput))
	}

	if err != nil {
		b.deleteArchive(archive)

		return errors.Wrapf(err, "storing artifact %q on backend %q", archive, b.Name())
	}

	return nil
}

func (b *BorgBackend) deleteArchive(archive string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if _, err := b.run(ctx, "delete", "::"+archive); err != nil {
		b.logger.WithError(err).WithField("archive", archive).Warn("Unable to remove partial archive")
	}
}

type borgRunner func(ctx context.Context, env []string, name string, args ...string) (stdout, stderr []byte, err error)

type borgStreamer func(ctx context.Context, env []string, stdin io.Reader, name string, args ...string) (stderr []byte, err error)

// replaceable in tests
var (
	runBorgCommand  borgRunner   = runBorg
	streamBorgStdin borgStreamer = streamBorg
)

func runBorg(ctx context.Context, env []string, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), err
}

func streamBorg(ctx context.Context, env []string, stdin io.Reader, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.Stderr = &stderr

	pipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	buf := make([]byte, streamBufferSize)
	_, copyErr := io.CopyBuffer(pipe, stdin, buf)
	_ = pipe.Close()

	waitErr := cmd.Wait()

	if copyErr != nil {
		return stderr.Bytes(), copyErr
	}

	return stderr.Bytes(), waitErr
}
