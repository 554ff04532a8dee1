package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/artifact"
	"github.com/xenbak/xenbakd/pkg/retention"
)

type LocalConfig struct {
	Enabled   bool             `mapstructure:"enabled"`
	Name      string           `mapstructure:"name"`
	Path      string           `mapstructure:"path"`
	Retention retention.Policy `mapstructure:"retention"`
}

func (c LocalConfig) Validate() error {
	if c.Name == "" {
		return errors.New("local storage has no name")
	}

	if c.Path == "" {
		return errors.Errorf("local storage %q has no path", c.Name)
	}

	if err := c.Retention.Validate(); err != nil {
		return errors.Wrapf(err, "local storage %q", c.Name)
	}

	return nil
}

// LocalBackend stores artifacts as plain files in a single directory.
type LocalBackend struct {
	logger logrus.FieldLogger
	config LocalConfig
}

func NewLocalBackend(logger logrus.FieldLogger, config LocalConfig) *LocalBackend {
	return &LocalBackend{
		logger: logger.WithField("storage", config.Name),
		config: config,
	}
}

func (b *LocalBackend) Name() string {
	return b.config.Name
}

func (b *LocalBackend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(b.config.Path, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create storage directory %q", b.config.Path)
	}

	return nil
}

func (b *LocalBackend) List(ctx context.Context, filter artifact.Filter) ([]artifact.Artifact, error) {
	entries, err := os.ReadDir(b.config.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read storage directory %q", b.config.Path)
	}

	var artifacts []artifact.Artifact

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		a, err := artifact.FromName(entry.Name())
		if err != nil {
			b.logger.WithField("file", entry.Name()).Debug("Skipping file with unrecognized name")
			continue
		}

		if info, err := entry.Info(); err == nil {
			a.Size = info.Size()
		}

		if filter.Matches(a) {
			artifacts = append(artifacts, a)
		}
	}

	return artifacts, nil
}

func (b *LocalBackend) Rotate(ctx context.Context, filter artifact.Filter) error {
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
		path := filepath.Join(b.config.Path, a.NameWithExtension())

		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "unable to delete artifact %q", a.NameWithExtension())
		}
	}

	b.logger.
		WithField("deleted", len(deletions)).
		WithField("kept", len(artifacts)-len(deletions)).
		Debug("Rotated artifacts")

	return nil
}

func (b *LocalBackend) ConsumeExportStream(ctx context.Context, a artifact.Artifact, stdout, stderr io.Reader) error {
	if err := a.Validate(); err != nil {
		return err
	}

	// stderr has to be drained concurrently, otherwise the exporting
	// process can block on a full pipe before the stream completes
	stderrCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(stderr)
		stderrCh <- data
	}()

	path := filepath.Join(b.config.Path, a.NameWithExtension())

	err := b.writeStream(path, a.Compression, stdout)

	if errOutput := <-stderrCh; err == nil && len(bytes.TrimSpace(errOutput)) > 0 {
		err = errors.Errorf("export produced error output: %s", bytes.TrimSpace(errOutput))
	}

	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			b.logger.WithError(removeErr).WithField("file", path).Warn("Unable to remove partial artifact")
		}

		return errors.Wrapf(err, "storing artifact %q on backend %q", a.NameWithExtension(), b.Name())
	}

	return nil
}

func (b *LocalBackend) writeStream(path string, compression artifact.Compression, stream io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "unable to create artifact file")
	}

	w, err := compressedWriter(file, compression)
	if err != nil {
		_ = file.Close()
		return err
	}

	buf := make([]byte, streamBufferSize)

	if _, err := io.CopyBuffer(w, stream, buf); err != nil {
		_ = w.Close()
		_ = file.Close()
		return errors.Wrap(err, "unable to write export stream")
	}

	if err := w.Close(); err != nil {
		_ = file.Close()
		return errors.Wrap(err, "unable to finalize export stream")
	}

	if err := file.Close(); err != nil {
		return errors.Wrap(err, "unable to finalize artifact file")
	}

	return nil
}
