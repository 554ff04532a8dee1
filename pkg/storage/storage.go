package storage

import (
	"context"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/xenbak/xenbakd/pkg/artifact"
)

var (
	ErrUnknownBackend = errors.New("requested storage backend doesn't exist")
)

// Backend persists export streams and manages the lifecycle of stored
// artifacts. Implementations are read-only after construction and safe
// for concurrent use.
type Backend interface {
	Name() string

	// Initialize prepares the backend for writes. It is idempotent, so
	// it can be called on every job run.
	Initialize(ctx context.Context) error

	// List returns the stored artifacts matching the filter. Entries
	// whose names cannot be decoded are skipped, not reported.
	List(ctx context.Context, filter artifact.Filter) ([]artifact.Artifact, error)

	// Rotate deletes the stored artifacts matching the filter that fall
	// outside the backend's retention policy.
	Rotate(ctx context.Context, filter artifact.Filter) error

	// ConsumeExportStream stores stdout under the artifact's name. Any
	// output on stderr marks the export as failed, and a failed export
	// must not leave a partial artifact behind.
	ConsumeExportStream(ctx context.Context, a artifact.Artifact, stdout, stderr io.Reader) error
}

// Registry holds the configured backends by name.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry(backends ...Backend) (*Registry, error) {
	byName := make(map[string]Backend, len(backends))

	for _, backend := range backends {
		if _, ok := byName[backend.Name()]; ok {
			return nil, errors.Errorf("duplicate storage backend %q", backend.Name())
		}

		byName[backend.Name()] = backend
	}

	return &Registry{backends: byName}, nil
}

// Resolve maps backend names to backends, erroring on the first name
// that is not configured.
func (r *Registry) Resolve(names []string) ([]Backend, error) {
	resolved := make([]Backend, 0, len(names))

	for _, name := range names {
		backend, ok := r.backends[name]
		if !ok {
			return nil, errors.Wrap(ErrUnknownBackend, name)
		}

		resolved = append(resolved, backend)
	}

	return resolved, nil
}

// All returns every configured backend, ordered by name.
func (r *Registry) All() []Backend {
	all := make([]Backend, 0, len(r.backends))

	for _, backend := range r.backends {
		all = append(all, backend)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Name() < all[j].Name()
	})

	return all
}
