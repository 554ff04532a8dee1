package artifact

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedName is returned when a stored name cannot be decoded back
// into an Artifact.
var ErrMalformedName = errors.New("malformed artifact name")

const (
	fieldSeparator = "__"
	encodedFields  = 4
)

// Kind is the closed set of job kinds that produce artifacts.
type Kind int

const (
	KindVmBackup Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindVmBackup:
		return "vm"
	}

	return "unknown"
}

// BaseExtension is the extension of the raw payload produced by a job of
// this kind, without any compression suffix.
func (k Kind) BaseExtension() string {
	switch k {
	case KindVmBackup:
		return "xva"
	}

	return ""
}

func KindFromString(s string) (Kind, error) {
	switch s {
	case "vm":
		return KindVmBackup, nil
	}

	return 0, errors.Errorf("unknown job kind %q", s)
}

// Compression is the stream transform applied while an artifact is
// persisted. The zero value means no compression.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	}

	return "none"
}

func (c Compression) Extension() string {
	switch c {
	case CompressionGzip:
		return "gz"
	case CompressionZstd:
		return "zst"
	}

	return ""
}

func CompressionFromString(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	}

	return CompressionNone, errors.Errorf("unknown compression %q", s)
}

func compressionFromExtension(ext string) (Compression, bool) {
	switch ext {
	case "gz":
		return CompressionGzip, true
	case "zst":
		return CompressionZstd, true
	}

	return CompressionNone, false
}

// Artifact identifies a single stored backup. The identity is carried
// entirely by the encoded name, so artifacts can be reconstructed from
// any backend listing.
type Artifact struct {
	XenHost     string
	Kind        Kind
	ObjectName  string
	Timestamp   time.Time
	Compression Compression

	// Size in bytes, zero when unknown. Populated by backend listings
	// where the backend can tell.
	Size int64
}

// New builds an artifact identity. The object name is trimmed and the
// timestamp truncated to second precision, since encoded names carry no
// sub-second part.
func New(xenHost string, kind Kind, objectName string, timestamp time.Time) Artifact {
	return Artifact{
		XenHost:    strings.TrimSpace(xenHost),
		Kind:       kind,
		ObjectName: strings.TrimSpace(objectName),
		Timestamp:  timestamp.Truncate(time.Second),
	}
}

// Validate reports whether the artifact can be encoded reversibly.
func (a Artifact) Validate() error {
	if a.XenHost == "" {
		return errors.New("artifact has no xen host")
	}

	if a.ObjectName == "" {
		return errors.New("artifact has no object name")
	}

	if strings.Contains(a.XenHost, fieldSeparator) {
		return errors.Errorf("xen host %q contains the field separator", a.XenHost)
	}

	if strings.Contains(a.ObjectName, fieldSeparator) {
		return errors.Errorf("object name %q contains the field separator", a.ObjectName)
	}

	return nil
}

// Name encodes the artifact identity without extensions, e.g.
// "xen01__vm__mail-server__2024-02-09T10:19:02+00:00".
func (a Artifact) Name() string {
	return strings.Join([]string{
		a.XenHost,
		a.Kind.String(),
		a.ObjectName,
		a.Timestamp.Format(time.RFC3339),
	}, fieldSeparator)
}

// NameWithExtension appends the kind's base extension and, when the
// artifact is compressed, the compression suffix.
func (a Artifact) NameWithExtension() string {
	name := a.Name() + "." + a.Kind.BaseExtension()

	if a.Compression != CompressionNone {
		name += "." + a.Compression.Extension()
	}

	return name
}

// FromName decodes an encoded artifact name, with or without extensions.
// Decoding is strict about the field count, the kind token, the
// timestamp and the base extension; an unrecognized compression suffix
// decodes as no compression.
func FromName(name string) (Artifact, error) {
	fields := strings.Split(name, fieldSeparator)
	if len(fields) != encodedFields {
		return Artifact{}, errors.Wrapf(ErrMalformedName, "expected %d fields, got %d in %q", encodedFields, len(fields), name)
	}

	if fields[0] == "" || fields[2] == "" {
		return Artifact{}, errors.Wrapf(ErrMalformedName, "empty field in %q", name)
	}

	kind, err := KindFromString(fields[1])
	if err != nil {
		return Artifact{}, errors.Wrapf(ErrMalformedName, "%s in %q", err, name)
	}

	rest := strings.Split(fields[3], ".")

	timestamp, err := time.Parse(time.RFC3339, rest[0])
	if err != nil {
		return Artifact{}, errors.Wrapf(ErrMalformedName, "bad timestamp %q in %q", rest[0], name)
	}

	a := Artifact{
		XenHost:    fields[0],
		Kind:       kind,
		ObjectName: fields[2],
		Timestamp:  timestamp,
	}

	switch len(rest) {
	case 1:
		// bare name without extension, e.g. a borg archive name

	case 2:
		if rest[1] != kind.BaseExtension() {
			return Artifact{}, errors.Wrapf(ErrMalformedName, "unexpected extension %q in %q", rest[1], name)
		}

	case 3:
		if rest[1] != kind.BaseExtension() {
			return Artifact{}, errors.Wrapf(ErrMalformedName, "unexpected extension %q in %q", rest[1], name)
		}

		if compression, ok := compressionFromExtension(rest[2]); ok {
			a.Compression = compression
		}

	default:
		return Artifact{}, errors.Wrapf(ErrMalformedName, "too many extensions in %q", name)
	}

	return a, nil
}
