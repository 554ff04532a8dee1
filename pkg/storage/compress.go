package storage

import (
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/xenbak/xenbakd/pkg/artifact"
)

// Export streams move full disk images, so copies run with a large
// buffer instead of io.Copy's default.
const streamBufferSize = 1 << 20

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// compressedWriter wraps w with the artifact's compression. The caller
// must close the returned writer to flush compressed trailers before
// closing w itself.
func compressedWriter(w io.Writer, compression artifact.Compression) (io.WriteCloser, error) {
	switch compression {
	case artifact.CompressionGzip:
		return gzip.NewWriter(w), nil

	case artifact.CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create zstd writer")
		}
		return zw, nil

	case artifact.CompressionNone:
		return nopWriteCloser{w}, nil
	}

	return nil, errors.Errorf("unsupported compression %q", compression)
}
