package backup

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names the codec applied to an artifact.
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeZstd CompressionType = "zstd"
	CompressionTypeLZ4  CompressionType = "lz4"
)

// ParseCompression validates a compression name. An empty name means none.
func ParseCompression(s string) (CompressionType, error) {
	switch c := CompressionType(strings.ToLower(strings.TrimSpace(s))); c {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeZstd, CompressionTypeLZ4:
		return c, nil
	case "":
		return CompressionTypeNone, nil
	default:
		return "", NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", s), nil)
	}
}

// Extension returns the suffix appended after ".json".
func (c CompressionType) Extension() string {
	switch c {
	case CompressionTypeGzip:
		return ".gz"
	case CompressionTypeZstd:
		return ".zst"
	case CompressionTypeLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// CompressionFromExtension maps a file suffix back to its codec.
func CompressionFromExtension(ext string) CompressionType {
	switch ext {
	case ".gz":
		return CompressionTypeGzip
	case ".zst":
		return CompressionTypeZstd
	case ".lz4":
		return CompressionTypeLZ4
	default:
		return CompressionTypeNone
	}
}

// CompressionFromName picks the codec from a file name's suffix.
func CompressionFromName(name string) CompressionType {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return CompressionFromExtension(name[i:])
	}
	return CompressionTypeNone
}

// CompressionManager opens compressing writers and decompressing readers.
type CompressionManager struct {
	level int
}

// NewCompressionManager creates a manager. Level 0 selects each codec's default.
func NewCompressionManager(level int) *CompressionManager {
	return &CompressionManager{level: level}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter wraps w so that data written is compressed with algorithm. Closing
// the returned writer flushes the codec but does not close w.
func (cm *CompressionManager) NewWriter(w io.Writer, algorithm CompressionType) (io.WriteCloser, error) {
	switch algorithm {
	case CompressionTypeNone, "":
		return nopWriteCloser{w}, nil

	case CompressionTypeGzip:
		level := gzip.DefaultCompression
		if cm.level >= gzip.BestSpeed && cm.level <= gzip.BestCompression {
			level = cm.level
		}
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, NewCompressionError("failed to create gzip writer", err)
		}
		return gw, nil

	case CompressionTypeZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(cm.level)))
		if err != nil {
			return nil, NewCompressionError("failed to create zstd encoder", err)
		}
		return zw, nil

	case CompressionTypeLZ4:
		lw := lz4.NewWriter(w)
		if cm.level > 6 {
			if err := lw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, NewCompressionError("failed to set LZ4 high compression", err)
			}
		}
		return lw, nil

	default:
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
}

// NewReader wraps r so that reads return decompressed data.
func (cm *CompressionManager) NewReader(r io.Reader, algorithm CompressionType) (io.ReadCloser, error) {
	switch algorithm {
	case CompressionTypeNone, "":
		return io.NopCloser(r), nil

	case CompressionTypeGzip:
		gr, err := gzip.NewReader(bufio.NewReader(r))
		if err != nil {
			return nil, NewCompressionError("failed to create gzip reader", err)
		}
		return gr, nil

	case CompressionTypeZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, NewCompressionError("failed to create zstd decoder", err)
		}
		return zr.IOReadCloser(), nil

	case CompressionTypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	default:
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
