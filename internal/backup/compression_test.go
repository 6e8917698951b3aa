package backup

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionManager_RoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"tables":{"samples":{"rows":[{"id":"1"}]}}}`, 200))

	for _, algorithm := range []CompressionType{CompressionTypeNone, CompressionTypeGzip, CompressionTypeZstd, CompressionTypeLZ4} {
		for _, level := range []int{0, 1, 9} {
			t.Run(string(algorithm), func(t *testing.T) {
				cm := NewCompressionManager(level)

				var buf bytes.Buffer
				w, err := cm.NewWriter(&buf, algorithm)
				require.NoError(t, err)
				_, err = w.Write(payload)
				require.NoError(t, err)
				require.NoError(t, w.Close())

				if algorithm != CompressionTypeNone {
					assert.Less(t, buf.Len(), len(payload), "repetitive data should shrink")
				}

				r, err := cm.NewReader(&buf, algorithm)
				require.NoError(t, err)
				defer r.Close()

				got, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, payload, got)
			})
		}
	}
}

func TestCompressionManager_Unsupported(t *testing.T) {
	cm := NewCompressionManager(0)

	_, err := cm.NewWriter(io.Discard, "brotli")
	assert.Error(t, err)
	_, err = cm.NewReader(strings.NewReader(""), "brotli")
	assert.Error(t, err)
}

func TestCompressionManager_CorruptGzip(t *testing.T) {
	_, err := NewCompressionManager(0).NewReader(strings.NewReader("not gzip"), CompressionTypeGzip)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		wantErr bool
	}{
		{"", CompressionTypeNone, false},
		{"none", CompressionTypeNone, false},
		{"GZIP", CompressionTypeGzip, false},
		{"zstd", CompressionTypeZstd, false},
		{"lz4", CompressionTypeLZ4, false},
		{"rar", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompressionFromName(t *testing.T) {
	assert.Equal(t, CompressionTypeGzip, CompressionFromName("backup_full_daily_2024-01-01_02-00-00.json.gz"))
	assert.Equal(t, CompressionTypeZstd, CompressionFromName("x.json.zst"))
	assert.Equal(t, CompressionTypeLZ4, CompressionFromName("x.json.lz4"))
	assert.Equal(t, CompressionTypeNone, CompressionFromName("x.json"))
	assert.Equal(t, CompressionTypeNone, CompressionFromName("noext"))
}
