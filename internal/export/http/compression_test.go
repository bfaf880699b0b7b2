package http

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decompress reverses Compress for tests.
func decompress(t *testing.T, algorithm string, data []byte) []byte {
	t.Helper()

	var (
		r   io.Reader
		err error
	)

	switch algorithm {
	case CompressionGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case CompressionZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	case CompressionZstd:
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(bytes.NewReader(data))
		if err == nil {
			defer dec.Close()
		}
		r = dec
	case CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		require.NoError(t, err)

		return out
	default:
		return data
	}

	require.NoError(t, err)

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return out
}

func TestCompressor_RoundTrip(t *testing.T) {
	original := []byte(strings.Repeat(`{"birth_date":"1999-02-05","added_at":"2026-01-01T00:00:00Z"}`+"\n", 20))

	tests := []struct {
		algorithm string
		encoding  string
		shrinks   bool
	}{
		{algorithm: CompressionNone, encoding: ""},
		{algorithm: "", encoding: ""},
		{algorithm: CompressionGzip, encoding: "gzip", shrinks: true},
		{algorithm: CompressionZstd, encoding: "zstd", shrinks: true},
		{algorithm: CompressionZlib, encoding: "deflate", shrinks: true},
		{algorithm: CompressionSnappy, encoding: "snappy", shrinks: true},
	}

	for _, tt := range tests {
		t.Run("algo="+tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			compressed, err := c.Compress(original)
			require.NoError(t, err)

			assert.Equal(t, tt.encoding, c.ContentEncoding())

			if tt.shrinks {
				assert.Less(t, len(compressed), len(original))
			}

			assert.Equal(t, original, decompress(t, tt.algorithm, compressed))
		})
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("brotli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestCompressor_EmptyInput(t *testing.T) {
	c, err := NewCompressor(CompressionGzip)
	require.NoError(t, err)
	defer c.Close()

	compressed, err := c.Compress(nil)
	require.NoError(t, err)
	assert.Empty(t, decompress(t, CompressionGzip, compressed))
}
