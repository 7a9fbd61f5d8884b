// Package codec provides threshold-gated payload compression with a bounded
// cache of recently decompressed payloads.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/lanewhitten/stratacache/internal/config"
)

// Algorithm names. AlgorithmNone marks payloads stored uncompressed, either
// because compression is disabled or the payload is below the threshold.
const (
	AlgorithmNone = "none"
	AlgorithmGzip = "gzip"
	AlgorithmS2   = "s2"
	AlgorithmZstd = "zstd"
)

// Compressed is the result of a Compress call. Ratio is compressed size over
// original size; 1.0 for passthrough payloads.
type Compressed struct {
	Data      []byte
	Algorithm string
	Ratio     float64
}

// Codec compresses payloads above a size threshold and decompresses them on
// read. Decompress is idempotent: an AlgorithmNone payload passes through
// untouched. A bounded LRU of recently decompressed payloads, keyed by the
// content hash of the compressed bytes, avoids repeated work on hot entries.
type Codec struct {
	algorithm string
	threshold int

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder

	hot *lru.Cache[uint64, []byte]
}

// New creates a codec from configuration.
func New(cfg config.CompressionConfig) (*Codec, error) {
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmNone
	}

	c := &Codec{
		algorithm: algorithm,
		threshold: cfg.ThresholdBytes,
	}

	if algorithm == AlgorithmZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd encoder: %w", err)
		}
		c.zstdEnc = enc
	}

	// The decoder is always built: stored records may carry any algorithm
	// the codec was configured with at write time, and Decompress must be
	// safe to call concurrently without lazy shared-state writes.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decoder: %w", err)
	}
	c.zstdDec = dec

	size := cfg.DecompressionCacheSize
	if size <= 0 {
		size = 128
	}
	hot, err := lru.New[uint64, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("codec: decompression cache: %w", err)
	}
	c.hot = hot

	return c, nil
}

// Compress transforms payload according to the configured algorithm. Payloads
// below the threshold are returned unchanged and marked AlgorithmNone.
func (c *Codec) Compress(payload []byte) (Compressed, error) {
	if c.algorithm == AlgorithmNone || len(payload) < c.threshold {
		return Compressed{Data: payload, Algorithm: AlgorithmNone, Ratio: 1.0}, nil
	}

	var data []byte
	var err error

	switch c.algorithm {
	case AlgorithmGzip:
		data, err = gzipCompress(payload)
	case AlgorithmS2:
		data = s2.Encode(nil, payload)
	case AlgorithmZstd:
		data = c.zstdEnc.EncodeAll(payload, nil)
	default:
		return Compressed{}, fmt.Errorf("codec: unknown algorithm %q", c.algorithm)
	}
	if err != nil {
		return Compressed{}, err
	}

	ratio := 1.0
	if len(payload) > 0 {
		ratio = float64(len(data)) / float64(len(payload))
	}

	return Compressed{Data: data, Algorithm: c.algorithm, Ratio: ratio}, nil
}

// Decompress is the exact inverse of Compress. It consults the hot cache
// before doing any work; AlgorithmNone payloads pass through. The returned
// slice may be shared with the cache or with the input; callers who need to
// mutate it must copy first.
func (c *Codec) Decompress(data []byte, algorithm string) ([]byte, error) {
	if algorithm == "" || algorithm == AlgorithmNone {
		return data, nil
	}

	key := xxhash.Sum64(data)
	if cached, ok := c.hot.Get(key); ok {
		return cached, nil
	}

	var out []byte
	var err error

	switch algorithm {
	case AlgorithmGzip:
		out, err = gzipDecompress(data)
	case AlgorithmS2:
		out, err = s2.Decode(nil, data)
	case AlgorithmZstd:
		out, err = c.zstdDec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("codec: unknown algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("codec: decompress %s: %w", algorithm, err)
	}

	c.hot.Add(key, out)
	return out, nil
}

// CacheLen returns the number of entries in the decompression cache.
func (c *Codec) CacheLen() int {
	return c.hot.Len()
}

func gzipCompress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
