package agent

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ArtifactCache tracks which artifacts this worker already holds, answering
// the hub's CacheQuery without a round trip to real storage.
type ArtifactCache interface {
	Has(artifactID string) (checksum string, ok bool)
	Store(artifactID string, data []byte) string
}

// MemoryArtifactCache is the default ArtifactCache: an in-memory,
// content-addressed map, the worker-side mirror of
// channelhub.MemoryArtifactStore.
type MemoryArtifactCache struct {
	mu        sync.RWMutex
	checksums map[string]string
}

// NewMemoryArtifactCache creates an empty MemoryArtifactCache.
func NewMemoryArtifactCache() *MemoryArtifactCache {
	return &MemoryArtifactCache{checksums: make(map[string]string)}
}

// Has implements ArtifactCache.
func (c *MemoryArtifactCache) Has(artifactID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sum, ok := c.checksums[artifactID]
	return sum, ok
}

// Store implements ArtifactCache.
func (c *MemoryArtifactCache) Store(artifactID string, data []byte) string {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	c.mu.Lock()
	c.checksums[artifactID] = checksum
	c.mu.Unlock()
	return checksum
}

// decompress is the worker-side counterpart of channelhub's
// decompressPayload, unexported there; kept independent since the two
// packages must not import each other.
func decompress(compression string, data []byte, originalSize int64) ([]byte, error) {
	var out []byte
	var err error
	switch compression {
	case "zstd":
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(nil)
		if err == nil {
			defer dec.Close()
			out, err = dec.DecodeAll(data, nil)
		}
	case "gzip":
		var r *gzip.Reader
		r, err = gzip.NewReader(bytes.NewReader(data))
		if err == nil {
			defer r.Close()
			out, err = io.ReadAll(r)
		}
	default:
		out = data
	}
	if err != nil {
		return nil, err
	}
	if int64(len(out)) != originalSize {
		return nil, fmt.Errorf("decompressed size %d does not match originalSize %d", len(out), originalSize)
	}
	return out, nil
}
