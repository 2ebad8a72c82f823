package channelhub

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/types"
)

// chunkSize is the recommended fixed chunk size from SPEC_FULL.md S4.5.
const chunkSize = 64 * 1024

// StoredArtifact is a content-addressed artifact held by the orchestrator,
// ready to be staged onto a worker.
type StoredArtifact struct {
	ID       string
	Data     []byte
	Checksum string // hex sha256 of Data
}

// ArtifactStore resolves artifact ids to their bytes. Production deployments
// back this with whatever the provider's shared storage exposes; tests use
// MemoryArtifactStore.
type ArtifactStore interface {
	Get(artifactID string) (*StoredArtifact, bool)
}

// MemoryArtifactStore is an in-memory ArtifactStore, the default when no
// external artifact backend is configured.
type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]*StoredArtifact
}

// NewMemoryArtifactStore creates an empty MemoryArtifactStore.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{artifacts: make(map[string]*StoredArtifact)}
}

// Put registers an artifact's bytes, computing its checksum.
func (s *MemoryArtifactStore) Put(id string, data []byte) *StoredArtifact {
	sum := sha256.Sum256(data)
	a := &StoredArtifact{ID: id, Data: data, Checksum: hex.EncodeToString(sum[:])}
	s.mu.Lock()
	s.artifacts[id] = a
	s.mu.Unlock()
	return a
}

// Get implements ArtifactStore.
func (s *MemoryArtifactStore) Get(id string) (*StoredArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	return a, ok
}

// compressPayload compresses data per the requested compression kind,
// falling back from Zstd to Gzip when a Zstd encoder can't be constructed
// (SPEC_FULL.md S4.5: "if unsupported, sender falls back to Gzip"). Returns
// the wire compression label and compressed bytes.
func compressPayload(data []byte, pref types.CompressionKind) (string, []byte, error) {
	switch pref {
	case types.CompressionZstd:
		out, err := zstdCompress(data)
		if err != nil {
			metrics.ZstdFallbackTotal.Inc()
			log.WithComponent("channelhub").Warn().Err(err).Msg("zstd encoder unavailable, falling back to gzip")
			out, gerr := gzipCompress(data)
			if gerr != nil {
				return "", nil, gerr
			}
			return "gzip", out, nil
		}
		return "zstd", out, nil
	case types.CompressionGzip:
		out, err := gzipCompress(data)
		if err != nil {
			return "", nil, err
		}
		return "gzip", out, nil
	default:
		return "none", data, nil
	}
}

func decompressPayload(compression string, data []byte, originalSize int64) ([]byte, error) {
	var out []byte
	var err error
	switch compression {
	case "zstd":
		out, err = zstdDecompress(data)
	case "gzip":
		out, err = gzipDecompress(data)
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

func zstdCompress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
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

// splitChunks divides data into chunkSize-bounded, strictly sequenced
// pieces, the last one flagged IsLast.
func splitChunks(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)/chunkSize)+1)
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}
