package store

import (
	"encoding/json"
	"fmt"

	"csharp-provider/internal/core/config"
	"csharp-provider/internal/engine/index"

	"github.com/klauspost/compress/zstd"
)

// Payload framing: one tag byte followed by the snapshot bytes.
const (
	tagJSON byte = 'j'
	tagZstd byte = 'z'
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

type codec struct {
	compress bool
}

func newCodec(compression string) codec {
	return codec{compress: compression != config.CompressionNone}
}

func (c codec) name() string {
	if c.compress {
		return config.CompressionZstd
	}
	return config.CompressionNone
}

func (c codec) encode(idx *index.Index) ([]byte, error) {
	raw, err := json.Marshal(idx.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode index snapshot: %w", err)
	}
	if !c.compress {
		return append([]byte{tagJSON}, raw...), nil
	}
	out := make([]byte, 1, len(raw)/4+1)
	out[0] = tagZstd
	return zstdEncoder.EncodeAll(raw, out), nil
}

// decode accepts either framing so the compression setting can change
// between runs.
func (codec) decode(payload []byte) (*index.Index, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty index payload")
	}
	body := payload[1:]
	switch payload[0] {
	case tagJSON:
	case tagZstd:
		raw, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress index payload: %w", err)
		}
		body = raw
	default:
		return nil, fmt.Errorf("unknown index payload tag %q", payload[0])
	}

	var snap index.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", err)
	}
	if snap.Version != index.SnapshotVersion {
		return nil, fmt.Errorf("unsupported index snapshot version %d", snap.Version)
	}
	return index.FromSnapshot(snap), nil
}
