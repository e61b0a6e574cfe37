package tsstore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// block is one ticker's rows inside a compacted segment, newest first.
type block[R any] struct {
	Series string `json:"s"`
	Rows   []R    `json:"r"`
}

var (
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecOnce sync.Once
	codecErr  error
)

func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

func encodeSegment[R any](blocks []block[R]) ([]byte, error) {
	if err := initCodec(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("encode segment: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

func decodeSegment[R any](segment []byte) ([]block[R], error) {
	if len(segment) == 0 {
		return nil, nil
	}
	if err := initCodec(); err != nil {
		return nil, err
	}
	raw, err := decoder.DecodeAll(segment, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress segment: %w", err)
	}
	var blocks []block[R]
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}
	return blocks, nil
}
