package cache

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lanewhitten/stratacache/internal/types"
)

// MsgpackCodec encodes records as MessagePack. It is the default codec for
// both tiers; records are small and read often, so the compact binary form
// pays for itself.
type MsgpackCodec struct{}

// NewMsgpackCodec creates the default record codec.
func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{}
}

func (c *MsgpackCodec) Encode(record *types.Record) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("cache: cannot encode nil record")
	}
	data, err := msgpack.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("cache: encode record: %w", err)
	}
	return data, nil
}

func (c *MsgpackCodec) Decode(data []byte) (*types.Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cache: cannot decode empty data")
	}
	var record types.Record
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("cache: decode record: %w", err)
	}
	return &record, nil
}

// JSONCodec encodes records as JSON. Slower and larger than MessagePack but
// human-readable in the store, which helps when debugging with redis-cli.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

func (c *JSONCodec) Encode(record *types.Record) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("cache: cannot encode nil record")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("cache: encode record: %w", err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte) (*types.Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cache: cannot decode empty data")
	}
	var record types.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("cache: decode record: %w", err)
	}
	return &record, nil
}

var (
	_ types.RecordCodec = (*MsgpackCodec)(nil)
	_ types.RecordCodec = (*JSONCodec)(nil)
)
