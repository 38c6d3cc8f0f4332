package broker

import (
	"encoding/json"
	"errors"
	"fmt"

	"md5cracker/internal/models"
)

// Wire format: every queued message is a versioned envelope with a type
// discriminator, so the schema can evolve without breaking in-flight
// messages.
//
//	{"v": 1, "kind": "hash_batch", "data": {...}}

const envelopeVersion = 1

const (
	KindHashBatch   = "hash_batch"
	KindResultBatch = "result_batch"
)

var ErrUnknownKind = errors.New("unknown message kind")

type envelope struct {
	Version int             `json:"v"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func encode(kind string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return json.Marshal(envelope{Version: envelopeVersion, Kind: kind, Data: raw})
}

func decodeEnvelope(payload []byte, wantKind string) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.Kind != wantKind {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnknownKind, env.Kind, wantKind)
	}
	return env.Data, nil
}

// EncodeHashBatch serializes a work unit for the lookup queue
func EncodeHashBatch(batch models.HashBatch) ([]byte, error) {
	return encode(KindHashBatch, batch)
}

// DecodeHashBatch deserializes a work unit from the lookup queue
func DecodeHashBatch(payload []byte) (models.HashBatch, error) {
	var batch models.HashBatch
	data, err := decodeEnvelope(payload, KindHashBatch)
	if err != nil {
		return batch, err
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("failed to unmarshal hash batch: %w", err)
	}
	return batch, nil
}

// EncodeResultBatch serializes a result envelope for the results queue
func EncodeResultBatch(batch models.ResultBatch) ([]byte, error) {
	return encode(KindResultBatch, batch)
}

// DecodeResultBatch deserializes a result envelope from the results queue
func DecodeResultBatch(payload []byte) (models.ResultBatch, error) {
	var batch models.ResultBatch
	data, err := decodeEnvelope(payload, KindResultBatch)
	if err != nil {
		return batch, err
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("failed to unmarshal result batch: %w", err)
	}
	return batch, nil
}
