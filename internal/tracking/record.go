// Package tracking persists in-flight transfers and keeps the engine
// tracking them across restarts.
package tracking

import (
	"encoding/json"
	"fmt"

	"github.com/ggonzalez94/xfer-core/internal/engine"
)

// TokenMeta identifies a token of a transfer for display.
type TokenMeta struct {
	LocalID    string `json:"localId"`
	InternalID string `json:"internalId,omitempty"`
	LogoURI    string `json:"logoUri,omitempty"`
}

// Record is one persisted transfer. Timestamp is in unix milliseconds.
type Record struct {
	Transfer  engine.Transfer `json:"transfer"`
	FromToken TokenMeta       `json:"fromToken"`
	ToToken   TokenMeta       `json:"toToken"`
	Timestamp int64           `json:"timestamp"`
}

// SchemaVersion is the payload version written by this build.
const SchemaVersion = 2

type envelope struct {
	Version int             `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// migration rewrites a payload of version v into version v+1.
type migration func(json.RawMessage) (json.RawMessage, error)

var migrations = map[int]migration{
	1: migrateV1,
}

// v1 stored bare token ids instead of token metadata.
type recordV1 struct {
	Transfer    engine.Transfer `json:"transfer"`
	FromTokenID string          `json:"fromTokenId"`
	ToTokenID   string          `json:"toTokenId"`
	Timestamp   int64           `json:"timestamp"`
}

func migrateV1(raw json.RawMessage) (json.RawMessage, error) {
	var old recordV1
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, fmt.Errorf("decode v1 record: %w", err)
	}
	return json.Marshal(Record{
		Transfer:  old.Transfer,
		FromToken: TokenMeta{LocalID: old.FromTokenID},
		ToToken:   TokenMeta{LocalID: old.ToTokenID},
		Timestamp: old.Timestamp,
	})
}

func encodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: SchemaVersion, Data: data})
}

// decodeRecord reads a payload of any known version. Payloads without an
// envelope are treated as version 1. migrated reports whether an upgrade ran.
func decodeRecord(payload []byte) (rec Record, migrated bool, err error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Record{}, false, fmt.Errorf("decode record envelope: %w", err)
	}
	if env.Version == 0 || env.Data == nil {
		env = envelope{Version: 1, Data: payload}
	}
	if env.Version > SchemaVersion {
		return Record{}, false, fmt.Errorf("record version %d is newer than supported version %d", env.Version, SchemaVersion)
	}
	data := env.Data
	for v := env.Version; v < SchemaVersion; v++ {
		m, ok := migrations[v]
		if !ok {
			return Record{}, false, fmt.Errorf("no migration from record version %d", v)
		}
		if data, err = m(data); err != nil {
			return Record{}, false, err
		}
		migrated = true
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, migrated, nil
}
