package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/xeipuuv/gojsonschema"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// settingsSchema validates a raw settings document before it is decoded.
// Catching shape errors here gives the configurator a precise message
// instead of a zero-valued struct failing Validate later.
const settingsSchema = `{
	"type": "object",
	"required": ["unit_count", "cooling_config"],
	"properties": {
		"unit_count": {"type": "integer", "minimum": 1, "maximum": 4},
		"cooling_config": {
			"type": "array",
			"minItems": 1,
			"maxItems": 4,
			"items": {
				"type": "object",
				"properties": {
					"boiler_count": {"type": "integer", "minimum": 0, "maximum": 2},
					"turbine_count": {"type": "integer", "minimum": 1, "maximum": 3},
					"tank_connection": {"type": "integer", "minimum": 0, "maximum": 2}
				}
			}
		},
		"facility_tank_mode": {"type": "integer", "minimum": 0, "maximum": 7},
		"facility_tank_defs": {
			"type": "array",
			"maxItems": 4,
			"items": {"type": "integer", "minimum": 0, "maximum": 2}
		},
		"svr_channel": {"type": "integer", "minimum": 1, "maximum": 65535},
		"plc_channel": {"type": "integer", "minimum": 1, "maximum": 65535},
		"rtu_channel": {"type": "integer", "minimum": 1, "maximum": 65535},
		"crd_channel": {"type": "integer", "minimum": 1, "maximum": 65535},
		"pkt_channel": {"type": "integer", "minimum": 1, "maximum": 65535},
		"trusted_range": {"type": "number", "minimum": 0}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(settingsSchema)

// ValidateDocument checks a raw settings JSON document against the schema.
func ValidateDocument(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.WrapInvalid(err, "Config", "ValidateDocument", "schema evaluation")
	}
	if !result.Valid() {
		var first string
		if errs := result.Errors(); len(errs) > 0 {
			first = errs[0].String()
		}
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "ValidateDocument", first)
	}
	return nil
}

// Parse validates and decodes a raw settings document.
func Parse(raw []byte) (*Settings, error) {
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	s := DefaultSettings()
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "settings decoding")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Store persists the settings blob.
type Store interface {
	Load(ctx context.Context) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
}

const (
	settingsBucket = "supervisor_settings"
	settingsKey    = "settings"
)

// KVStore persists settings in a JetStream key/value bucket so the
// configurator and the supervisor share one source of truth.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates (or binds to) the settings bucket.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  settingsBucket,
		History: 5,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "NewKVStore", "bucket creation")
	}
	return &KVStore{kv: kv}, nil
}

// Load reads and validates the persisted settings.
func (s *KVStore) Load(ctx context.Context) (*Settings, error) {
	entry, err := s.kv.Get(ctx, settingsKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "KVStore", "Load",
				fmt.Sprintf("key %s", settingsKey))
		}
		return nil, errors.WrapTransient(err, "KVStore", "Load", "KV read")
	}
	return Parse(entry.Value())
}

// Save validates and writes the settings.
func (s *KVStore) Save(ctx context.Context, cfg *Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "Save", "settings encoding")
	}
	if _, err := s.kv.Put(ctx, settingsKey, data); err != nil {
		return errors.WrapTransient(err, "KVStore", "Save", "KV write")
	}
	return nil
}

// MemoryStore is an in-process Store for tests and the configurator's
// staging copy.
type MemoryStore struct {
	mu  sync.Mutex
	raw []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load reads and validates the stored settings.
func (s *MemoryStore) Load(_ context.Context) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "MemoryStore", "Load", "no settings stored")
	}
	return Parse(s.raw)
}

// Save validates and stores the settings.
func (s *MemoryStore) Save(_ context.Context, cfg *Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapInvalid(err, "MemoryStore", "Save", "settings encoding")
	}
	s.mu.Lock()
	s.raw = data
	s.mu.Unlock()
	return nil
}
