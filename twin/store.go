package twin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/natsclient"
	"github.com/c360/semtwin/snapshot"
)

// Record is the persisted form of one resource
type Record struct {
	Model     string                `json:"model"`
	Provider  string                `json:"provider"`
	Service   string                `json:"service"`
	Resource  string                `json:"resource"`
	Type      string                `json:"type,omitempty"`
	Kind      snapshot.ResourceKind `json:"kind"`
	Value     any                   `json:"value,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
}

func recordOf(p *provider, serviceName string, r *resource) Record {
	return Record{
		Model:     p.model,
		Provider:  p.name,
		Service:   serviceName,
		Resource:  r.name,
		Type:      r.typ,
		Kind:      r.kind,
		Value:     snapshot.CopyValue(r.value.Value),
		Timestamp: r.value.Timestamp,
		Metadata:  snapshot.CopyMap(r.metadata),
	}
}

// Store persists resource records
type Store interface {
	Save(ctx context.Context, records []Record) error
	Delete(ctx context.Context, provider string) error
	Load(ctx context.Context) ([]Record, error)
}

// KVStore persists records in a JetStream key-value bucket, one key per
// resource: <provider>.<service>.<resource>
type KVStore struct {
	kv *natsclient.KVStore
}

// NewKVStore wraps a key-value store
func NewKVStore(kv *natsclient.KVStore) *KVStore {
	return &KVStore{kv: kv}
}

// Save writes every record
func (s *KVStore) Save(ctx context.Context, records []Record) error {
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.WrapInvalid(err, "KVStore", "Save", "marshal record")
		}
		if _, err := s.kv.Put(ctx, RecordKey(rec.Provider, rec.Service, rec.Resource), data); err != nil {
			return errors.Wrap(err, "KVStore", "Save", "put record")
		}
	}
	return nil
}

// Delete removes every record of a provider
func (s *KVStore) Delete(ctx context.Context, providerName string) error {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "KVStore", "Delete", "list keys")
	}
	prefix := kvToken(providerName) + "."
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil && !natsclient.IsKVNotFoundError(err) {
			return errors.Wrap(err, "KVStore", "Delete", "delete "+key)
		}
	}
	return nil
}

// Load reads every record in the bucket
func (s *KVStore) Load(ctx context.Context) ([]Record, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "KVStore", "Load", "list keys")
	}
	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, errors.Wrap(err, "KVStore", "Load", "get "+key)
		}
		var rec Record
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			return nil, errors.WrapInvalid(err, "KVStore", "Load", "unmarshal "+key)
		}
		records = append(records, rec)
	}
	return records, nil
}

// RecordKey builds the bucket key of one resource
func RecordKey(providerName, serviceName, resourceName string) string {
	return kvToken(providerName) + "." + kvToken(serviceName) + "." + kvToken(resourceName)
}

// kvToken keeps characters valid in a bucket key token and hex escapes the
// rest with "="
func kvToken(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}
