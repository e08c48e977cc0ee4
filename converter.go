package profilefs

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Converter imports legacy data during initialization. It runs once per
// initialization, after the active profile is loaded, and must be
// idempotent: running it again on already converted data must not change it.
type Converter interface {
	// Storage configures the FileStorage legacy data is read from. A nil
	// Backend or Serializer reuses the file system's.
	Storage() StorageConfig

	// Convert copies legacy data into the active or shared profile.
	Convert(ctx context.Context, legacy *FileStorage, active, shared *Profile) error
}

// ConverterFunc adapts a function into a Converter that reads legacy data
// with the file system's own backend and no encryption.
type ConverterFunc func(ctx context.Context, legacy *FileStorage, active, shared *Profile) error

func (f ConverterFunc) Storage() StorageConfig { return StorageConfig{} }

func (f ConverterFunc) Convert(ctx context.Context, legacy *FileStorage, active, shared *Profile) error {
	return f(ctx, legacy, active, shared)
}

// JSONMapConverter imports a flat JSON object of key -> value from a legacy
// file. Strings, booleans and numbers are stored as string, bool and
// float64; any other value is stored as opaque JSON bytes. Keys already
// present in the target are left untouched.
type JSONMapConverter struct {
	// Path of the legacy file inside the legacy storage
	Path string

	// IntoShared imports into the shared profile instead of the active one
	IntoShared bool

	// Legacy configures the legacy storage
	Legacy StorageConfig
}

func (c *JSONMapConverter) Storage() StorageConfig { return c.Legacy }

func (c *JSONMapConverter) Convert(ctx context.Context, legacy *FileStorage, active, shared *Profile) error {
	res := legacy.Load(ctx, c.Path)
	if !res.Valid() {
		return nil
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(res.Data, &values); err != nil {
		return fmt.Errorf("decoding legacy file %s: %w", c.Path, err)
	}

	target := active
	if c.IntoShared {
		target = shared
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	imported := 0
	for _, k := range keys {
		ok, err := target.HasFile(k)
		if err != nil {
			return fmt.Errorf("importing %s: %w", k, err)
		}
		if ok {
			continue
		}
		if err := importValue(target, k, values[k]); err != nil {
			return fmt.Errorf("importing %s: %w", k, err)
		}
		imported++
	}

	if imported > 0 {
		target.sess.logger.Info("imported legacy data",
			"path", c.Path, "profile", target.DisplayName(), "keys", imported)
	}
	return nil
}

func importValue(p *Profile, key string, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		return Store(p, key, v)
	case bool:
		return Store(p, key, v)
	case float64:
		return Store(p, key, v)
	default:
		return p.StoreRaw(key, raw)
	}
}
