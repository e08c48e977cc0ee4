package profilefs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacySettings = `{
	"volume": 0.5,
	"name": "Ada",
	"muted": true,
	"binds": {"jump":"space"}
}`

func TestJSONMapConverter(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	require.NoError(t, cfg.Backend.WriteFile(ctx, "legacy/settings.json", []byte(legacySettings)))
	cfg.Converter = &JSONMapConverter{Path: "legacy/settings.json"}

	fsys := New()
	require.NoError(t, fsys.Initialize(ctx, cfg))
	p := activeProfile(t, fsys)

	volume, err := Get[float64](p, "volume")
	require.NoError(t, err)
	assert.Equal(t, 0.5, volume)

	name, err := Get[string](p, "name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	muted, err := Get[bool](p, "muted")
	require.NoError(t, err)
	assert.True(t, muted)

	binds, ok, err := p.GetRaw("binds")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"jump":"space"}`, string(binds))

	require.NoError(t, Store(p, "name", "Grace"))
	require.NoError(t, p.SaveFile(ctx, "name"))
	require.NoError(t, fsys.Shutdown(ctx))

	// A second run must not overwrite values changed since the import.
	require.NoError(t, fsys.Initialize(ctx, cfg))
	defer fsys.Shutdown(ctx)
	name, err = Get[string](activeProfile(t, fsys), "name")
	require.NoError(t, err)
	assert.Equal(t, "Grace", name)
}

func TestJSONMapConverter_IntoShared(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	require.NoError(t, cfg.Backend.WriteFile(ctx, "old.json", []byte(`{"unlocked": true}`)))
	cfg.Converter = &JSONMapConverter{Path: "old.json", IntoShared: true}

	fsys := initFS(t, cfg)

	ok, err := activeProfile(t, fsys).HasFile("unlocked")
	require.NoError(t, err)
	assert.False(t, ok, "value imported into the active profile")

	unlocked, err := Get[bool](sharedProfile(t, fsys), "unlocked")
	require.NoError(t, err)
	assert.True(t, unlocked)
}

func TestJSONMapConverter_MissingAndBrokenFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is skipped", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Converter = &JSONMapConverter{Path: "nothing.json"}
		initFS(t, cfg)
	})

	t.Run("broken file fails initialization", func(t *testing.T) {
		cfg := newTestConfig(t)
		require.NoError(t, cfg.Backend.WriteFile(ctx, "broken.json", []byte(`{"a":`)))
		cfg.Converter = &JSONMapConverter{Path: "broken.json"}

		fsys := New()
		err := fsys.Initialize(ctx, cfg)
		require.Error(t, err)
		assert.Equal(t, StateUninitialized, fsys.State())
	})
}

func TestConverterFunc(t *testing.T) {
	cfg := newTestConfig(t)
	calls := 0
	cfg.Converter = ConverterFunc(func(ctx context.Context, legacy *FileStorage, active, shared *Profile) error {
		calls++
		if legacy == nil || active == nil || shared == nil {
			return errors.New("missing converter argument")
		}
		if !active.IsLoaded() || !shared.IsLoaded() {
			return errors.New("profiles not loaded")
		}
		return Store(active, "converted", true)
	})

	fsys := initFS(t, cfg)
	assert.Equal(t, 1, calls)

	converted, err := Get[bool](activeProfile(t, fsys), "converted")
	require.NoError(t, err)
	assert.True(t, converted)
}
