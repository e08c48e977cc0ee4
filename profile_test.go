package profilefs

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reload reads the profile back from its header file and loads it.
func reload(t *testing.T, sess *session, p *Profile) *Profile {
	t.Helper()
	loaded, err := loadProfile(context.Background(), sess, p.HeaderPath())
	require.NoError(t, err)
	require.NoError(t, loaded.Load(context.Background()))
	return loaded
}

func TestProfile_StoreAndGet(t *testing.T) {
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "score", 42))
	got, err := Get[int](p, "score")
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	v, ok, err := TryGet[string](p, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)

	zero, err := Get[float64](p, "missing")
	require.NoError(t, err)
	assert.Zero(t, zero)

	ok, err = p.HasFile("score")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.IsDirty("score"))
	assert.Equal(t, []string{"score"}, p.Keys())
}

func TestProfile_Resolve(t *testing.T) {
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")

	first, err := Resolve[*inventory](p, "bag")
	require.NoError(t, err)
	require.NotNil(t, first)
	first.Gold = 10

	second, err := Resolve[*inventory](p, "bag")
	require.NoError(t, err)
	assert.Same(t, first, second, "Resolve should return the stored value")
	assert.Equal(t, 10, second.Gold)

	m, err := Resolve[map[string]string](p, "binds")
	require.NoError(t, err)
	m["jump"] = "space"

	n, err := Resolve[int](p, "count")
	require.NoError(t, err)
	assert.Zero(t, n)

	h, ok := p.Header("count")
	require.True(t, ok)
	assert.Equal(t, "int", h.Type)
}

func TestProfile_TypeMismatch(t *testing.T) {
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")
	require.NoError(t, Store(p, "score", 42))

	_, err := Get[string](p, "score")
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "score", mismatch.Key)
	assert.Equal(t, "int", mismatch.Stored)
	assert.Equal(t, "string", mismatch.Requested)

	_, err = Resolve[string](p, "score")
	assert.True(t, IsTypeMismatch(err), "Resolve must not overwrite a value of another type")

	got, err := Get[int](p, "score")
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestProfile_NotLoaded(t *testing.T) {
	sess := newTestSession(t, newTestConfig(t))
	p := newProfile(sess, "Save A", "", ProfileHeaderName)

	checks := map[string]error{
		"Store":     Store(p, "a", 1),
		"StoreRaw":  p.StoreRaw("a", []byte("x")),
		"SetDirty":  p.SetDirty("a"),
		"SaveDirty": p.SaveDirty(context.Background()),
		"SaveFile":  p.SaveFile(context.Background(), "a"),
	}
	_, err := Get[int](p, "a")
	checks["Get"] = err
	_, err = p.HasFile("a")
	checks["HasFile"] = err

	for name, err := range checks {
		assert.ErrorIs(t, err, ErrProfileNotLoaded, name)
	}
	assert.False(t, p.IsDirty("a"))
}

func TestProfile_InvalidKey(t *testing.T) {
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")

	err := Store(p, "../escape", 1)
	assert.True(t, IsValidationError(err), "got %v", err)
	assert.Empty(t, p.Keys())
}

func TestProfile_ReservedKeys(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		extension string
		shared    bool
		key       string
		reserved  bool
	}{
		{name: "slot header", key: ProfileHeaderName, reserved: true},
		{name: "slot header completed by extension", extension: ".sav", key: "_slot", reserved: true},
		{name: "slot header with other extension", extension: ".dat", key: ProfileHeaderName},
		{name: "record name in a user profile", key: FileSystemDataKey},
		{name: "shared header", shared: true, key: SharedProfileHeader, reserved: true},
		{name: "file system data", shared: true, key: FileSystemDataKey, reserved: true},
		{name: "profile paths", shared: true, key: ProfilePathsKey, reserved: true},
		{name: "profile paths completed by extension", shared: true, extension: ".sav", key: "profiles", reserved: true},
		{name: "file system data with other extension", shared: true, extension: ".dat", key: FileSystemDataKey, reserved: true},
		{name: "shared application key", shared: true, key: "language.sav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.FileExtension = tt.extension
			sess := newTestSession(t, cfg)

			p := newProfile(sess, "Save A", "", ProfileHeaderName)
			if tt.shared {
				p = newProfile(sess, SharedProfileName, SharedProfileFolder, SharedProfileHeader)
				p.bookkeeping = true
			}
			require.NoError(t, p.Load(ctx))

			err := Store(p, tt.key, "value")
			if !tt.reserved {
				require.NoError(t, err)
				require.NoError(t, p.Save(ctx))
				got, err := Get[string](reload(t, sess, p), tt.key)
				require.NoError(t, err)
				assert.Equal(t, "value", got)
				return
			}

			assert.True(t, IsValidationError(err), "Store() error = %v", err)
			assert.True(t, IsValidationError(p.StoreRaw(tt.key, []byte("x"))))
			assert.True(t, IsValidationError(p.DeleteEntry(ctx, tt.key)))
			assert.True(t, IsValidationError(p.SaveFile(ctx, tt.key)))
			_, _, err = TryGet[string](p, tt.key)
			assert.True(t, IsValidationError(err), "TryGet() error = %v", err)
			assert.Empty(t, p.Keys())
		})
	}
}

func TestProfile_PersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.FileExtension = ".sav"
	sess := newTestSession(t, cfg)
	p := newLoadedProfile(t, sess, "Save A")

	bag := inventory{Items: []string{"sword", "shield"}, Gold: 99}
	require.NoError(t, Store(p, "score", 42))
	require.NoError(t, Store(p, "name", "Ada"))
	require.NoError(t, Store(p, "ratio", 0.75))
	require.NoError(t, Store(p, "tags", []string{"a", "b"}))
	require.NoError(t, Store(p, "bag", bag, WithTags("inventory")))
	require.NoError(t, p.StoreRaw("blob", []byte{0, 1, 2}))
	require.NoError(t, p.Save(ctx))
	assert.False(t, p.IsDirty("score"))

	got := reload(t, sess, p)
	assert.Equal(t, p.ID(), got.ID())
	assert.Equal(t, "Save A", got.DisplayName())
	assert.Equal(t, "Save_A", got.FolderName())
	assert.Equal(t, []string{"score.sav", "name.sav", "ratio.sav", "tags.sav", "bag.sav", "blob.sav"}, got.Keys())

	score, err := Get[int](got, "score")
	require.NoError(t, err)
	assert.Equal(t, 42, score)

	name, err := Get[string](got, "name.sav")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	ratio, err := Get[float64](got, "ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.75, ratio)

	tags, err := Get[[]string](got, "tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)

	// Unregistered types stay raw until read with their own type.
	assert.False(t, got.IsDirty("bag"))
	gotBag, err := Get[inventory](got, "bag")
	require.NoError(t, err)
	if diff := cmp.Diff(bag, gotBag); diff != "" {
		t.Errorf("bag mismatch (-want +got):\n%s", diff)
	}
	h, ok := got.Header("bag")
	require.True(t, ok)
	assert.True(t, h.HasTag("inventory"))

	blob, ok, err := got.GetRaw("blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2}, blob)

	_, err = Get[string](got, "blob")
	assert.True(t, IsTypeMismatch(err), "opaque values must not decode as typed values")
}

func TestProfile_UnregisteredTypeMismatch(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "bag", inventory{Gold: 1}))
	require.NoError(t, p.Save(ctx))

	got := reload(t, sess, p)
	_, err := Get[*inventory](got, "bag")
	assert.True(t, IsTypeMismatch(err), "got %v", err)
}

func TestProfile_MissingFileDropped(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	sess := newTestSession(t, cfg)
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "kept", 1))
	require.NoError(t, Store(p, "lost", 2))
	require.NoError(t, p.Save(ctx))
	require.NoError(t, cfg.Backend.Remove(ctx, "Save_A/lost"))

	got := reload(t, sess, p)
	assert.Equal(t, []string{"kept"}, got.Keys())
	ok, err := got.HasFile("lost")
	require.NoError(t, err)
	assert.False(t, ok)

	// The header file was rewritten without the missing key.
	header, err := loadProfile(ctx, sess, p.HeaderPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, header.Keys())
}

func TestProfile_ContentVerification(t *testing.T) {
	for _, verify := range []bool{false, true} {
		ctx := context.Background()
		cfg := newTestConfig(t)
		cfg.VerifyContent = verify
		sess := newTestSession(t, cfg)
		p := newLoadedProfile(t, sess, "Save A")

		require.NoError(t, Store(p, "score", 42))
		require.NoError(t, p.Save(ctx))
		h, _ := p.Header("score")
		assert.Equal(t, Checksum([]byte("42")), h.Checksum)

		require.NoError(t, cfg.Backend.WriteFile(ctx, "Save_A/score", []byte("99")))

		got := reload(t, sess, p)
		v, ok, err := TryGet[int](got, "score")
		require.NoError(t, err)
		if verify {
			assert.False(t, ok, "tampered file should be dropped")
		} else {
			assert.True(t, ok)
			assert.Equal(t, 99, v)
		}
	}
}

func TestProfile_DirtyTracking(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	sess := newTestSession(t, cfg)
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "a", 1))
	require.NoError(t, Store(p, "b", 2))
	require.NoError(t, p.SaveFile(ctx, "a"))
	assert.False(t, p.IsDirty("a"))
	assert.True(t, p.IsDirty("b"))

	exists, err := sess.storage.Exists(ctx, "Save_A/b")
	require.NoError(t, err)
	assert.False(t, exists, "SaveFile wrote another key")

	require.NoError(t, p.SaveDirty(ctx))
	assert.False(t, p.IsDirty("b"))

	require.NoError(t, p.SetDirty("a"))
	assert.True(t, p.IsDirty("a"))

	assert.ErrorIs(t, p.SetDirty("nope"), ErrKeyNotFound)
	assert.ErrorIs(t, p.SaveFile(ctx, "nope"), ErrKeyNotFound)
}

func TestProfile_DeleteEntry(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	sess := newTestSession(t, cfg)
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "a", 1))
	require.NoError(t, Store(p, "b", 2))
	require.NoError(t, p.Save(ctx))
	require.NoError(t, p.DeleteEntry(ctx, "a"))

	assert.Equal(t, []string{"b"}, p.Keys())
	ok, err := cfg.Backend.Exists(ctx, "Save_A/a")
	require.NoError(t, err)
	assert.False(t, ok)

	header, err := loadProfile(ctx, sess, p.HeaderPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, header.Keys())
}

func TestProfile_Tags(t *testing.T) {
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "a", 1, WithTags("x", "y")))
	require.NoError(t, Store(p, "a", 2, AddTags("y", "z")))
	h, _ := p.Header("a")
	assert.Equal(t, []string{"x", "y", "z"}, h.Tags)

	require.NoError(t, Store(p, "a", 3, WithTags("only")))
	h, _ = p.Header("a")
	assert.Equal(t, []string{"only"}, h.Tags)

	require.NoError(t, Store(p, "a", 4))
	h, _ = p.Header("a")
	assert.Equal(t, []string{"only"}, h.Tags, "Store without options keeps tags")

	h.Tags[0] = "mutated"
	again, _ := p.Header("a")
	assert.Equal(t, "only", again.Tags[0], "Header must return a copy")
}

func TestProfile_Unload(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "a", 1))
	require.NoError(t, p.Save(ctx))
	p.Unload()

	assert.False(t, p.IsLoaded())
	assert.Equal(t, []string{"a"}, p.Keys(), "headers survive Unload")
	_, err := p.HasFile("a")
	assert.ErrorIs(t, err, ErrProfileNotLoaded)

	require.NoError(t, p.Load(ctx))
	v, err := Get[int](p, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestProfile_Async(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, newTestConfig(t))
	p := newLoadedProfile(t, sess, "Save A")

	require.NoError(t, Store(p, "a", 1))
	_, err := p.SaveFileAsync(ctx, "a").Result()
	require.NoError(t, err)
	_, err = p.SaveDirtyAsync(ctx).Result()
	require.NoError(t, err)
	_, err = p.SaveAsync(ctx).Result()
	require.NoError(t, err)

	p.Unload()
	_, err = p.LoadAsync(ctx).Result()
	require.NoError(t, err)
	assert.True(t, p.IsLoaded())
}

func TestLoadProfile_Errors(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	sess := newTestSession(t, cfg)

	_, err := loadProfile(ctx, sess, "absent/_slot.sav")
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)

	require.NoError(t, cfg.Backend.WriteFile(ctx, "broken/_slot.sav", []byte("{not json")))
	_, err = loadProfile(ctx, sess, "broken/_slot.sav")
	assert.True(t, IsCorruptionError(err), "got %v", err)

	require.NoError(t, cfg.Backend.WriteFile(ctx, "nameless/_slot.sav", []byte(`{"displayName":"x"}`)))
	_, err = loadProfile(ctx, sess, "nameless/_slot.sav")
	assert.True(t, IsCorruptionError(err), "got %v", err)
}
