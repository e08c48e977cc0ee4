package profilefs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastDeriver keeps Argon2id cheap enough for tests
func fastDeriver() KeyDeriver {
	return NewArgon2idDeriver(Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1})
}

// testClock returns strictly increasing times
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newMemoryBackend(t testing.TB) *AbsBackend {
	t.Helper()
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("failed to create memory backend: %v", err)
	}
	return backend
}

func newTestConfig(t testing.TB) Config {
	t.Helper()
	return Config{
		Settings: DefaultSettings(),
		Backend:  newMemoryBackend(t),
		Logger:   discardLogger(),
		Clock:    newTestClock().Now,
	}
}

// initFS initializes a file system and shuts it down when the test ends.
func initFS(t testing.TB, cfg Config) *FileSystem {
	t.Helper()
	fsys := New()
	if err := fsys.Initialize(context.Background(), cfg); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { fsys.Shutdown(context.Background()) })
	return fsys
}

// newTestSession builds a session without a FileSystem for profile tests.
func newTestSession(t testing.TB, cfg Config) *session {
	t.Helper()
	resolved, err := cfg.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	sess, err := newSession(resolved)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	return sess
}

// newLoadedProfile returns a fresh, loaded user profile.
func newLoadedProfile(t testing.TB, sess *session, name string) *Profile {
	t.Helper()
	p := newProfile(sess, name, "", ProfileHeaderName)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return p
}

func activeProfile(t testing.TB, fsys *FileSystem) *Profile {
	t.Helper()
	p, err := fsys.Profile()
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	return p
}

func sharedProfile(t testing.TB, fsys *FileSystem) *Profile {
	t.Helper()
	p, err := fsys.SharedProfile()
	if err != nil {
		t.Fatalf("SharedProfile() error = %v", err)
	}
	return p
}

func profileNames(t testing.TB, fsys *FileSystem) []string {
	t.Helper()
	profiles, err := fsys.Profiles()
	if err != nil {
		t.Fatalf("Profiles() error = %v", err)
	}
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.DisplayName()
	}
	return names
}
