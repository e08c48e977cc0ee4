package profilefs

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
)

// LoadStatus is the outcome of a FileStorage load.
type LoadStatus uint8

const (
	// LoadInvalid means the file is missing, unreadable or could not be
	// decrypted.
	LoadInvalid LoadStatus = iota
	// LoadEmpty means the file exists but holds no content.
	LoadEmpty
	// LoadValid means Data holds the decrypted content.
	LoadValid
)

// String returns the string representation of the load status
func (s LoadStatus) String() string {
	switch s {
	case LoadInvalid:
		return "invalid"
	case LoadEmpty:
		return "empty"
	case LoadValid:
		return "valid"
	default:
		return "unknown"
	}
}

// LoadResult is returned by FileStorage.Load. Err explains an invalid result.
type LoadResult struct {
	Status LoadStatus
	Data   []byte
	Err    error
}

// Valid reports whether Data holds decrypted content.
func (r LoadResult) Valid() bool {
	return r.Status == LoadValid
}

// NotFound reports whether the result is invalid because the file is missing.
func (r LoadResult) NotFound() bool {
	return r.Status == LoadInvalid && errors.Is(r.Err, fs.ErrNotExist)
}

// StorageConfig configures a FileStorage.
type StorageConfig struct {
	// Backend performs the file I/O
	Backend Backend

	// Encryption providers; the first encrypts, all are tried to decrypt.
	// Empty means NoEncryption, which may only come last.
	Encryption []EncryptionProvider

	// Key is passed to the providers
	Key string

	// Root is prepended to every path
	Root string

	// Serializer encodes values passed to Save. Defaults to JSONSerializer.
	Serializer Serializer

	Logger *slog.Logger

	// FailureLevel is the level load and save failures are logged at.
	// Nil disables failure logging.
	FailureLevel *slog.Level

	// ForceSynchronous runs the Async variants inline
	ForceSynchronous bool
}

// FileStorage saves and loads encrypted files through a Backend. Load never
// returns an error; failures are reported through LoadResult.
type FileStorage struct {
	backend    Backend
	chain      *ProviderChain
	key        string
	root       string
	serializer Serializer
	logger     *slog.Logger
	failLevel  *slog.Level
	forceSync  bool
}

// NewFileStorage creates a FileStorage
func NewFileStorage(cfg StorageConfig) (*FileStorage, error) {
	if cfg.Backend == nil {
		return nil, ErrNilBackend
	}
	providers := cfg.Encryption
	if len(providers) == 0 {
		providers = []EncryptionProvider{NoEncryption{}}
	}
	chain, err := NewProviderChain(providers...)
	if err != nil {
		return nil, err
	}
	serializer := cfg.Serializer
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStorage{
		backend:    cfg.Backend,
		chain:      chain,
		key:        cfg.Key,
		root:       cfg.Root,
		serializer: serializer,
		logger:     logger.With("component", "storage"),
		failLevel:  cfg.FailureLevel,
		forceSync:  cfg.ForceSynchronous,
	}, nil
}

// Backend returns the underlying backend
func (s *FileStorage) Backend() Backend {
	return s.backend
}

func (s *FileStorage) path(name string) string {
	if s.root == "" {
		return name
	}
	return path.Join(s.root, name)
}

func (s *FileStorage) fail(msg string, args ...any) {
	if s.failLevel == nil {
		return
	}
	s.logger.Log(context.Background(), *s.failLevel, msg, args...)
}

// Marshal serializes v with the storage serializer
func (s *FileStorage) Marshal(v any) ([]byte, error) {
	return s.serializer.Marshal(v)
}

// Unmarshal deserializes data with the storage serializer
func (s *FileStorage) Unmarshal(data []byte, v any) error {
	return s.serializer.Unmarshal(data, v)
}

// Save serializes v and writes it to name
func (s *FileStorage) Save(ctx context.Context, name string, v any) error {
	data, err := s.serializer.Marshal(v)
	if err != nil {
		return NewValidationError("value", name, "cannot be serialized: "+err.Error())
	}
	return s.SaveBytes(ctx, name, data)
}

// SaveBytes encrypts data with the primary provider and writes it to name
func (s *FileStorage) SaveBytes(ctx context.Context, name string, data []byte) error {
	p := s.path(name)
	encrypted, err := s.chain.Encrypt(data, s.key)
	if err != nil {
		s.fail("encrypt failed", "path", p, "err", err)
		return &EncryptionError{
			Operation: "encrypt",
			Path:      p,
			Provider:  s.chain.Primary().Name(),
			Message:   err.Error(),
			Err:       err,
		}
	}
	if err := s.backend.WriteFile(ctx, p, encrypted); err != nil {
		s.fail("write failed", "path", p, "err", err)
		return NewIOError("write", p, err)
	}
	return nil
}

// Load reads and decrypts name
func (s *FileStorage) Load(ctx context.Context, name string) LoadResult {
	p := s.path(name)
	raw, err := s.backend.ReadFile(ctx, p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.fail("read failed", "path", p, "err", err)
		}
		return LoadResult{Status: LoadInvalid, Err: NewIOError("read", p, err)}
	}
	if len(raw) == 0 {
		return LoadResult{Status: LoadEmpty}
	}

	plaintext, _, err := s.chain.TryDecrypt(raw, s.key)
	if err != nil {
		s.fail("decrypt failed", "path", p, "err", err)
		return LoadResult{Status: LoadInvalid, Err: NewEncryptionError("decrypt", p, err)}
	}
	if len(plaintext) == 0 {
		return LoadResult{Status: LoadEmpty}
	}
	return LoadResult{Status: LoadValid, Data: plaintext}
}

// Exists reports whether name is present in the backend
func (s *FileStorage) Exists(ctx context.Context, name string) (bool, error) {
	return s.backend.Exists(ctx, s.path(name))
}

// Delete removes name. Missing files are not an error.
func (s *FileStorage) Delete(ctx context.Context, name string) error {
	p := s.path(name)
	if err := s.backend.Remove(ctx, p); err != nil {
		s.fail("delete failed", "path", p, "err", err)
		return NewIOError("delete", p, err)
	}
	return nil
}

// DeleteFolder removes a folder and everything below it
func (s *FileStorage) DeleteFolder(ctx context.Context, name string) error {
	p := s.path(name)
	if err := s.backend.RemoveAll(ctx, p); err != nil {
		s.fail("delete folder failed", "path", p, "err", err)
		return NewIOError("delete", p, err)
	}
	return nil
}

// Flush flushes buffered backend writes, if the backend buffers
func (s *FileStorage) Flush(ctx context.Context) error {
	f, ok := s.backend.(Flusher)
	if !ok {
		return nil
	}
	if err := f.Flush(ctx); err != nil {
		return NewIOError("flush", s.root, err)
	}
	return nil
}

// SaveAsync runs Save on its own goroutine
func (s *FileStorage) SaveAsync(ctx context.Context, name string, v any) *Future[struct{}] {
	return goAsyncErr(s.forceSync, func() error { return s.Save(ctx, name, v) })
}

// SaveBytesAsync runs SaveBytes on its own goroutine
func (s *FileStorage) SaveBytesAsync(ctx context.Context, name string, data []byte) *Future[struct{}] {
	return goAsyncErr(s.forceSync, func() error { return s.SaveBytes(ctx, name, data) })
}

// LoadAsync runs Load on its own goroutine
func (s *FileStorage) LoadAsync(ctx context.Context, name string) *Future[LoadResult] {
	return goAsync(s.forceSync, func() (LoadResult, error) { return s.Load(ctx, name), nil })
}

// DeleteAsync runs Delete on its own goroutine
func (s *FileStorage) DeleteAsync(ctx context.Context, name string) *Future[struct{}] {
	return goAsyncErr(s.forceSync, func() error { return s.Delete(ctx, name) })
}

// DeleteFolderAsync runs DeleteFolder on its own goroutine
func (s *FileStorage) DeleteFolderAsync(ctx context.Context, name string) *Future[struct{}] {
	return goAsyncErr(s.forceSync, func() error { return s.DeleteFolder(ctx, name) })
}

// FlushAsync runs Flush on its own goroutine
func (s *FileStorage) FlushAsync(ctx context.Context) *Future[struct{}] {
	return goAsyncErr(s.forceSync, func() error { return s.Flush(ctx) })
}
