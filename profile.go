package profilefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// session is the state shared by every profile of one initialization.
type session struct {
	id        uuid.UUID
	storage   *FileStorage
	validator *Validator
	types     *TypeRegistry
	version   string
	logger    *slog.Logger
	now       func() time.Time
	forceSync bool
}

type entryKind uint8

const (
	entryTyped entryKind = iota + 1
	entryRaw
)

// entry is a cached value: either the decoded value or the stored bytes
// awaiting first typed access. Absent keys have no entry.
type entry struct {
	kind  entryKind
	value any
	raw   []byte
}

// profileRecord is the persisted form of a profile header file.
type profileRecord struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName"`
	FolderName  string        `json:"folderName"`
	HeaderName  string        `json:"headerName"`
	Created     time.Time     `json:"created"`
	Saved       time.Time     `json:"saved"`
	Version     string        `json:"version"`
	Headers     []*FileHeader `json:"headers"`
}

// Profile is one save slot: a header index of stored keys and, while loaded,
// an in-memory cache of their values.
//
// A Profile is not safe for concurrent use.
type Profile struct {
	id          uuid.UUID
	displayName string
	folderName  string
	headerName  string
	created     time.Time
	saved       time.Time
	version     string

	headers map[string]*FileHeader
	order   []string

	entries map[string]entry
	dirty   map[string]struct{}
	loaded  bool

	// bookkeeping marks the shared profile, whose FileSystem records are
	// not writable through the public key API.
	bookkeeping bool

	sess *session
}

func newProfile(sess *session, displayName, folderName, headerName string) *Profile {
	if folderName == "" {
		folderName = folderFor(displayName)
	}
	return &Profile{
		id:          uuid.New(),
		displayName: displayName,
		folderName:  folderName,
		headerName:  headerName,
		created:     sess.now(),
		headers:     make(map[string]*FileHeader),
		dirty:       make(map[string]struct{}),
		sess:        sess,
	}
}

// folderFor returns the folder name of a user profile
func folderFor(displayName string) string {
	return strings.ReplaceAll(displayName, " ", "_")
}

// loadProfile reads a profile header file. The returned profile is unloaded.
func loadProfile(ctx context.Context, sess *session, headerPath string) (*Profile, error) {
	res := sess.storage.Load(ctx, headerPath)
	if !res.Valid() {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, NewCorruptionError(headerPath, "header file is empty")
	}

	var rec profileRecord
	if err := sess.storage.Unmarshal(res.Data, &rec); err != nil {
		return nil, &CorruptionError{Path: headerPath, Message: "cannot decode header", Err: err}
	}
	if rec.FolderName == "" || rec.HeaderName == "" {
		return nil, NewCorruptionError(headerPath, "header has no folder or file name")
	}

	id, err := uuid.Parse(rec.ID)
	if err != nil {
		id = uuid.New()
	}
	p := &Profile{
		id:          id,
		displayName: rec.DisplayName,
		folderName:  rec.FolderName,
		headerName:  rec.HeaderName,
		created:     rec.Created,
		saved:       rec.Saved,
		version:     rec.Version,
		headers:     make(map[string]*FileHeader, len(rec.Headers)),
		dirty:       make(map[string]struct{}),
		sess:        sess,
	}
	for _, h := range rec.Headers {
		if h == nil || h.Key == "" {
			continue
		}
		if _, dup := p.headers[h.Key]; dup {
			continue
		}
		p.headers[h.Key] = h
		p.order = append(p.order, h.Key)
	}
	return p, nil
}

func (p *Profile) record() profileRecord {
	headers := make([]*FileHeader, 0, len(p.order))
	for _, key := range p.order {
		headers = append(headers, p.headers[key])
	}
	return profileRecord{
		ID:          p.id.String(),
		DisplayName: p.displayName,
		FolderName:  p.folderName,
		HeaderName:  p.headerName,
		Created:     p.created,
		Saved:       p.saved,
		Version:     p.version,
		Headers:     headers,
	}
}

// ID returns the persistent identifier of the profile
func (p *Profile) ID() uuid.UUID { return p.id }

// DisplayName returns the name the profile was created with
func (p *Profile) DisplayName() string { return p.displayName }

// FolderName returns the folder holding the profile files
func (p *Profile) FolderName() string { return p.folderName }

// HeaderName returns the header file name
func (p *Profile) HeaderName() string { return p.headerName }

// HeaderPath returns the path of the header file
func (p *Profile) HeaderPath() string { return path.Join(p.folderName, p.headerName) }

// Created returns the creation time
func (p *Profile) Created() time.Time { return p.created }

// Saved returns the time of the last header save
func (p *Profile) Saved() time.Time { return p.saved }

// Version returns the application version the profile was last saved with
func (p *Profile) Version() string { return p.version }

// IsLoaded reports whether the profile content is loaded
func (p *Profile) IsLoaded() bool { return p.loaded }

func (p *Profile) String() string { return p.displayName }

func (p *Profile) contentPath(key string) string {
	return path.Join(p.folderName, key)
}

// key checks that the profile is loaded, normalizes key and rejects the
// file names the profile keeps for itself.
func (p *Profile) key(key string) (string, error) {
	key, err := p.recordKey(key)
	if err != nil {
		return "", err
	}
	if p.isReserved(key) {
		return "", &ValidationError{
			Field:   "key",
			Value:   key,
			Message: "reserved file name",
		}
	}
	return key, nil
}

// recordKey is key without the reserved name check.
func (p *Profile) recordKey(key string) (string, error) {
	if !p.loaded {
		return "", fmt.Errorf("%w: %s", ErrProfileNotLoaded, p.displayName)
	}
	return p.sess.validator.ValidateKey(key)
}

// isReserved reports whether the normalized key names the header file or,
// in the shared profile, one of the FileSystem records.
func (p *Profile) isReserved(key string) bool {
	if key == p.headerName {
		return true
	}
	if !p.bookkeeping {
		return false
	}
	for _, name := range []string{FileSystemDataKey, ProfilePathsKey} {
		if n, err := p.sess.validator.ValidateKey(name); err == nil && n == key {
			return true
		}
	}
	return false
}

func (p *Profile) storedTag(key string) string {
	if h, ok := p.headers[key]; ok {
		return h.Type
	}
	return "unknown"
}

// touch creates or updates the header of key and marks it dirty.
func (p *Profile) touch(key, tag string, group FileGroup, opts []StoreOption) {
	now := p.sess.now()
	h, ok := p.headers[key]
	if !ok {
		h = &FileHeader{Key: key, Created: now}
		p.headers[key] = h
		p.order = append(p.order, key)
	}
	h.Type = tag
	h.Group = group
	h.Modified = now

	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	o.apply(h)

	p.dirty[key] = struct{}{}
}

// Store caches value under key and marks it dirty. Nothing is written until
// the profile or the key is saved.
func Store[T any](p *Profile, key string, value T, opts ...StoreOption) error {
	key, err := p.key(key)
	if err != nil {
		return err
	}
	put(p, key, value, opts)
	return nil
}

func put[T any](p *Profile, key string, value T, opts []StoreOption) {
	p.entries[key] = entry{kind: entryTyped, value: value}
	p.touch(key, TagOf[T](p.sess.types), GroupSerializable, opts)
}

// storeRecord is Store for the FileSystem records of the shared profile.
func storeRecord[T any](p *Profile, key string, value T) error {
	key, err := p.recordKey(key)
	if err != nil {
		return err
	}
	put(p, key, value, nil)
	return nil
}

// resolveRecord is Resolve for the FileSystem records of the shared profile.
func resolveRecord[T any](p *Profile, key string) (T, error) {
	key, err := p.recordKey(key)
	if err != nil {
		var zero T
		return zero, err
	}
	v, found, err := lookupKey[T](p, key)
	if err != nil || found {
		return v, err
	}
	v = newDefault[T]()
	put(p, key, v, nil)
	return v, nil
}

// saveRecord is SaveFile for the FileSystem records of the shared profile.
func (p *Profile) saveRecord(ctx context.Context, key string) error {
	key, err := p.recordKey(key)
	if err != nil {
		return err
	}
	return p.saveKey(ctx, key)
}

// Resolve returns the value under key, storing and returning a default
// value if there is none. Pointer and map defaults are allocated.
func Resolve[T any](p *Profile, key string) (T, error) {
	v, found, err := lookup[T](p, key)
	if err != nil || found {
		return v, err
	}
	v = newDefault[T]()
	if err := Store(p, key, v); err != nil {
		return v, err
	}
	return v, nil
}

// Get returns the value under key, or the zero value if there is none.
func Get[T any](p *Profile, key string) (T, error) {
	v, _, err := lookup[T](p, key)
	return v, err
}

// TryGet returns the value under key and whether it was found.
func TryGet[T any](p *Profile, key string) (T, bool, error) {
	return lookup[T](p, key)
}

func lookup[T any](p *Profile, key string) (value T, found bool, err error) {
	key, err = p.key(key)
	if err != nil {
		return value, false, err
	}
	return lookupKey[T](p, key)
}

func lookupKey[T any](p *Profile, key string) (value T, found bool, err error) {
	e, ok := p.entries[key]
	if !ok {
		return value, false, nil
	}

	want := TagOf[T](p.sess.types)
	switch e.kind {
	case entryTyped:
		v, ok := e.value.(T)
		if !ok {
			return value, false, &TypeMismatchError{Key: key, Stored: p.storedTag(key), Requested: want}
		}
		return v, true, nil

	case entryRaw:
		h := p.headers[key]
		if h == nil || h.Group == GroupOpaque || h.Type != want {
			return value, false, &TypeMismatchError{Key: key, Stored: p.storedTag(key), Requested: want}
		}
		if err := p.sess.storage.Unmarshal(e.raw, &value); err != nil {
			return value, false, &CorruptionError{Path: key, Message: "cannot decode as " + want, Err: err}
		}
		p.entries[key] = entry{kind: entryTyped, value: value}
		p.dirty[key] = struct{}{}
		return value, true, nil
	}
	return value, false, nil
}

// StoreRaw caches data under key as opaque bytes. Opaque keys are read back
// with GetRaw only.
func (p *Profile) StoreRaw(key string, data []byte, opts ...StoreOption) error {
	key, err := p.key(key)
	if err != nil {
		return err
	}
	p.entries[key] = entry{kind: entryRaw, raw: bytes.Clone(data)}
	p.touch(key, opaqueTag, GroupOpaque, opts)
	return nil
}

// GetRaw returns the stored bytes of key. Typed values are serialized.
func (p *Profile) GetRaw(key string) ([]byte, bool, error) {
	key, err := p.key(key)
	if err != nil {
		return nil, false, err
	}
	e, ok := p.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.kind == entryRaw {
		return bytes.Clone(e.raw), true, nil
	}
	data, err := p.sess.storage.Marshal(e.value)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// HasFile reports whether key holds a value, without decoding it.
func (p *Profile) HasFile(key string) (bool, error) {
	key, err := p.key(key)
	if err != nil {
		return false, err
	}
	_, ok := p.entries[key]
	return ok, nil
}

// SetDirty marks key as changed so the next SaveDirty writes it.
func (p *Profile) SetDirty(key string) error {
	key, err := p.key(key)
	if err != nil {
		return err
	}
	h, ok := p.headers[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	h.Modified = p.sess.now()
	p.dirty[key] = struct{}{}
	return nil
}

// IsDirty reports whether key has unsaved changes.
func (p *Profile) IsDirty(key string) bool {
	key, err := p.key(key)
	if err != nil {
		return false
	}
	_, ok := p.dirty[key]
	return ok
}

// DeleteEntry removes key and its file, then saves the header file.
func (p *Profile) DeleteEntry(ctx context.Context, key string) error {
	key, err := p.key(key)
	if err != nil {
		return err
	}
	delete(p.headers, key)
	delete(p.entries, key)
	delete(p.dirty, key)
	if i := slices.Index(p.order, key); i >= 0 {
		p.order = slices.Delete(p.order, i, i+1)
	}

	if err := p.sess.storage.Delete(ctx, p.contentPath(key)); err != nil {
		return err
	}
	return p.saveHeader(ctx)
}

// Header returns a copy of the header of key.
func (p *Profile) Header(key string) (FileHeader, bool) {
	key, err := p.sess.validator.ValidateKey(key)
	if err != nil {
		return FileHeader{}, false
	}
	h, ok := p.headers[key]
	if !ok {
		return FileHeader{}, false
	}
	return h.clone(), true
}

// Headers returns copies of all headers in registration order.
func (p *Profile) Headers() []FileHeader {
	out := make([]FileHeader, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.headers[key].clone())
	}
	return out
}

// Keys returns the stored keys in registration order.
func (p *Profile) Keys() []string {
	return slices.Clone(p.order)
}

// Save writes every stored key and the header file. An unloaded profile
// only writes its header file.
func (p *Profile) Save(ctx context.Context) error {
	var errs []error
	if p.loaded {
		for _, key := range p.order {
			if err := p.saveEntry(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			delete(p.dirty, key)
		}
	}
	errs = append(errs, p.saveHeader(ctx))
	return errors.Join(errs...)
}

// SaveDirty writes the keys changed since the last save and the header file.
func (p *Profile) SaveDirty(ctx context.Context) error {
	if !p.loaded {
		return fmt.Errorf("%w: %s", ErrProfileNotLoaded, p.displayName)
	}
	var errs []error
	for _, key := range p.order {
		if _, ok := p.dirty[key]; !ok {
			continue
		}
		if err := p.saveEntry(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(p.dirty, key)
	}
	errs = append(errs, p.saveHeader(ctx))
	return errors.Join(errs...)
}

// SaveFile writes one key and the header file.
func (p *Profile) SaveFile(ctx context.Context, key string) error {
	key, err := p.key(key)
	if err != nil {
		return err
	}
	return p.saveKey(ctx, key)
}

func (p *Profile) saveKey(ctx context.Context, key string) error {
	if _, ok := p.headers[key]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err := p.saveEntry(ctx, key); err != nil {
		return err
	}
	delete(p.dirty, key)
	return p.saveHeader(ctx)
}

func (p *Profile) saveEntry(ctx context.Context, key string) error {
	h := p.headers[key]
	e, ok := p.entries[key]
	if !ok || h == nil {
		return nil
	}

	data := e.raw
	if e.kind == entryTyped {
		var err error
		data, err = p.sess.storage.Marshal(e.value)
		if err != nil {
			return NewValidationError(key, h.Type, "cannot be serialized: "+err.Error())
		}
	}
	if err := p.sess.storage.SaveBytes(ctx, p.contentPath(key), data); err != nil {
		return err
	}
	h.Checksum = Checksum(data)
	return nil
}

func (p *Profile) saveHeader(ctx context.Context) error {
	p.saved = p.sess.now()
	p.version = p.sess.version
	return p.sess.storage.Save(ctx, p.HeaderPath(), p.record())
}

// Load reads every stored key into memory. Keys whose file is missing or
// unreadable are dropped with a warning, and the header file is rewritten.
func (p *Profile) Load(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	entries := make(map[string]entry, len(p.order))
	for i := len(p.order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := p.order[i]
		e, err := p.loadEntry(ctx, p.headers[key])
		if err != nil {
			p.sess.logger.Warn("dropping unreadable file",
				"profile", p.displayName, "key", key, "err", err)
			delete(p.headers, key)
			p.order = slices.Delete(p.order, i, i+1)
			continue
		}
		entries[key] = e
	}

	p.entries = entries
	p.dirty = make(map[string]struct{})
	p.loaded = true
	return p.saveHeader(ctx)
}

func (p *Profile) loadEntry(ctx context.Context, h *FileHeader) (entry, error) {
	res := p.sess.storage.Load(ctx, p.contentPath(h.Key))
	switch res.Status {
	case LoadInvalid:
		return entry{}, res.Err
	case LoadEmpty:
		if h.Group != GroupOpaque {
			return entry{}, NewCorruptionError(h.Key, "file is empty")
		}
	}
	if err := p.sess.validator.CheckContent(h.Key, res.Data, h.Checksum); err != nil {
		return entry{}, err
	}

	if h.Group == GroupOpaque {
		return entry{kind: entryRaw, raw: res.Data}, nil
	}
	v, ok, err := p.sess.types.decode(p.sess.storage.serializer, h.Type, res.Data)
	if err != nil {
		return entry{}, &CorruptionError{Path: h.Key, Message: "cannot decode as " + h.Type, Err: err}
	}
	if !ok {
		return entry{kind: entryRaw, raw: res.Data}, nil
	}
	return entry{kind: entryTyped, value: v}, nil
}

// Unload drops cached values. Headers and identity are kept.
func (p *Profile) Unload() {
	p.entries = nil
	p.dirty = make(map[string]struct{})
	p.loaded = false
}

// LoadAsync runs Load on its own goroutine
func (p *Profile) LoadAsync(ctx context.Context) *Future[struct{}] {
	return goAsyncErr(p.sess.forceSync, func() error { return p.Load(ctx) })
}

// SaveAsync runs Save on its own goroutine
func (p *Profile) SaveAsync(ctx context.Context) *Future[struct{}] {
	return goAsyncErr(p.sess.forceSync, func() error { return p.Save(ctx) })
}

// SaveDirtyAsync runs SaveDirty on its own goroutine
func (p *Profile) SaveDirtyAsync(ctx context.Context) *Future[struct{}] {
	return goAsyncErr(p.sess.forceSync, func() error { return p.SaveDirty(ctx) })
}

// SaveFileAsync runs SaveFile on its own goroutine
func (p *Profile) SaveFileAsync(ctx context.Context, key string) *Future[struct{}] {
	return goAsyncErr(p.sess.forceSync, func() error { return p.SaveFile(ctx, key) })
}

// contentPaths returns the path of every stored file of the profile.
func (p *Profile) contentPaths() []string {
	paths := make([]string, 0, len(p.order)+1)
	for _, key := range p.order {
		paths = append(paths, p.contentPath(key))
	}
	return paths
}

// clear deletes all content files and forgets every key. The profile must
// be unloaded.
func (p *Profile) clear(ctx context.Context) error {
	var errs []error
	for _, name := range p.contentPaths() {
		if err := p.sess.storage.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	p.headers = make(map[string]*FileHeader)
	p.order = nil
	p.entries = nil
	p.dirty = make(map[string]struct{})
	return errors.Join(errs...)
}

// deleteFiles removes all content files, the header file and the folder.
func (p *Profile) deleteFiles(ctx context.Context) error {
	errs := []error{p.clear(ctx)}
	errs = append(errs,
		p.sess.storage.Delete(ctx, p.HeaderPath()),
		p.sess.storage.DeleteFolder(ctx, p.folderName),
	)
	return errors.Join(errs...)
}
